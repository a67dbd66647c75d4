package telemetry

import "time"

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
	dayWindow    = 24 * time.Hour

	minuteWindowCap = 1000
	hourWindowCap   = 1000
	dayWindowCap    = 10000
)

// rateWindows tracks occurrence timestamps over three sliding windows. Each
// slice is pruned to its nominal duration on every observation and hard-capped
// so a sustained error storm cannot grow memory without bound. Once a cap
// engages, counts under-report the true rate; consumers must treat window
// counts as a bounded approximation.
type rateWindows struct {
	lastMinute []time.Time
	lastHour   []time.Time
	lastDay    []time.Time
}

func newRateWindows() *rateWindows {
	return &rateWindows{}
}

// observe records one occurrence and prunes all three windows. Must run under
// the owner's write lock.
func (w *rateWindows) observe(ts, now time.Time) {
	w.lastMinute = appendPruned(w.lastMinute, ts, now, minuteWindow, minuteWindowCap)
	w.lastHour = appendPruned(w.lastHour, ts, now, hourWindow, hourWindowCap)
	w.lastDay = appendPruned(w.lastDay, ts, now, dayWindow, dayWindowCap)
}

func appendPruned(window []time.Time, ts, now time.Time, span time.Duration, limit int) []time.Time {
	window = append(window, ts)
	cutoff := now.Add(-span)
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) > limit {
		kept = append(window[:0], kept[len(kept)-limit:]...)
	}
	return kept
}

// counts re-filters each window against now without mutating, so it is safe
// under a shared read lock.
func (w *rateWindows) counts(now time.Time) (minute, hour, day int) {
	return countWithin(w.lastMinute, now, minuteWindow),
		countWithin(w.lastHour, now, hourWindow),
		countWithin(w.lastDay, now, dayWindow)
}

func countWithin(window []time.Time, now time.Time, span time.Duration) int {
	cutoff := now.Add(-span)
	n := 0
	for _, t := range window {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func (w *rateWindows) clear() {
	w.lastMinute = nil
	w.lastHour = nil
	w.lastDay = nil
}
