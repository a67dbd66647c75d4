package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/splax/errwatch/internal/domain"
)

// Recognized time windows for statistics queries.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
	WindowDay    = "day"
	WindowWeek   = "week"
	WindowAll    = "all"
)

const (
	topErrorsLimit      = 10
	recentErrorsLimit   = 20
	defaultSimilarLimit = 10
	similarityThreshold = 0.7
)

// StatisticsQuery narrows a statistics report to a time window and optional
// exact-match category and type filters.
type StatisticsQuery struct {
	TimeWindow string
	Category   string
	Type       string
}

// windowSpan maps a window name to its duration; zero means unbounded.
func windowSpan(window string) (time.Duration, bool) {
	switch window {
	case WindowMinute:
		return time.Minute, true
	case WindowHour:
		return time.Hour, true
	case WindowDay:
		return 24 * time.Hour, true
	case WindowWeek:
		return 7 * 24 * time.Hour, true
	case WindowAll:
		return 0, true
	default:
		return 0, false
	}
}

// GetStatistics reports grouped counts, rate, top signatures, and the most
// recent records for the buffered errors matching the query. It reads the
// recent-error buffer, not the aggregation index, so totals reflect what is
// currently buffered (post-eviction) rather than lifetime counts.
func (s *Service) GetStatistics(q StatisticsQuery) domain.StatisticsReport {
	if s == nil {
		return emptyStatistics(q.TimeWindow)
	}
	if q.TimeWindow == "" {
		q.TimeWindow = WindowDay
	}
	span, ok := windowSpan(q.TimeWindow)
	if !ok {
		span, q.TimeWindow = 0, WindowAll
	}
	now := s.now()

	s.mu.RLock()
	records := s.buffer.snapshot()
	s.mu.RUnlock()

	var cutoff time.Time
	if span > 0 {
		cutoff = now.Add(-span)
	}
	filtered := records[:0:0]
	for _, rec := range records {
		if span > 0 && !rec.Timestamp.After(cutoff) {
			continue
		}
		if q.Category != "" && rec.Category != q.Category {
			continue
		}
		if q.Type != "" && rec.Type != q.Type {
			continue
		}
		filtered = append(filtered, rec)
	}

	byType := make(map[string]int)
	byCategory := make(map[string]int)
	byStatusCode := make(map[int]int)
	for _, rec := range filtered {
		byType[rec.Type]++
		byCategory[rec.Category]++
		byStatusCode[rec.StatusCode]++
	}

	windowStart := cutoff
	if span == 0 {
		if len(filtered) > 0 {
			windowStart = filtered[0].Timestamp
		} else {
			windowStart = now
		}
	}
	var errorRate float64
	if elapsed := now.Sub(windowStart).Seconds(); elapsed > 0 {
		errorRate = float64(len(filtered)) / elapsed * 60
	}

	return domain.StatisticsReport{
		Summary: domain.StatisticsSummary{
			Total:       len(filtered),
			TimeWindow:  q.TimeWindow,
			WindowStart: windowStart,
			WindowEnd:   now,
		},
		ByType:       byType,
		ByCategory:   byCategory,
		ByStatusCode: byStatusCode,
		ErrorRate:    errorRate,
		TopErrors:    topErrors(filtered),
		RecentErrors: recentNewestFirst(filtered),
	}
}

// topErrors ranks the filtered set by signature occurrence count, keeping the
// ten heaviest. Ties resolve by signature so the order is deterministic.
func topErrors(records []domain.ErrorRecord) []domain.TopError {
	grouped := make(map[string]*domain.TopError, len(records))
	for _, rec := range records {
		key := aggregationKey(rec.Type, rec.Message)
		top, ok := grouped[key]
		if !ok {
			top = &domain.TopError{
				Type:       rec.Type,
				Message:    rec.Message,
				Category:   rec.Category,
				StatusCode: rec.StatusCode,
			}
			grouped[key] = top
		}
		top.Count++
		if rec.Timestamp.After(top.LastSeen) {
			top.LastSeen = rec.Timestamp
		}
	}
	ranked := make([]domain.TopError, 0, len(grouped))
	for _, top := range grouped {
		ranked = append(ranked, *top)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return aggregationKey(ranked[i].Type, ranked[i].Message) < aggregationKey(ranked[j].Type, ranked[j].Message)
	})
	if len(ranked) > topErrorsLimit {
		ranked = ranked[:topErrorsLimit]
	}
	return ranked
}

// recentNewestFirst returns the last records of the filtered set, newest
// first.
func recentNewestFirst(records []domain.ErrorRecord) []domain.ErrorRecord {
	n := len(records)
	limit := recentErrorsLimit
	if n < limit {
		limit = n
	}
	recent := make([]domain.ErrorRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		recent = append(recent, records[i])
	}
	return recent
}

func emptyStatistics(window string) domain.StatisticsReport {
	if window == "" {
		window = WindowDay
	}
	return domain.StatisticsReport{
		Summary:      domain.StatisticsSummary{TimeWindow: window},
		ByType:       map[string]int{},
		ByCategory:   map[string]int{},
		ByStatusCode: map[int]int{},
		TopErrors:    []domain.TopError{},
		RecentErrors: []domain.ErrorRecord{},
	}
}

// GetErrorRates reports current window counts, the derived per-minute and
// per-hour rates, and the configured thresholds.
func (s *Service) GetErrorRates() domain.RateReport {
	if s == nil {
		return domain.RateReport{}
	}
	now := s.now()
	s.mu.RLock()
	minute, hour, day := s.windows.counts(now)
	s.mu.RUnlock()

	return domain.RateReport{
		LastMinute: minute,
		LastHour:   hour,
		LastDay:    day,
		Rates: domain.Rates{
			PerMinute: float64(hour) / 60,
			PerHour:   float64(day) / 24,
		},
		Thresholds: domain.Thresholds{
			Minute: s.cfg.Thresholds.Minute,
			Hour:   s.cfg.Thresholds.Hour,
			Day:    s.cfg.Thresholds.Day,
		},
	}
}

// CheckThresholds compares current window counts against the configured
// limits. A minute-level breach is the most actionable signal and is reported
// critical; hour and day breaches are trend warnings.
func (s *Service) CheckThresholds() domain.ThresholdReport {
	if s == nil {
		return domain.ThresholdReport{Violations: []domain.ThresholdViolation{}}
	}
	rates := s.GetErrorRates()
	checks := []struct {
		window  string
		current int
		limit   int
		level   string
	}{
		{"minute", rates.LastMinute, rates.Thresholds.Minute, "critical"},
		{"hour", rates.LastHour, rates.Thresholds.Hour, "warning"},
		{"day", rates.LastDay, rates.Thresholds.Day, "warning"},
	}
	violations := make([]domain.ThresholdViolation, 0, len(checks))
	for _, check := range checks {
		if check.current <= check.limit {
			continue
		}
		violations = append(violations, domain.ThresholdViolation{
			Window:    check.window,
			Current:   check.current,
			Threshold: check.limit,
			Level:     check.level,
			Message:   fmt.Sprintf("%d errors in the last %s exceeds threshold %d", check.current, check.window, check.limit),
		})
	}
	return domain.ThresholdReport{
		HasViolations: len(violations) > 0,
		Violations:    violations,
		Rates:         rates,
	}
}

// GetErrorByID looks up a buffered record. A missing id is a normal empty
// result, not an error.
func (s *Service) GetErrorByID(id string) (domain.ErrorRecord, bool) {
	if s == nil || id == "" {
		return domain.ErrorRecord{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buffer.get(id)
}

// GetSimilarErrors returns buffered records of the same type whose messages
// are close to the reference record's, excluding the reference itself. An
// unknown id yields an empty slice.
func (s *Service) GetSimilarErrors(id string, limit int) []domain.ErrorRecord {
	if s == nil {
		return nil
	}
	if limit <= 0 {
		limit = defaultSimilarLimit
	}
	s.mu.RLock()
	ref, ok := s.buffer.get(id)
	var records []domain.ErrorRecord
	if ok {
		records = s.buffer.snapshot()
	}
	s.mu.RUnlock()
	if !ok {
		return []domain.ErrorRecord{}
	}

	refTokens := tokenSet(ref.Message)
	similar := make([]domain.ErrorRecord, 0, limit)
	for _, rec := range records {
		if rec.ID == id || rec.Type != ref.Type {
			continue
		}
		if jaccard(refTokens, tokenSet(rec.Message)) > similarityThreshold {
			similar = append(similar, rec)
			if len(similar) == limit {
				break
			}
		}
	}
	return similar
}

// tokenSet splits a message into its lower-cased whitespace-separated tokens.
func tokenSet(message string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(message)) {
		tokens[tok] = struct{}{}
	}
	return tokens
}

// jaccard computes intersection-over-union of two token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
