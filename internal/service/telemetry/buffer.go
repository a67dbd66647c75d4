package telemetry

import (
	"time"

	"github.com/splax/errwatch/internal/domain"
)

// recentBuffer is a fixed-capacity FIFO of the most recent error records,
// implemented as a ring so eviction of the oldest entry is O(1). Only the
// bounded-size FIFO behavior is contractual.
type recentBuffer struct {
	slots []domain.ErrorRecord
	head  int // index of the oldest record
	size  int
}

func newRecentBuffer(capacity int) *recentBuffer {
	return &recentBuffer{slots: make([]domain.ErrorRecord, capacity)}
}

// push appends a record, overwriting the oldest entry when full.
func (b *recentBuffer) push(record domain.ErrorRecord) {
	if b.size < len(b.slots) {
		b.slots[(b.head+b.size)%len(b.slots)] = record
		b.size++
		return
	}
	b.slots[b.head] = record
	b.head = (b.head + 1) % len(b.slots)
}

// get scans for the record with the given id.
func (b *recentBuffer) get(id string) (domain.ErrorRecord, bool) {
	for i := 0; i < b.size; i++ {
		if rec := b.slots[(b.head+i)%len(b.slots)]; rec.ID == id {
			return rec, true
		}
	}
	return domain.ErrorRecord{}, false
}

func (b *recentBuffer) len() int { return b.size }

// snapshot returns the buffered records in insertion order, oldest first.
func (b *recentBuffer) snapshot() []domain.ErrorRecord {
	out := make([]domain.ErrorRecord, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.slots[(b.head+i)%len(b.slots)])
	}
	return out
}

// dropOlderThan evicts every record whose timestamp is before cutoff and
// reports how many were removed. Records arrive in timestamp order, so only
// the head needs to advance.
func (b *recentBuffer) dropOlderThan(cutoff time.Time) int {
	removed := 0
	for b.size > 0 {
		if !b.slots[b.head].Timestamp.Before(cutoff) {
			break
		}
		b.slots[b.head] = domain.ErrorRecord{}
		b.head = (b.head + 1) % len(b.slots)
		b.size--
		removed++
	}
	return removed
}

func (b *recentBuffer) clear() {
	for i := range b.slots {
		b.slots[i] = domain.ErrorRecord{}
	}
	b.head = 0
	b.size = 0
}
