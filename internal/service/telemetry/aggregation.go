package telemetry

import (
	"time"

	"github.com/splax/errwatch/internal/domain"
)

// maxInstanceSamples caps the per-signature sample of recent occurrences.
// Older samples are dropped silently while the count keeps incrementing.
const maxInstanceSamples = 20

// aggregationIndex is a bounded map of error signatures (type:message) to
// their aggregation entries. When the bound is exceeded the single entry with
// the smallest lastSeen is evicted. Entries are never age-pruned; a recurring
// signature keeps accumulating until capacity pressure pushes it out.
type aggregationIndex struct {
	entries map[string]*domain.AggregationEntry
	max     int
}

func newAggregationIndex(max int) *aggregationIndex {
	return &aggregationIndex{
		entries: make(map[string]*domain.AggregationEntry),
		max:     max,
	}
}

func aggregationKey(errType, message string) string {
	return errType + ":" + message
}

// upsert folds a record into its signature entry, creating it on first
// occurrence, and enforces the index bound afterwards.
func (idx *aggregationIndex) upsert(record domain.ErrorRecord) {
	key := aggregationKey(record.Type, record.Message)
	entry, ok := idx.entries[key]
	if !ok {
		entry = &domain.AggregationEntry{
			Type:      record.Type,
			Message:   record.Message,
			Category:  record.Category, // set once, from the first occurrence
			FirstSeen: record.Timestamp,
		}
		idx.entries[key] = entry
	}
	entry.Count++
	entry.LastSeen = record.Timestamp
	entry.Instances = append(entry.Instances, domain.AggregationInstance{
		ID:        record.ID,
		Timestamp: record.Timestamp,
		Context:   record.Context,
	})
	if len(entry.Instances) > maxInstanceSamples {
		entry.Instances = entry.Instances[len(entry.Instances)-maxInstanceSamples:]
	}
	if len(idx.entries) > idx.max {
		idx.evictOldest()
	}
}

// evictOldest removes the entry with the smallest lastSeen. Ties resolve to
// the lexicographically smallest key so eviction stays deterministic.
func (idx *aggregationIndex) evictOldest() {
	var victim string
	var oldest time.Time
	found := false
	for key, entry := range idx.entries {
		switch {
		case !found:
			victim, oldest, found = key, entry.LastSeen, true
		case entry.LastSeen.Before(oldest):
			victim, oldest = key, entry.LastSeen
		case entry.LastSeen.Equal(oldest) && key < victim:
			victim = key
		}
	}
	if found {
		delete(idx.entries, victim)
	}
}

func (idx *aggregationIndex) get(errType, message string) (*domain.AggregationEntry, bool) {
	entry, ok := idx.entries[aggregationKey(errType, message)]
	return entry, ok
}

func (idx *aggregationIndex) len() int { return len(idx.entries) }

func (idx *aggregationIndex) clear() {
	idx.entries = make(map[string]*domain.AggregationEntry)
}
