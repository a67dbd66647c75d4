package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/splax/errwatch/internal/domain"
	"github.com/splax/errwatch/pkg/config"
)

const (
	defaultMaxErrors       = 1000
	defaultMaxAggregations = 100
	defaultRetentionHours  = 24
	defaultStatusCode      = 500

	sweepInterval = 5 * time.Minute
)

// ErrorInput is the caller-facing description of a caught error.
type ErrorInput struct {
	Name          string `json:"name"`
	Message       string `json:"message"`
	Stack         string `json:"stack,omitempty"`
	StatusCode    int    `json:"statusCode,omitempty"`
	IsOperational bool   `json:"isOperational,omitempty"`
}

// ReportContext is the request metadata supplied alongside an error. A status
// code given here is used when the error itself does not carry one.
type ReportContext struct {
	domain.RequestContext
	StatusCode int `json:"statusCode,omitempty"`
}

// Service ingests application error events and maintains bounded-memory
// summaries of them: a recent-error buffer, a per-signature aggregation index,
// and multi-window rate counters. It is the single entry point for mutations;
// the full RecordError sequence runs under one write lock so size invariants
// hold under concurrent use. Queries run under a shared read lock.
type Service struct {
	mu      sync.RWMutex
	buffer  *recentBuffer
	index   *aggregationIndex
	windows *rateWindows
	stats   lifetimeStats

	cfg    config.TelemetryConfig
	logger *slog.Logger
	now    func() time.Time

	sweepMu   sync.Mutex
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// lifetimeStats counts every recorded error since construction (or the last
// Clear). Counters are never decremented on eviction, so they drift above
// buffer-derived counts over time by design.
type lifetimeStats struct {
	total      int64
	byType     map[string]int64
	byCategory map[string]int64
}

func newLifetimeStats() lifetimeStats {
	return lifetimeStats{
		byType:     make(map[string]int64),
		byCategory: make(map[string]int64),
	}
}

// New constructs a telemetry service with the given bounds. Zero or negative
// limits fall back to the defaults. The logger may be nil.
func New(cfg config.TelemetryConfig, logger *slog.Logger) *Service {
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = defaultMaxErrors
	}
	if cfg.MaxAggregations <= 0 {
		cfg.MaxAggregations = defaultMaxAggregations
	}
	if cfg.RetentionHours <= 0 {
		cfg.RetentionHours = defaultRetentionHours
	}
	if cfg.Thresholds.Minute <= 0 {
		cfg.Thresholds.Minute = 10
	}
	if cfg.Thresholds.Hour <= 0 {
		cfg.Thresholds.Hour = 100
	}
	if cfg.Thresholds.Day <= 0 {
		cfg.Thresholds.Day = 1000
	}
	if logger != nil {
		logger = logger.With("component", "telemetry")
	}
	initMetrics()
	return &Service{
		buffer:  newRecentBuffer(cfg.MaxErrors),
		index:   newAggregationIndex(cfg.MaxAggregations),
		windows: newRateWindows(),
		stats:   newLifetimeStats(),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// RecordError ingests one error occurrence and returns its opaque id. It
// never panics into the caller: any internal failure is logged and the call
// degrades to returning an empty id. Instrumentation must not be able to
// crash the application it observes.
func (s *Service) RecordError(input ErrorInput, reqCtx ReportContext) (id string) {
	if s == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			id = ""
			if s.logger != nil {
				s.logger.Error("error recording failed", "panic", r)
			}
		}
	}()

	errType := input.Name
	if errType == "" {
		errType = "Error"
	}
	status := input.StatusCode
	if status == 0 {
		status = reqCtx.StatusCode
	}
	if status == 0 {
		status = defaultStatusCode
	}

	category := categorize(errType, input.Message, status, input.IsOperational)
	now := s.now()
	record := domain.ErrorRecord{
		ID:            uuid.NewString(),
		Timestamp:     now,
		Type:          errType,
		Message:       input.Message,
		Stack:         input.Stack,
		Category:      category,
		StatusCode:    status,
		IsOperational: input.IsOperational,
		Context:       reqCtx.RequestContext,
	}

	s.mu.Lock()
	s.buffer.push(record)
	s.index.upsert(record)
	s.windows.observe(now, now)
	s.stats.total++
	s.stats.byType[errType]++
	s.stats.byCategory[category]++
	s.mu.Unlock()

	recordCategoryMetric(category)
	if s.logger != nil {
		s.logger.Warn("application error recorded",
			"id", record.ID,
			"type", errType,
			"category", category,
			"status", status,
			"request_id", record.Context.RequestID,
		)
	}
	return record.ID
}

// Clear empties the buffer, the aggregation index, the lifetime counters, and
// all three rate windows in one atomic step.
func (s *Service) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.buffer.clear()
	s.index.clear()
	s.windows.clear()
	s.stats = newLifetimeStats()
	s.mu.Unlock()
	if s.logger != nil {
		s.logger.Info("telemetry state cleared")
	}
}

// StartSweeper launches the background retention sweep. Calling it while a
// sweeper is already running is a no-op.
func (s *Service) StartSweeper() {
	if s == nil {
		return
	}
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if s.sweepStop != nil {
		return
	}
	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})
	go s.sweepLoop(s.sweepStop, s.sweepDone)
	if s.logger != nil {
		s.logger.Info("retention sweeper started", "interval", sweepInterval, "retention_hours", s.cfg.RetentionHours)
	}
}

// StopSweeper stops the retention sweep. It is safe to call repeatedly and
// does not return until the sweep goroutine has exited, so no sweep runs
// after it returns.
func (s *Service) StopSweeper() {
	if s == nil {
		return
	}
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if s.sweepStop == nil {
		return
	}
	close(s.sweepStop)
	<-s.sweepDone
	s.sweepStop = nil
	s.sweepDone = nil
	if s.logger != nil {
		s.logger.Info("retention sweeper stopped")
	}
}

func (s *Service) sweepLoop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

// sweepExpired evicts buffer records older than the retention horizon. The
// aggregation index and rate windows are untouched; they bound themselves.
// Logging happens after the lock is released so a slow log sink cannot stall
// ingestion.
func (s *Service) sweepExpired() {
	cutoff := s.now().Add(-time.Duration(s.cfg.RetentionHours) * time.Hour)
	s.mu.Lock()
	removed := s.buffer.dropOlderThan(cutoff)
	remaining := s.buffer.len()
	s.mu.Unlock()

	recordEvictionMetric(removed)
	if s.logger != nil {
		s.logger.Info("retention sweep finished", "removed", removed, "remaining", remaining)
	}
}

// LifetimeTotals returns copies of the monotonic counters. They are never
// decremented on eviction, so over time they exceed buffer-derived counts.
func (s *Service) LifetimeTotals() (total int64, byType, byCategory map[string]int64) {
	if s == nil {
		return 0, map[string]int64{}, map[string]int64{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	byType = make(map[string]int64, len(s.stats.byType))
	for k, v := range s.stats.byType {
		byType[k] = v
	}
	byCategory = make(map[string]int64, len(s.stats.byCategory))
	for k, v := range s.stats.byCategory {
		byCategory[k] = v
	}
	return s.stats.total, byType, byCategory
}

// BufferLen reports the number of currently buffered records.
func (s *Service) BufferLen() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buffer.len()
}
