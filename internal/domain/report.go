package domain

import "time"

// StatisticsSummary describes the filtered slice of the buffer a statistics
// report covers.
type StatisticsSummary struct {
	Total       int       `json:"total"`
	TimeWindow  string    `json:"timeWindow"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
}

// TopError is an error signature ranked by occurrence count. Heavy per-record
// fields (id, stack, context) are deliberately absent from this shape.
type TopError struct {
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	Category   string    `json:"category"`
	StatusCode int       `json:"statusCode"`
	Count      int       `json:"count"`
	LastSeen   time.Time `json:"lastSeen"`
}

// StatisticsReport is the answer to a statistics query. Field names form the
// JSON contract consumed by the dashboard and must not change.
type StatisticsReport struct {
	Summary      StatisticsSummary `json:"summary"`
	ByType       map[string]int    `json:"byType"`
	ByCategory   map[string]int    `json:"byCategory"`
	ByStatusCode map[int]int       `json:"byStatusCode"`
	ErrorRate    float64           `json:"errorRate"`
	TopErrors    []TopError        `json:"topErrors"`
	RecentErrors []ErrorRecord     `json:"recentErrors"`
}

// Rates carries the derived per-minute and per-hour error rates.
type Rates struct {
	PerMinute float64 `json:"perMinute"`
	PerHour   float64 `json:"perHour"`
}

// Thresholds holds the configured per-window limits echoed back to consumers.
type Thresholds struct {
	Minute int `json:"minute"`
	Hour   int `json:"hour"`
	Day    int `json:"day"`
}

// RateReport combines current window counts with derived rates and the
// configured thresholds.
//
// Window counts are a bounded approximation: each window is hard-capped in
// memory, so a burst larger than the cap under-reports the true rate.
type RateReport struct {
	LastMinute int        `json:"lastMinute"`
	LastHour   int        `json:"lastHour"`
	LastDay    int        `json:"lastDay"`
	Rates      Rates      `json:"rates"`
	Thresholds Thresholds `json:"thresholds"`
}

// ThresholdViolation reports one window whose count exceeds its limit.
type ThresholdViolation struct {
	Window    string `json:"window"`
	Current   int    `json:"current"`
	Threshold int    `json:"threshold"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// ThresholdReport is the answer to a threshold check.
type ThresholdReport struct {
	HasViolations bool                 `json:"hasViolations"`
	Violations    []ThresholdViolation `json:"violations"`
	Rates         RateReport           `json:"rates"`
}
