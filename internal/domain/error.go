package domain

import "time"

// RequestContext carries the request-scoped metadata captured alongside an
// error occurrence. All fields are optional.
type RequestContext struct {
	RequestID string `json:"requestId,omitempty"`
	URL       string `json:"url,omitempty"`
	Method    string `json:"method,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

// ErrorRecord is one recorded occurrence of an application error. Records are
// immutable once created; only eviction removes them.
type ErrorRecord struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Type          string         `json:"type"`
	Message       string         `json:"message"`
	Stack         string         `json:"stack,omitempty"`
	Category      string         `json:"category"`
	StatusCode    int            `json:"statusCode"`
	IsOperational bool           `json:"isOperational"`
	Context       RequestContext `json:"context"`
}

// AggregationInstance is the compact per-occurrence sample kept on an
// aggregation entry. Heavy fields (message, stack) live on the entry or are
// dropped entirely.
type AggregationInstance struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Context   RequestContext `json:"context"`
}

// AggregationEntry groups all occurrences sharing an identical type:message
// signature. Count keeps incrementing even after the instance sample is
// trimmed.
type AggregationEntry struct {
	Type      string                `json:"type"`
	Message   string                `json:"message"`
	Category  string                `json:"category"`
	Count     int64                 `json:"count"`
	FirstSeen time.Time             `json:"firstSeen"`
	LastSeen  time.Time             `json:"lastSeen"`
	Instances []AggregationInstance `json:"instances"`
}
