package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// ErrUnauthorized indicates the API rejected the supplied token.
var ErrUnauthorized = errors.New("errwatch unauthorized")

// ErrNotFound indicates the referenced error record is not buffered.
var ErrNotFound = errors.New("errwatch record not found")

// Client provides typed access to the errwatch API for reporters and tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4500"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// ErrorReport describes a caught error to be recorded.
type ErrorReport struct {
	Name          string `json:"name"`
	Message       string `json:"message"`
	Stack         string `json:"stack,omitempty"`
	StatusCode    int    `json:"statusCode,omitempty"`
	IsOperational bool   `json:"isOperational,omitempty"`
}

// RequestInfo carries request metadata alongside a report.
type RequestInfo struct {
	RequestID  string `json:"requestId,omitempty"`
	URL        string `json:"url,omitempty"`
	Method     string `json:"method,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
	IP         string `json:"ip,omitempty"`
	UserID     string `json:"userId,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// ErrorDetail mirrors a recorded error as returned by the API.
type ErrorDetail struct {
	ID            string      `json:"id"`
	Timestamp     time.Time   `json:"timestamp"`
	Type          string      `json:"type"`
	Message       string      `json:"message"`
	Stack         string      `json:"stack,omitempty"`
	Category      string      `json:"category"`
	StatusCode    int         `json:"statusCode"`
	IsOperational bool        `json:"isOperational"`
	Context       RequestInfo `json:"context"`
}

// Report records one error occurrence. The returned id is empty when the
// server degraded the ingest but still accepted the request.
func (c *Client) Report(ctx context.Context, report ErrorReport, info RequestInfo) (string, error) {
	body := map[string]any{
		"error":   report,
		"context": info,
	}
	var resp struct {
		ID *string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/errors", body, "", &resp); err != nil {
		return "", err
	}
	if resp.ID == nil {
		return "", nil
	}
	return *resp.ID, nil
}

// Statistics mirrors the statistics report payload.
type Statistics struct {
	Summary struct {
		Total       int       `json:"total"`
		TimeWindow  string    `json:"timeWindow"`
		WindowStart time.Time `json:"windowStart"`
		WindowEnd   time.Time `json:"windowEnd"`
	} `json:"summary"`
	ByType       map[string]int `json:"byType"`
	ByCategory   map[string]int `json:"byCategory"`
	ByStatusCode map[string]int `json:"byStatusCode"`
	ErrorRate    float64        `json:"errorRate"`
	TopErrors    []struct {
		Type       string    `json:"type"`
		Message    string    `json:"message"`
		Category   string    `json:"category"`
		StatusCode int       `json:"statusCode"`
		Count      int       `json:"count"`
		LastSeen   time.Time `json:"lastSeen"`
	} `json:"topErrors"`
	RecentErrors []ErrorDetail `json:"recentErrors"`
}

// StatsQuery narrows a statistics request.
type StatsQuery struct {
	Window   string
	Category string
	Type     string
}

// Stats fetches aggregate statistics over the buffered errors.
func (c *Client) Stats(ctx context.Context, token string, q StatsQuery) (Statistics, error) {
	values := url.Values{}
	if q.Window != "" {
		values.Set("window", q.Window)
	}
	if q.Category != "" {
		values.Set("category", q.Category)
	}
	if q.Type != "" {
		values.Set("type", q.Type)
	}
	path := "/errors/stats"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var stats Statistics
	if err := c.do(ctx, http.MethodGet, path, nil, token, &stats); err != nil {
		return Statistics{}, err
	}
	return stats, nil
}

// RateReport mirrors the rates payload.
type RateReport struct {
	LastMinute int `json:"lastMinute"`
	LastHour   int `json:"lastHour"`
	LastDay    int `json:"lastDay"`
	Rates      struct {
		PerMinute float64 `json:"perMinute"`
		PerHour   float64 `json:"perHour"`
	} `json:"rates"`
	Thresholds struct {
		Minute int `json:"minute"`
		Hour   int `json:"hour"`
		Day    int `json:"day"`
	} `json:"thresholds"`
}

// Rates fetches the current window counts and derived rates.
func (c *Client) Rates(ctx context.Context, token string) (RateReport, error) {
	var rates RateReport
	if err := c.do(ctx, http.MethodGet, "/errors/rates", nil, token, &rates); err != nil {
		return RateReport{}, err
	}
	return rates, nil
}

// ThresholdReport mirrors the threshold check payload.
type ThresholdReport struct {
	HasViolations bool `json:"hasViolations"`
	Violations    []struct {
		Window    string `json:"window"`
		Current   int    `json:"current"`
		Threshold int    `json:"threshold"`
		Level     string `json:"level"`
		Message   string `json:"message"`
	} `json:"violations"`
	Rates RateReport `json:"rates"`
}

// Thresholds evaluates the configured rate thresholds.
func (c *Client) Thresholds(ctx context.Context, token string) (ThresholdReport, error) {
	var report ThresholdReport
	if err := c.do(ctx, http.MethodGet, "/errors/thresholds", nil, token, &report); err != nil {
		return ThresholdReport{}, err
	}
	return report, nil
}

// GetError fetches a single buffered record by id.
func (c *Client) GetError(ctx context.Context, token, id string) (ErrorDetail, error) {
	var detail ErrorDetail
	if err := c.do(ctx, http.MethodGet, "/errors/"+url.PathEscape(id), nil, token, &detail); err != nil {
		return ErrorDetail{}, err
	}
	return detail, nil
}

// Similar fetches buffered records with messages close to the reference.
func (c *Client) Similar(ctx context.Context, token, id string, limit int) ([]ErrorDetail, error) {
	path := "/errors/" + url.PathEscape(id) + "/similar"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var similar []ErrorDetail
	if err := c.do(ctx, http.MethodGet, path, nil, token, &similar); err != nil {
		return nil, err
	}
	return similar, nil
}

// Clear wipes all telemetry state on the server.
func (c *Client) Clear(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/errors", nil, token, nil)
}
