package httpx

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/splax/errwatch/internal/service/telemetry"
	"github.com/splax/errwatch/pkg/config"
	"github.com/splax/errwatch/pkg/jwt"
)

const testSecret = "router-test-secret"

func newTestRouter(t *testing.T) (*Router, *telemetry.Service) {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := telemetry.New(config.TelemetryConfig{}, log)
	router := NewRouter(log, svc, nil, testSecret)
	t.Cleanup(router.Close)
	return router, svc
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.GenerateToken("admin", "admin", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func doRequest(router *Router, method, target, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "203.0.113.9:51000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestIngestReturnsAcceptedWithID(t *testing.T) {
	router, _ := newTestRouter(t)

	payload := `{"error":{"name":"DatabaseError","message":"connection pool exhausted","statusCode":503},"context":{"requestId":"req-1","url":"/checkout","method":"POST"}}`
	rec := doRequest(router, http.MethodPost, "/errors", "", payload)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("expected an id in the response, got %v", body["id"])
	}

	lookup := doRequest(router, http.MethodGet, "/errors/"+id, adminToken(t), "")
	if lookup.Code != http.StatusOK {
		t.Fatalf("expected 200 for recorded id, got %d", lookup.Code)
	}
	record := decodeBody(t, lookup)
	if record["type"] != "DatabaseError" {
		t.Fatalf("unexpected type %v", record["type"])
	}
	if record["category"] != "database" {
		t.Fatalf("unexpected category %v", record["category"])
	}
	ctx, _ := record["context"].(map[string]any)
	if ctx["requestId"] != "req-1" {
		t.Fatalf("expected request context carried through, got %v", record["context"])
	}
}

func TestIngestRejectsInvalidJSON(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(router, http.MethodPost, "/errors", "", `{"error":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestReadEndpointsRequireAuth(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, target := range []string{"/errors/stats", "/errors/rates", "/errors/thresholds", "/errors/some-id"} {
		rec := doRequest(router, http.MethodGet, target, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s without token, got %d", target, rec.Code)
		}
	}

	rec := doRequest(router, http.MethodGet, "/errors/stats", "not-a-jwt", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", rec.Code)
	}
}

func TestStatsEndpointFieldNames(t *testing.T) {
	router, _ := newTestRouter(t)

	for i := 0; i < 2; i++ {
		doRequest(router, http.MethodPost, "/errors", "", `{"error":{"name":"TypeError","message":"x is not a function"}}`)
	}

	rec := doRequest(router, http.MethodGet, "/errors/stats?window=all", adminToken(t), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	summary, _ := body["summary"].(map[string]any)
	if summary == nil {
		t.Fatalf("expected summary object, got %v", body)
	}
	if summary["total"] != float64(2) {
		t.Fatalf("expected total 2, got %v", summary["total"])
	}
	for _, key := range []string{"byType", "byCategory", "byStatusCode", "errorRate", "topErrors", "recentErrors"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("expected key %q in statistics response", key)
		}
	}
	byType, _ := body["byType"].(map[string]any)
	if byType["TypeError"] != float64(2) {
		t.Fatalf("expected byType.TypeError 2, got %v", byType["TypeError"])
	}
}

func TestRatesAndThresholdsEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	doRequest(router, http.MethodPost, "/errors", "", `{"error":{"name":"Error","message":"boom"}}`)

	rates := doRequest(router, http.MethodGet, "/errors/rates", adminToken(t), "")
	if rates.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rates.Code)
	}
	body := decodeBody(t, rates)
	if body["lastMinute"] != float64(1) {
		t.Fatalf("expected lastMinute 1, got %v", body["lastMinute"])
	}
	derived, _ := body["rates"].(map[string]any)
	if _, ok := derived["perMinute"]; !ok {
		t.Fatalf("expected rates.perMinute, got %v", body["rates"])
	}
	thresholds, _ := body["thresholds"].(map[string]any)
	if thresholds["minute"] != float64(10) {
		t.Fatalf("expected default minute threshold 10, got %v", thresholds["minute"])
	}

	checks := doRequest(router, http.MethodGet, "/errors/thresholds", adminToken(t), "")
	if checks.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", checks.Code)
	}
	report := decodeBody(t, checks)
	if report["hasViolations"] != false {
		t.Fatalf("expected no violations, got %v", report["hasViolations"])
	}
	if violations, ok := report["violations"].([]any); !ok || len(violations) != 0 {
		t.Fatalf("expected empty violations array, got %v", report["violations"])
	}
}

func TestErrorByIDNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(router, http.MethodGet, "/errors/does-not-exist", adminToken(t), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSimilarEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	first := doRequest(router, http.MethodPost, "/errors", "", `{"error":{"name":"Error","message":"upstream connection reset by peer"}}`)
	doRequest(router, http.MethodPost, "/errors", "", `{"error":{"name":"Error","message":"upstream connection reset by peer"}}`)
	id := decodeBody(t, first)["id"].(string)

	rec := doRequest(router, http.MethodGet, "/errors/"+id+"/similar", adminToken(t), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var similar []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &similar); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(similar) != 1 {
		t.Fatalf("expected 1 similar record, got %d", len(similar))
	}
	if similar[0]["id"] == id {
		t.Fatal("reference record must be excluded")
	}
}

func TestClearRequiresAuth(t *testing.T) {
	router, svc := newTestRouter(t)

	doRequest(router, http.MethodPost, "/errors", "", `{"error":{"name":"Error","message":"boom"}}`)

	rec := doRequest(router, http.MethodDelete, "/errors", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if svc.BufferLen() != 1 {
		t.Fatalf("expected buffer untouched after rejected clear, got %d", svc.BufferLen())
	}

	rec = doRequest(router, http.MethodDelete, "/errors", adminToken(t), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.BufferLen() != 0 {
		t.Fatalf("expected empty buffer after clear, got %d", svc.BufferLen())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(router, http.MethodPut, "/errors", "", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(router, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestRecoveredFeedsPanicsBackIntoTelemetry(t *testing.T) {
	router, svc := newTestRouter(t)

	handler := router.recovered(func(w http.ResponseWriter, req *http.Request) {
		panic("boom in handler")
	})
	req := httptest.NewRequest(http.MethodGet, "/errors/stats", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if svc.BufferLen() != 1 {
		t.Fatalf("expected the panic recorded as an error, got %d buffered", svc.BufferLen())
	}
	stats := svc.GetStatistics(telemetry.StatisticsQuery{TimeWindow: telemetry.WindowAll})
	if stats.ByType["PanicError"] != 1 {
		t.Fatalf("expected a PanicError record, got %v", stats.ByType)
	}
}

func TestWithRateLimitRejectsOverLimit(t *testing.T) {
	router, _ := newTestRouter(t)

	calls := 0
	handler := router.withRateLimit("/limited", 2, time.Minute, func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		req.RemoteAddr = "198.51.100.7:40000"
		last = httptest.NewRecorder()
		handler(last, req)
	}

	if calls != 2 {
		t.Fatalf("expected 2 calls to pass, got %d", calls)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on the third call, got %d", last.Code)
	}
	if got := last.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected zero remaining, got %q", got)
	}
	if last.Header().Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("unexpected limit header %q", last.Header().Get("X-RateLimit-Limit"))
	}
}
