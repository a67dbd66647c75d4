package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/splax/errwatch/internal/domain"
	"github.com/splax/errwatch/internal/service/telemetry"
)

// Router wires the ingest and dashboard query endpoints to the telemetry
// service.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	svc       *telemetry.Service
	limiter   RateLimiter
	jwtSecret string

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault = time.Minute
	rateLimitIngest   = 600
	rateLimitRead     = 120
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, svc *telemetry.Service, limiter RateLimiter, jwtSecret string) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		svc:       svc,
		limiter:   limiter,
		jwtSecret: strings.TrimSpace(jwtSecret),
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.HandleFunc("/errors", r.audit("/errors", r.recovered(r.handleErrors)))
	r.mux.HandleFunc("/errors/", r.audit("/errors/:sub", r.recovered(r.handleErrorSubroutes)))
}

// handleErrors serves the collection endpoint: POST ingests one error event,
// DELETE clears all telemetry state.
func (r *Router) handleErrors(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.withRateLimit("/errors", rateLimitIngest, rateWindowDefault, r.handleReport)(w, req)
	case http.MethodDelete:
		r.requireAuth(r.handleClear)(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

// handleReport accepts the recordError payload. Recording never fails into
// the reporter: a degraded ingest still answers 202 with a null id.
func (r *Router) handleReport(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Error   telemetry.ErrorInput    `json:"error"`
		Context telemetry.ReportContext `json:"context"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Context.IP == "" {
		payload.Context.IP = clientIP(req)
	}
	id := r.svc.RecordError(payload.Error, payload.Context)
	var body any
	if id == "" {
		body = map[string]any{"id": nil}
	} else {
		body = map[string]string{"id": id}
	}
	writeJSON(w, http.StatusAccepted, body)
}

func (r *Router) handleClear(w http.ResponseWriter, req *http.Request) {
	r.svc.Clear()
	if info, ok := authInfoFromContext(req.Context()); ok {
		r.logger.Info("telemetry cleared", "subject", info.Subject, "role", info.Role)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleErrorSubroutes dispatches /errors/stats, /errors/rates,
// /errors/thresholds, /errors/{id}, and /errors/{id}/similar.
func (r *Router) handleErrorSubroutes(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	trimmed := strings.Trim(strings.TrimPrefix(req.URL.Path, "/errors/"), "/")
	if trimmed == "" {
		r.notFound(w)
		return
	}
	parts := strings.Split(trimmed, "/")
	switch {
	case len(parts) == 1 && parts[0] == "stats":
		r.readHandler("/errors/stats", r.handleStats)(w, req)
	case len(parts) == 1 && parts[0] == "rates":
		r.readHandler("/errors/rates", r.handleRates)(w, req)
	case len(parts) == 1 && parts[0] == "thresholds":
		r.readHandler("/errors/thresholds", r.handleThresholds)(w, req)
	case len(parts) == 1:
		r.readHandler("/errors/:id", func(w http.ResponseWriter, req *http.Request) {
			r.handleErrorByID(w, req, parts[0])
		})(w, req)
	case len(parts) == 2 && parts[1] == "similar":
		r.readHandler("/errors/:id/similar", func(w http.ResponseWriter, req *http.Request) {
			r.handleSimilar(w, req, parts[0])
		})(w, req)
	default:
		r.notFound(w)
	}
}

// readHandler applies auth and the shared read rate limit to a query route.
func (r *Router) readHandler(route string, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(r.withRateLimit(route, rateLimitRead, rateWindowDefault, next))
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	query := telemetry.StatisticsQuery{
		TimeWindow: strings.TrimSpace(req.URL.Query().Get("window")),
		Category:   strings.TrimSpace(req.URL.Query().Get("category")),
		Type:       strings.TrimSpace(req.URL.Query().Get("type")),
	}
	writeJSON(w, http.StatusOK, r.svc.GetStatistics(query))
}

func (r *Router) handleRates(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.svc.GetErrorRates())
}

func (r *Router) handleThresholds(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.svc.CheckThresholds())
}

func (r *Router) handleErrorByID(w http.ResponseWriter, req *http.Request, id string) {
	record, ok := r.svc.GetErrorByID(id)
	if !ok {
		r.notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (r *Router) handleSimilar(w http.ResponseWriter, req *http.Request, id string) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, r.svc.GetSimilarErrors(id, limit))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	recorded, _, _ := r.svc.LifetimeTotals()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"components": map[string]any{
			"telemetry": map[string]any{
				"status":   "up",
				"buffered": r.svc.BufferLen(),
				"recorded": recorded,
			},
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// recovered turns a handler panic into a 500 and feeds it back into the
// telemetry service, so the observability surface observes its own faults.
func (r *Router) recovered(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			r.svc.RecordError(telemetry.ErrorInput{
				Name:    "PanicError",
				Message: fmt.Sprint(rec),
			}, telemetry.ReportContext{
				RequestContext: requestContextFrom(req),
			})
			r.logger.Error("handler panic", "path", req.URL.Path, "panic", rec)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}()
		next(w, req)
	}
}

// audit logs every request with structured fields and records request
// metrics.
func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host := req.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return strings.TrimSpace(host)
}

func requestContextFrom(req *http.Request) domain.RequestContext {
	return domain.RequestContext{
		RequestID: strings.TrimSpace(req.Header.Get("X-Request-ID")),
		URL:       req.URL.Path,
		Method:    req.Method,
		UserAgent: req.UserAgent(),
		IP:        clientIP(req),
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
