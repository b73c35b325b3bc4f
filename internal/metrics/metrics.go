// Package metrics defines the Prometheus instrumentation surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_webhook_events_total",
			Help: "Webhook deliveries received, labeled by event type and outcome.",
		},
		[]string{"event_type", "outcome"},
	)

	signatureFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_webhook_signature_failures_total",
			Help: "Webhook deliveries rejected for a missing or invalid signature.",
		},
	)

	indexStageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_index_stage_duration_seconds",
			Help:    "Histogram of indexing stage latencies, labeled by stage.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"stage"},
	)

	indexJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_index_jobs_total",
			Help: "Index jobs finished, labeled by status.",
		},
		[]string{"status"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_active_workers",
			Help: "Number of workers currently processing an index job.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Webhook event outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeInvalid  = "invalid"
)

// Index job statuses.
const (
	JobCompleted = "completed"
	JobRetried   = "retried"
	JobFailed    = "failed"
)

// ObserveWebhookEvent counts one webhook delivery.
func ObserveWebhookEvent(eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	webhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// IncSignatureFailure counts one signature rejection.
func IncSignatureFailure() {
	signatureFailuresTotal.Inc()
}

// ObserveIndexStage records one indexing stage duration.
func ObserveIndexStage(stage string, d time.Duration) {
	indexStageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// IncIndexJob counts one finished index job by status.
func IncIndexJob(status string) {
	indexJobsTotal.WithLabelValues(status).Inc()
}

// WorkerStarted and WorkerDone track the active worker gauge.
func WorkerStarted() { activeWorkers.Inc() }

// WorkerDone decrements the active worker gauge.
func WorkerDone() { activeWorkers.Dec() }

// ObserveHTTPRequest records metrics for one completed HTTP request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}
