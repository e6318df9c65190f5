// Package metrics holds the Prometheus collectors shared by the workflow
// core and the HTTP layer. Labels are kept to small fixed sets.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RetryAttempts counts attempts made by the retry engine by operation
	// and outcome (success, retry, permanent, exhausted).
	RetryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dt_retry_attempts_total",
			Help: "Attempts made by the retry engine.",
		},
		[]string{"operation", "outcome"},
	)

	// PromptLookups counts prompt cache resolutions by the tier that served
	// them (fast, durable, generated, failed).
	PromptLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dt_prompt_cache_lookups_total",
			Help: "Prompt cache resolutions by serving tier.",
		},
		[]string{"tier"},
	)

	// QuotaEvictions counts records evicted to keep a partition under its cap.
	QuotaEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dt_quota_evictions_total",
			Help: "Records evicted by the quota-bounded store.",
		},
		[]string{"collection"},
	)

	// BackgroundFailures counts detached tasks that returned an error.
	BackgroundFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dt_background_task_failures_total",
			Help: "Detached background tasks that failed.",
		},
		[]string{"task"},
	)

	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RetryAttempts, PromptLookups, QuotaEvictions, BackgroundFailures,
		httpReqs, httpLat, httpInflight,
	)
}

// Middleware instruments requests. The path label is the chi route pattern
// so raw IDs never become label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpReqs.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		httpLat.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
