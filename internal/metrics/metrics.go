// Package metrics defines the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvschema_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "csvschema_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "csvschema_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Import metrics
	ImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvschema_imports_total",
			Help: "Total number of completed imports",
		},
		[]string{"format", "status"}, // status: "success", "partial", "failed", "dry_run"
	)

	ImportRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvschema_import_rows_total",
			Help: "Total number of data rows processed by imports",
		},
		[]string{"outcome"}, // "imported", "rejected"
	)

	ImportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "csvschema_import_duration_seconds",
			Help:    "Duration of imports in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
		},
		[]string{"format"},
	)

	ImportFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvschema_import_failures_total",
			Help: "Total number of imports aborted before any row was processed",
		},
		[]string{"format", "reason"}, // reason: "not_found", "parse", "mapping", "limit", "storage"
	)

	ImportsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "csvschema_imports_in_flight",
			Help: "Number of imports currently holding a slot",
		},
	)

	TablesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "csvschema_tables_created_total",
			Help: "Total number of tables created",
		},
	)

	TablesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "csvschema_tables_dropped_total",
			Help: "Total number of tables dropped",
		},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "csvschema_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordImport records a completed import.
func RecordImport(format, status string, imported, rejected int, duration time.Duration) {
	ImportsTotal.WithLabelValues(format, status).Inc()
	ImportRowsTotal.WithLabelValues("imported").Add(float64(imported))
	ImportRowsTotal.WithLabelValues("rejected").Add(float64(rejected))
	ImportDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// RecordImportFailure records an import that aborted before completion.
func RecordImportFailure(format, reason string) {
	ImportFailuresTotal.WithLabelValues(format, reason).Inc()
}
