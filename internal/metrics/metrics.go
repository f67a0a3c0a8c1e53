// Package metrics provides Prometheus instrumentation for the dashboard
// backend.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SyncsTotal counts wallet syncs.
	SyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_syncs_total",
		Help: "Total number of wallet syncs",
	})

	// SyncDuration tracks end-to-end wallet sync latency.
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dashboard_sync_duration_seconds",
		Help:    "Wallet sync latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// SyncCategoryOutcomes counts per-category sync outcomes.
	SyncCategoryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_sync_category_outcomes_total",
		Help: "Per-category sync outcomes",
	}, []string{"category", "status"})

	// StoreWritesSkipped counts categories whose merged state matched the
	// stored aggregate, so no write was issued.
	StoreWritesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_store_writes_skipped_total",
		Help: "Category merges that produced no change",
	}, []string{"category"})

	// ProviderRequestsTotal counts upstream requests by endpoint and outcome.
	ProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_provider_requests_total",
		Help: "Total upstream provider requests",
	}, []string{"endpoint", "outcome"})

	// ProviderRequestDuration tracks upstream latency including retries.
	ProviderRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashboard_provider_request_duration_seconds",
		Help:    "Upstream provider request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dashboard_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashboard_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Wallet addresses in the URL would explode cardinality.
		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
