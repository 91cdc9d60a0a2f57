// Package metrics exposes Prometheus instrumentation for the sync service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/canyapan/fxsync/internal/csrf"
)

const namespace = "fxsync"

// Metrics holds the service's collectors, registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	csrfFetches       *prometheus.CounterVec
	csrfInvalidations *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
}

// Compile-time check to ensure Metrics implements csrf.Recorder
var _ csrf.Recorder = (*Metrics)(nil)

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		csrfFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csrf_token_fetches_total",
			Help:      "CSRF token fetches against the backend, by result.",
		}, []string{"result"}),
		csrfInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csrf_token_invalidations_total",
			Help:      "Cached CSRF credentials dropped after a backend rejection, by status.",
		}, []string{"status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"path", "method", "status"}),
	}

	m.registry.MustRegister(
		m.csrfFetches,
		m.csrfInvalidations,
		m.httpDuration,
		m.httpRequests,
	)
	return m
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CredentialFetched implements csrf.Recorder.
func (m *Metrics) CredentialFetched(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.csrfFetches.WithLabelValues(result).Inc()
}

// CredentialInvalidated implements csrf.Recorder.
func (m *Metrics) CredentialInvalidated(status int) {
	m.csrfInvalidations.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Middleware records request count and latency. Paths are labelled with the
// matched ServeMux pattern to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(sw.status)
		m.httpDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(path, r.Method, status).Inc()
	})
}

// statusWriter captures the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
