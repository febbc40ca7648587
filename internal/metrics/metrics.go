// Package metrics exposes the service's Prometheus collectors and the HTTP
// middleware that feeds them.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns collectors registered against one registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	conversions    *prometheus.HistogramVec
	uploads        *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	downloadsBytes prometheus.Counter
	throttleDelay  prometheus.Histogram
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests, by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency, by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
		conversions: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_conversion_duration_seconds",
			Help:    "Document conversion latency, by format and result.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"format", "result"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_uploads_total",
			Help: "Artifact writes, by backend and result.",
		}, []string{"backend", "result"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Page fetch latency, by renderer.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"renderer"}),
		downloadsBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_download_bytes_total",
			Help: "Bytes of documents downloaded.",
		}),
		throttleDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_download_throttle_seconds",
			Help:    "Time document downloads waited on the per-host rate limiter.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
	for _, c := range []prometheus.Collector{
		m.httpRequests, m.httpDuration, m.conversions, m.uploads, m.fetchDuration, m.downloadsBytes, m.throttleDelay,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveConversion records one conversion attempt.
func (m *Metrics) ObserveConversion(format string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(format, result(err)).Observe(d.Seconds())
}

// ObserveUpload records one artifact write (after retries).
func (m *Metrics) ObserveUpload(backend string, err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(backend, result(err)).Inc()
}

// ObserveFetch records one page fetch.
func (m *Metrics) ObserveFetch(headless bool, d time.Duration) {
	if m == nil {
		return
	}
	renderer := "http"
	if headless {
		renderer = "headless"
	}
	m.fetchDuration.WithLabelValues(renderer).Observe(d.Seconds())
}

// AddDownloadBytes counts downloaded document bytes.
func (m *Metrics) AddDownloadBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.downloadsBytes.Add(float64(n))
}

// ObserveThrottle records a per-host rate-limit wait. Hosts come from crawled
// links, so they are not used as a label.
func (m *Metrics) ObserveThrottle(_ string, d time.Duration) {
	if m == nil {
		return
	}
	m.throttleDelay.Observe(d.Seconds())
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers (server-sent events) flush through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
