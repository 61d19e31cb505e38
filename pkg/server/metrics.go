package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/logflow/svctools/pkg/report"
)

// Metrics holds the Prometheus metrics of one server.
type Metrics struct {
	RequestCounter   *prometheus.CounterVec
	LatencyHistogram *prometheus.HistogramVec
	RunCounter       *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	RowsProcessed    *prometheus.CounterVec
	RowsExcluded     *prometheus.CounterVec
	registry         *prometheus.Registry
}

// NewMetrics creates and registers all metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "svctools_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		LatencyHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "svctools_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RunCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "svctools_runs_total",
				Help: "Analysis runs by preset, mode and status",
			},
			[]string{"preset", "mode", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "svctools_run_duration_seconds",
				Help:    "Analysis run latency in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"preset"},
		),
		RowsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "svctools_rows_processed_total",
				Help: "Input rows read by analysis runs",
			},
			[]string{"preset"},
		),
		RowsExcluded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "svctools_rows_excluded_total",
				Help: "Input rows excluded during normalization",
			},
			[]string{"preset"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.RequestCounter,
		m.LatencyHistogram,
		m.RunCounter,
		m.RunDuration,
		m.RowsProcessed,
		m.RowsExcluded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRun records a finished run; res is nil for failed runs.
func (m *Metrics) ObserveRun(presetName, mode string, res *report.Result, d time.Duration) {
	status := StatusFailed
	if res != nil {
		status = StatusCompleted
		m.RowsProcessed.WithLabelValues(presetName).Add(float64(res.Overall.Rows))
		m.RowsExcluded.WithLabelValues(presetName).Add(float64(res.Overall.Excluded))
	}
	m.RunCounter.WithLabelValues(presetName, mode, status).Inc()
	m.RunDuration.WithLabelValues(presetName).Observe(d.Seconds())
}

// Middleware counts requests by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.LatencyHistogram.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the Prometheus metrics handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
