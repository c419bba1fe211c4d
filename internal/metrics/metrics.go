// Package metrics exposes Prometheus instruments for log processing.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bidlog"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal     *prometheus.CounterVec
	activeJobs    prometheus.Gauge
	rowsTotal     prometheus.Counter
	fieldErrors   prometheus.Counter
	bytesTotal    prometheus.Counter
	parseDuration prometheus.Histogram
	httpRequests  *prometheus.CounterVec
}

// New creates and registers all collectors, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Processing jobs by terminal status.",
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Jobs currently parsing.",
		}),
		rowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Log rows folded into completed summaries.",
		}),
		fieldErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_decode_errors_total",
			Help:      "Cells that could not be decoded and defaulted to zero.",
		}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_processed_total",
			Help:      "Input bytes read by completed jobs.",
		}),
		parseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "parse_duration_seconds",
			Help:      "Wall time of completed parses.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}

	reg.MustRegister(
		m.jobsTotal,
		m.activeJobs,
		m.rowsTotal,
		m.fieldErrors,
		m.bytesTotal,
		m.parseDuration,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// JobStarted marks a job as parsing.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.activeJobs.Inc()
}

// JobFinished records a job's terminal status. It must pair with JobStarted.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.activeJobs.Dec()
	m.jobsTotal.WithLabelValues(status).Inc()
}

// JobSkipped records a job that finished without parsing.
func (m *Metrics) JobSkipped(status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
}

// ParseCompleted records the volume and duration of a successful parse.
func (m *Metrics) ParseCompleted(rows, fieldErrors, bytes int64, d time.Duration) {
	if m == nil {
		return
	}
	m.rowsTotal.Add(float64(rows))
	m.fieldErrors.Add(float64(fieldErrors))
	m.bytesTotal.Add(float64(bytes))
	m.parseDuration.Observe(d.Seconds())
}

// HTTPRequest counts one served request.
func (m *Metrics) HTTPRequest(method string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
