package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for Mailburst
type Metrics struct {
	// Delivery counters
	EmailsSentTotal     *prometheus.CounterVec
	EmailsFailedTotal   *prometheus.CounterVec
	SendDurationSeconds prometheus.Histogram

	// Bulk job state
	BulkJobsTotal    *prometheus.CounterVec
	BulkJobActive    prometheus.Gauge
	BulkJobRemaining prometheus.Gauge

	// Vault counters
	TagValuesConsumedTotal prometheus.Counter

	// Broadcaster
	EventsDroppedTotal prometheus.Counter

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EmailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailburst_emails_sent_total",
				Help: "Total number of successfully delivered emails",
			},
			[]string{"server"},
		),
		EmailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailburst_emails_failed_total",
				Help: "Total number of failed delivery attempts",
			},
			[]string{"server", "error_type"},
		),
		SendDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailburst_send_duration_seconds",
				Help:    "Duration of a single delivery attempt in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		BulkJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailburst_bulk_jobs_total",
				Help: "Total number of bulk jobs by terminal outcome",
			},
			[]string{"outcome"},
		),
		BulkJobActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailburst_bulk_job_active",
				Help: "Whether a bulk job is currently running (0 or 1)",
			},
		),
		BulkJobRemaining: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailburst_bulk_job_remaining",
				Help: "Recipients not yet attempted by the running job",
			},
		),

		TagValuesConsumedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailburst_tag_values_consumed_total",
				Help: "Total number of tag values drawn from the vault",
			},
		),

		EventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailburst_events_dropped_total",
				Help: "Progress events discarded on full subscriber buffers",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailburst_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailburst_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.EmailsSentTotal,
		m.EmailsFailedTotal,
		m.SendDurationSeconds,
		m.BulkJobsTotal,
		m.BulkJobActive,
		m.BulkJobRemaining,
		m.TagValuesConsumedTotal,
		m.EventsDroppedTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncEmailsSent increments the sent counter for one server
func IncEmailsSent(server string) {
	m := Global()
	if m != nil {
		m.EmailsSentTotal.WithLabelValues(server).Inc()
	}
}

// IncEmailsFailed increments the failed counter for one server
func IncEmailsFailed(server, errorType string) {
	m := Global()
	if m != nil {
		m.EmailsFailedTotal.WithLabelValues(server, errorType).Inc()
	}
}

// ObserveSendDuration records one delivery attempt duration
func ObserveSendDuration(seconds float64) {
	m := Global()
	if m != nil {
		m.SendDurationSeconds.Observe(seconds)
	}
}

// JobStarted marks a bulk job as running
func JobStarted(remaining int) {
	m := Global()
	if m != nil {
		m.BulkJobActive.Set(1)
		m.BulkJobRemaining.Set(float64(remaining))
	}
}

// JobFinished records the terminal outcome of a bulk job
func JobFinished(outcome string) {
	m := Global()
	if m != nil {
		m.BulkJobActive.Set(0)
		m.BulkJobRemaining.Set(0)
		m.BulkJobsTotal.WithLabelValues(outcome).Inc()
	}
}

// SetJobRemaining updates the remaining gauge mid-job
func SetJobRemaining(remaining int) {
	m := Global()
	if m != nil {
		m.BulkJobRemaining.Set(float64(remaining))
	}
}

// IncTagValuesConsumed counts one vault draw
func IncTagValuesConsumed() {
	m := Global()
	if m != nil {
		m.TagValuesConsumedTotal.Inc()
	}
}

// IncEventsDropped counts one discarded progress event
func IncEventsDropped() {
	m := Global()
	if m != nil {
		m.EventsDroppedTotal.Inc()
	}
}

// ObserveAPIRequest records one finished HTTP request
func ObserveAPIRequest(method, path, status string, seconds float64) {
	m := Global()
	if m != nil {
		m.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.APIRequestDurationSeconds.WithLabelValues(method, path).Observe(seconds)
	}
}
