package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the probe engine.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	ProbesTotal     *prometheus.CounterVec
	RecordsTotal    prometheus.Counter
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	BreakerState    prometheus.Gauge
	InFlight        prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopprobe_requests_total",
			Help: "Total HTTP requests issued, by status class.",
		},
		[]string{"status"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shopprobe_request_duration_seconds",
			Help:    "HTTP request latency for probe requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	probes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopprobe_probes_total",
			Help: "Completed probes by outcome.",
		},
		[]string{"outcome"},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopprobe_records_total",
			Help: "Total number of product records sent to the writer.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopprobe_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopprobe_errors_total",
			Help: "Total number of failed probes by error type.",
		},
		[]string{"error_type"},
	)
	breakerState := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopprobe_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopprobe_inflight_probes",
			Help: "Probes currently holding a concurrency slot.",
		},
	)

	registry.MustRegister(requests, requestDuration, probes, records, retries, errorsTotal, breakerState, inFlight)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		ProbesTotal:     probes,
		RecordsTotal:    records,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		BreakerState:    breakerState,
		InFlight:        inFlight,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(status).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncProbe increments the probe counter for an outcome label.
func (m *Metrics) IncProbe(outcome string) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(outcome).Inc()
}

// AddRecords increments the records counter.
func (m *Metrics) AddRecords(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsTotal.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// SetBreakerState publishes the breaker state.
func (m *Metrics) SetBreakerState(state BreakerState) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
}

// AddInFlight adjusts the in-flight gauge.
func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}
