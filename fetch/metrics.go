package fetch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the fetch orchestrator.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	CacheTotal      *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	ThrottleSeconds prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_requests_total",
			Help: "Total HTTP requests issued by the fetch orchestrator.",
		},
		[]string{"result"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_request_duration_seconds",
			Help:    "HTTP request latency for catalog fetches.",
			Buckets: prometheus.DefBuckets,
		},
	)
	cacheTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_cache_lookups_total",
			Help: "Cache lookups before network dispatch, by outcome.",
		},
		[]string{"outcome"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	throttle := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_throttle_interval_seconds",
			Help: "Current enforced minimum inter-request interval.",
		},
	)

	registry.MustRegister(requests, requestDuration, cacheTotal, retries, errorsTotal, throttle)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		CacheTotal:      cacheTotal,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		ThrottleSeconds: throttle,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(result string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(result).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncCache records a cache lookup outcome ("hit" or "miss").
func (m *Metrics) IncCache(outcome string) {
	if m == nil {
		return
	}
	m.CacheTotal.WithLabelValues(outcome).Inc()
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

// SetThrottleInterval records the current shared inter-request interval.
func (m *Metrics) SetThrottleInterval(d time.Duration) {
	if m == nil {
		return
	}
	m.ThrottleSeconds.Set(d.Seconds())
}
