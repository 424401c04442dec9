package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors shared by all catalog scrapers.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	ChecksTotal     *prometheus.CounterVec
}

// NewMetrics constructs the collectors and registers them on reg. A nil reg
// gets a dedicated registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total catalog HTTP requests issued, by service.",
		},
		[]string{"service"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "Catalog request latency, by service.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of request retries, by service.",
		},
		[]string{"service"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by service and type.",
		},
		[]string{"service", "error_type"},
	)
	checks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_checks_total",
			Help: "Availability checks by service and claimed availability.",
		},
		[]string{"service", "available"},
	)

	reg.MustRegister(requests, requestDuration, retries, errorsTotal, checks)

	return &Metrics{
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		ChecksTotal:     checks,
	}
}

// IncRequest increments the requests counter.
func (m *Metrics) IncRequest(service string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(service).Inc()
}

// ObserveDuration records a request duration.
func (m *Metrics) ObserveDuration(service string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(service).Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries(service string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(service).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(service, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(service, errorType).Inc()
}

// IncCheck counts a completed check.
func (m *Metrics) IncCheck(service string, available bool) {
	if m == nil {
		return
	}
	label := "false"
	if available {
		label = "true"
	}
	m.ChecksTotal.WithLabelValues(service, label).Inc()
}
