package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the orchestrator.
type Metrics struct {
	ChecksTotal   *prometheus.CounterVec
	CheckDuration prometheus.Histogram
	CacheHits     prometheus.Counter
	BatchesTotal  *prometheus.CounterVec
}

// NewMetrics constructs the collectors and registers them on reg. A nil reg
// gets a dedicated registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	checks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_checks_total",
			Help: "Book availability checks by outcome.",
		},
		[]string{"outcome"},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_check_duration_seconds",
			Help:    "Wall time of a full availability check across all scrapers.",
			Buckets: prometheus.DefBuckets,
		},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_cache_hits_total",
			Help: "Checks answered from the report cache.",
		},
	)
	batches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_batches_total",
			Help: "Batches processed by outcome.",
		},
		[]string{"outcome"},
	)

	reg.MustRegister(checks, duration, cacheHits, batches)

	return &Metrics{
		ChecksTotal:   checks,
		CheckDuration: duration,
		CacheHits:     cacheHits,
		BatchesTotal:  batches,
	}
}

func (m *Metrics) observeCheck(succeeded bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !succeeded {
		outcome = "failure"
	}
	m.ChecksTotal.WithLabelValues(outcome).Inc()
	m.CheckDuration.Observe(d.Seconds())
}

func (m *Metrics) incCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func (m *Metrics) incBatch(ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.BatchesTotal.WithLabelValues(outcome).Inc()
}
