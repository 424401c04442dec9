package validation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shelfhelp/shelfhelp-ai/models"
)

// Metrics bundles Prometheus collectors for validators.
type Metrics struct {
	ValidationsTotal   *prometheus.CounterVec
	AdjustedConfidence *prometheus.HistogramVec
	FactorsTotal       *prometheus.CounterVec
}

// NewMetrics constructs the collectors and registers them on reg. A nil reg
// gets a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	validations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validator_validations_total",
			Help: "Total availability validations by validator and outcome.",
		},
		[]string{"validator", "outcome"},
	)
	adjusted := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "validator_adjusted_confidence",
			Help:    "Adjusted confidence produced by validators.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"validator"},
	)
	factors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validator_factors_total",
			Help: "Confidence factors applied by validators, by type.",
		},
		[]string{"validator", "type"},
	)

	reg.MustRegister(validations, adjusted, factors)

	return &Metrics{
		ValidationsTotal:   validations,
		AdjustedConfidence: adjusted,
		FactorsTotal:       factors,
	}
}

func (m *Metrics) observe(validator string, out *models.ValidationResult) {
	if m == nil {
		return
	}
	outcome := "passed"
	if !out.Valid {
		outcome = "failed"
	}
	m.ValidationsTotal.WithLabelValues(validator, outcome).Inc()
	if out.Valid {
		m.AdjustedConfidence.WithLabelValues(validator).Observe(out.AdjustedConfidence)
	}
	for _, f := range out.Factors {
		m.FactorsTotal.WithLabelValues(validator, string(f.Type)).Inc()
	}
}
