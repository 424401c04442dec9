// Package validation re-scores scraper availability claims with stricter,
// service-specific rules and aggregates the outcome across services.
package validation

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shelfhelp/shelfhelp-ai/models"
	"github.com/shelfhelp/shelfhelp-ai/parser"
)

// Kind tags which rule set a validator applies.
type Kind string

const (
	KindGeneric         Kind = "generic"
	KindKindleUnlimited Kind = "kindle_unlimited"
	KindHoopla          Kind = "hoopla"
	KindLibrary         Kind = "library"
)

// ServiceRules is the service-specific half of a validator. Implementations
// receive a result whose confidence is already normalised into out.Confidence
// and must leave out.AdjustedConfidence set unless they abort with an error.
type ServiceRules interface {
	Kind() Kind
	ValidateServiceSpecific(result *models.AvailabilityResult, book *models.Book, out *models.ValidationResult)
}

// Options configures validators built by the factory.
type Options struct {
	Metrics *Metrics
	Logger  *slog.Logger
}

// Stats is a snapshot of a validator's counters.
type Stats struct {
	Validations int     `json:"validations"`
	Passed      int     `json:"passed"`
	Failed      int     `json:"failed"`
	PassRate    float64 `json:"passRate"`
}

// AvailabilityValidator applies the shared checks, then delegates to its
// ServiceRules. It is safe for concurrent use.
type AvailabilityValidator struct {
	name    string
	rules   ServiceRules
	metrics *Metrics
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewAvailabilityValidator builds a validator around rules.
func NewAvailabilityValidator(name string, rules ServiceRules, opts Options) *AvailabilityValidator {
	if rules == nil {
		rules = genericRules{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AvailabilityValidator{
		name:    name,
		rules:   rules,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// Name returns the service name the validator was created for.
func (v *AvailabilityValidator) Name() string {
	return v.name
}

// Kind returns the rule set tag.
func (v *AvailabilityValidator) Kind() Kind {
	return v.rules.Kind()
}

// Validate scores result against book. It never panics on bad input: a nil
// result yields an invalid ValidationResult.
func (v *AvailabilityValidator) Validate(result *models.AvailabilityResult, book *models.Book) *models.ValidationResult {
	out := &models.ValidationResult{
		Factors:  []models.Factor{},
		Warnings: []string{},
		Errors:   []string{},
		Metadata: models.ValidationMetadata{
			Validator: v.name,
			Timestamp: time.Now(),
			Book:      book.DisplayTitle(),
		},
	}

	if result == nil {
		out.Errors = append(out.Errors, "Invalid result object")
		v.record(out)
		return out
	}

	confidence := result.Confidence
	if math.IsNaN(confidence) {
		out.Warnings = append(out.Warnings, "Invalid confidence value, defaulting to 0")
		confidence = 0
	}
	out.Confidence = clamp(confidence)

	v.rules.ValidateServiceSpecific(result, book, out)
	v.record(out)

	v.logger.Debug("availability validated",
		slog.String("validator", v.name),
		slog.String("book", out.Metadata.Book),
		slog.Bool("valid", out.Valid),
		slog.Float64("confidence", out.Confidence),
		slog.Float64("adjusted", out.AdjustedConfidence),
		slog.Int("factors", len(out.Factors)),
	)
	return out
}

// Stats returns a snapshot of the counters.
func (v *AvailabilityValidator) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.stats
	if s.Validations > 0 {
		s.PassRate = math.Round(float64(s.Passed)/float64(s.Validations)*1000) / 10
	}
	return s
}

// ResetStats zeroes the counters.
func (v *AvailabilityValidator) ResetStats() {
	v.mu.Lock()
	v.stats = Stats{}
	v.mu.Unlock()
}

func (v *AvailabilityValidator) record(out *models.ValidationResult) {
	out.Valid = len(out.Errors) == 0

	v.mu.Lock()
	v.stats.Validations++
	if out.Valid {
		v.stats.Passed++
	} else {
		v.stats.Failed++
	}
	v.mu.Unlock()

	v.metrics.observe(v.name, out)
}

// AdjustConfidence applies factors to base in list order and rounds to two
// decimals. A multiply factor scales whatever the earlier factors left.
func AdjustConfidence(base float64, factors []models.Factor) float64 {
	adjusted := base
	for _, f := range factors {
		switch f.Type {
		case models.FactorBoost:
			adjusted = math.Min(adjusted+f.Value, 1.0)
		case models.FactorPenalty:
			adjusted = math.Max(adjusted-f.Value, 0.0)
		case models.FactorMultiply:
			adjusted = adjusted * f.Value
		}
	}
	if math.IsNaN(adjusted) {
		return 0
	}
	return parser.RoundConfidence(adjusted)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// genericRules passes the normalised confidence through untouched.
type genericRules struct{}

func (genericRules) Kind() Kind { return KindGeneric }

func (genericRules) ValidateServiceSpecific(_ *models.AvailabilityResult, _ *models.Book, out *models.ValidationResult) {
	out.AdjustedConfidence = out.Confidence
}
