package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shelfhelp/shelfhelp-ai/models"
	"github.com/shelfhelp/shelfhelp-ai/parser"
)

// ErrUnknownService is returned by Suite.Validate for a service that was not
// registered when the suite was built.
var ErrUnknownService = errors.New("validation: no validator registered for service")

// NewValidator picks the rule set for serviceName, case-insensitively.
// Unknown names get the generic pass-through validator rather than an error.
func NewValidator(serviceName string, opts Options) *AvailabilityValidator {
	return NewAvailabilityValidator(serviceName, rulesFor(serviceName), opts)
}

func rulesFor(serviceName string) ServiceRules {
	switch normalizeService(serviceName) {
	case "kindle_unlimited", "ku":
		return KindleUnlimitedRules{}
	case "hoopla":
		return HooplaRules{}
	case "library", "public_library":
		return LibraryRules{}
	default:
		return genericRules{}
	}
}

func normalizeService(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Suite holds one validator per registered service.
type Suite struct {
	services   []string
	validators map[string]*AvailabilityValidator
}

// NewSuite builds a validator for each service name.
func NewSuite(services []string, opts Options) *Suite {
	s := &Suite{validators: make(map[string]*AvailabilityValidator, len(services))}
	for _, name := range services {
		key := normalizeService(name)
		if _, ok := s.validators[key]; ok {
			continue
		}
		s.services = append(s.services, key)
		s.validators[key] = NewValidator(key, opts)
	}
	return s
}

// Services lists the registered service names in registration order.
func (s *Suite) Services() []string {
	out := make([]string, len(s.services))
	copy(out, s.services)
	return out
}

// Validator returns the validator registered for service, or nil.
func (s *Suite) Validator(service string) *AvailabilityValidator {
	return s.validators[normalizeService(service)]
}

// Validate runs the validator registered for service. Unlike NewValidator it
// refuses unregistered names.
func (s *Suite) Validate(service string, result *models.AvailabilityResult, book *models.Book) (*models.ValidationResult, error) {
	v := s.Validator(service)
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	return v.Validate(result, book), nil
}

// ValidateAll validates every result for one book in registration order and
// summarises them. Results for unregistered services fail the whole call.
func (s *Suite) ValidateAll(results map[string]*models.AvailabilityResult, book *models.Book) (map[string]*models.ValidationResult, *models.ValidationReport, error) {
	for name := range results {
		if s.Validator(name) == nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
		}
	}

	validated := make(map[string]*models.ValidationResult, len(results))
	ordered := make([]*models.ValidationResult, 0, len(results))
	for _, service := range s.services {
		for name, result := range results {
			if normalizeService(name) != service {
				continue
			}
			vr, _ := s.Validate(service, result, book)
			validated[name] = vr
			ordered = append(ordered, vr)
		}
	}
	return validated, GenerateReport(ordered), nil
}

// Stats returns every validator's counters keyed by service.
func (s *Suite) Stats() map[string]Stats {
	out := make(map[string]Stats, len(s.validators))
	for name, v := range s.validators {
		out[name] = v.Stats()
	}
	return out
}

// ResetStats zeroes every validator's counters.
func (s *Suite) ResetStats() {
	for _, v := range s.validators {
		v.ResetStats()
	}
}

// GenerateReport summarises a set of validation results. The overall
// confidence averages valid results only; the validation rate is a
// percentage string with one decimal.
func GenerateReport(results []*models.ValidationResult) *models.ValidationReport {
	report := &models.ValidationReport{
		Factors:   []models.Factor{},
		Warnings:  []string{},
		Errors:    []string{},
		Timestamp: time.Now(),
	}

	var confidenceSum float64
	for _, r := range results {
		if r == nil {
			continue
		}
		report.Summary.Total++
		if r.Valid {
			report.Summary.Valid++
			confidenceSum += r.AdjustedConfidence
		} else {
			report.Summary.Invalid++
		}
		report.Factors = append(report.Factors, r.Factors...)
		report.Warnings = append(report.Warnings, r.Warnings...)
		report.Errors = append(report.Errors, r.Errors...)
	}

	if report.Summary.Valid > 0 {
		report.Summary.OverallConfidence = parser.RoundConfidence(confidenceSum / float64(report.Summary.Valid))
	}
	rate := 0.0
	if report.Summary.Total > 0 {
		rate = float64(report.Summary.Valid) / float64(report.Summary.Total) * 100
	}
	report.Summary.ValidationRate = fmt.Sprintf("%.1f", math.Round(rate*10)/10)
	return report
}
