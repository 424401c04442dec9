package models

import (
	"slices"
	"time"
)

// FactorType selects how a factor moves the running confidence.
type FactorType string

const (
	FactorBoost    FactorType = "boost"
	FactorPenalty  FactorType = "penalty"
	FactorMultiply FactorType = "multiply"
)

// Factor is one named adjustment. Factors are applied in list order.
type Factor struct {
	Type   FactorType `json:"type"`
	Value  float64    `json:"value"`
	Reason string     `json:"reason"`
}

// Diagnostics records what a validator saw. Nothing here feeds back into
// the adjusted confidence.
type Diagnostics struct {
	MatchConfidence          float64  `json:"matchConfidence"`
	FalsePositiveProbability float64  `json:"falsePositiveProbability"`
	StrongIndicators         []string `json:"strongIndicators,omitempty"`
	WeakIndicators           []string `json:"weakIndicators,omitempty"`
	FalsePositivePatterns    []string `json:"falsePositivePatterns,omitempty"`
	WaitTimeIndicators       []string `json:"waitTimeIndicators,omitempty"`
}

// ValidationMetadata identifies the validator run.
type ValidationMetadata struct {
	Validator   string       `json:"validator"`
	Timestamp   time.Time    `json:"timestamp"`
	Book        string       `json:"book"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
}

// ValidationResult is a validator's verdict on one AvailabilityResult.
// Valid is false exactly when Errors is non-empty.
type ValidationResult struct {
	Valid              bool               `json:"valid"`
	Confidence         float64            `json:"confidence"`
	AdjustedConfidence float64            `json:"adjustedConfidence"`
	Factors            []Factor           `json:"factors"`
	Warnings           []string           `json:"warnings"`
	Errors             []string           `json:"errors"`
	Metadata           ValidationMetadata `json:"metadata"`
}

// ValidationSummary aggregates a set of validation results.
type ValidationSummary struct {
	Total             int     `json:"total"`
	Valid             int     `json:"valid"`
	Invalid           int     `json:"invalid"`
	OverallConfidence float64 `json:"overallConfidence"`
	ValidationRate    string  `json:"validationRate"`
}

// ValidationReport is the suite-level summary handed to callers.
type ValidationReport struct {
	Summary   ValidationSummary `json:"summary"`
	Factors   []Factor          `json:"factors"`
	Warnings  []string          `json:"warnings"`
	Errors    []string          `json:"errors"`
	Timestamp time.Time         `json:"timestamp"`
}

// Clone returns a deep copy of v.
func (v *ValidationResult) Clone() *ValidationResult {
	if v == nil {
		return nil
	}
	c := *v
	c.Factors = slices.Clone(v.Factors)
	c.Warnings = slices.Clone(v.Warnings)
	c.Errors = slices.Clone(v.Errors)
	if d := v.Metadata.Diagnostics; d != nil {
		dc := *d
		dc.StrongIndicators = slices.Clone(d.StrongIndicators)
		dc.WeakIndicators = slices.Clone(d.WeakIndicators)
		dc.FalsePositivePatterns = slices.Clone(d.FalsePositivePatterns)
		dc.WaitTimeIndicators = slices.Clone(d.WaitTimeIndicators)
		c.Metadata.Diagnostics = &dc
	}
	return &c
}

// Clone returns a deep copy of r.
func (r *ValidationReport) Clone() *ValidationReport {
	if r == nil {
		return nil
	}
	c := *r
	c.Factors = slices.Clone(r.Factors)
	c.Warnings = slices.Clone(r.Warnings)
	c.Errors = slices.Clone(r.Errors)
	return &c
}
