package models

import "time"

// SourceOutcome is one scraper's settled result inside a report. Exactly one
// of Result and Error is set.
type SourceOutcome struct {
	Source     string              `json:"source"`
	CheckedAt  time.Time           `json:"checked_at"`
	Result     *AvailabilityResult `json:"result,omitempty"`
	Error      string              `json:"error,omitempty"`
	Validation *ValidationResult   `json:"validation,omitempty"`

	// FinalConfidence is the validated confidence after cross-validation.
	FinalConfidence        float64 `json:"final_confidence"`
	CrossValidated         bool    `json:"cross_validated,omitempty"`
	CrossValidationWarning string  `json:"cross_validation_warning,omitempty"`
}

// Failed reports whether the scraper rejected.
func (o *SourceOutcome) Failed() bool {
	return o.Error != ""
}

// AvailabilityReport is the orchestrator's answer for one book.
type AvailabilityReport struct {
	CheckID           string            `json:"check_id"`
	BookKey           string            `json:"book_key"`
	BookTitle         string            `json:"book_title"`
	Author            string            `json:"author"`
	CheckedAt         time.Time         `json:"checked_at"`
	Duration          time.Duration     `json:"duration"`
	Sources           []SourceOutcome   `json:"sources"`
	Summary           *ValidationReport `json:"summary,omitempty"`
	Available         bool              `json:"available"`
	OverallConfidence float64           `json:"overall_confidence"`
	Cached            bool              `json:"cached,omitempty"`
}

// Source returns the outcome recorded for name, or nil.
func (r *AvailabilityReport) Source(name string) *SourceOutcome {
	if r == nil {
		return nil
	}
	for i := range r.Sources {
		if r.Sources[i].Source == name {
			return &r.Sources[i]
		}
	}
	return nil
}

// Clone returns a deep copy of r, so the copy can be handed out while r
// stays cached.
func (r *AvailabilityReport) Clone() *AvailabilityReport {
	if r == nil {
		return nil
	}
	c := *r
	if r.Sources != nil {
		c.Sources = make([]SourceOutcome, len(r.Sources))
		for i, o := range r.Sources {
			o.Result = o.Result.Clone()
			o.Validation = o.Validation.Clone()
			c.Sources[i] = o
		}
	}
	c.Summary = r.Summary.Clone()
	return &c
}

// BatchOutcome records how one batch of books went.
type BatchOutcome struct {
	Index    int           `json:"index"`
	Size     int           `json:"size"`
	Checked  int           `json:"checked"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// BatchReport holds the overall result of a batch run.
type BatchReport struct {
	BatchID   string                `json:"batch_id"`
	StartTime time.Time             `json:"start_time"`
	EndTime   time.Time             `json:"end_time"`
	Total     int                   `json:"total"`
	Checked   int                   `json:"checked"`
	Failed    int                   `json:"failed"`
	Batches   []BatchOutcome        `json:"batches"`
	Reports   []*AvailabilityReport `json:"reports"`
}
