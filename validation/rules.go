package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/shelfhelp/shelfhelp-ai/models"
	"github.com/shelfhelp/shelfhelp-ai/parser"
)

// neutralMatch is returned when there is no search content to match
// against; it sits between every penalty and boost threshold.
const neutralMatch = 0.5

// evaluation accumulates factors in rule order for one validation.
type evaluation struct {
	out     *models.ValidationResult
	factors []models.Factor
	diag    models.Diagnostics
}

func newEvaluation(out *models.ValidationResult) *evaluation {
	return &evaluation{out: out, factors: []models.Factor{}}
}

func (e *evaluation) boost(value float64, reason string) {
	e.factors = append(e.factors, models.Factor{Type: models.FactorBoost, Value: value, Reason: reason})
}

func (e *evaluation) penalty(value float64, reason string) {
	e.factors = append(e.factors, models.Factor{Type: models.FactorPenalty, Value: value, Reason: reason})
}

func (e *evaluation) warn(msg string) {
	e.out.Warnings = append(e.out.Warnings, msg)
}

// finish writes the factors, adjusted confidence and diagnostics onto out.
func (e *evaluation) finish(falsePositive float64) {
	e.diag.MatchConfidence = parser.RoundConfidence(e.diag.MatchConfidence)
	e.diag.FalsePositiveProbability = parser.RoundConfidence(falsePositive)
	e.out.Factors = e.factors
	e.out.AdjustedConfidence = AdjustConfidence(e.out.Confidence, e.factors)
	diag := e.diag
	e.out.Metadata.Diagnostics = &diag
}

// requireAvailability records the structural error shared by every service
// validator and reports whether scoring may continue.
func requireAvailability(result *models.AvailabilityResult, out *models.ValidationResult) bool {
	if result.Available == nil {
		out.Errors = append(out.Errors, "Missing availability status")
		return false
	}
	return true
}

// resultContent is the lower-cased text a validator searches: the details
// snippet plus the page content.
func resultContent(result *models.AvailabilityResult) string {
	return parser.ExtractContent(result.Details + " " + result.Metadata.SearchContent)
}

// matchConfidence weighs how much of the title and author occur in the
// fetched page. Without page content the score is neutral.
func matchConfidence(result *models.AvailabilityResult, book *models.Book, content string, titleWeight, authorWeight float64) float64 {
	if strings.TrimSpace(result.Metadata.SearchContent) == "" {
		return neutralMatch
	}
	title := book.DisplayTitle()
	author := book.Author()
	if title == "" && author == "" {
		return 0
	}
	return titleWeight*wordOverlap(title, content) + authorWeight*wordOverlap(author, content)
}

// wordOverlap is the share of significant words (longer than two letters)
// of text that appear anywhere in content.
func wordOverlap(text, content string) float64 {
	var total, found int
	for _, w := range parser.Words(text) {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		total++
		if strings.Contains(content, w) {
			found++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(found) / float64(total)
}
