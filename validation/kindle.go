package validation

import (
	"math"
	"strings"

	"github.com/shelfhelp/shelfhelp-ai/models"
	"github.com/shelfhelp/shelfhelp-ai/parser"
)

var (
	kuStrongIndicators = []string{
		"kindle unlimited",
		"included with kindle unlimited",
		"read for free",
		"ku eligible",
		"unlimited reading",
	}
	kuWeakIndicators = []string{
		"kindle edition",
		"available on kindle",
		"digital book",
	}
	kuFalsePositivePatterns = []string{
		"not available",
		"out of print",
		"temporarily unavailable",
		"pre-order",
		"coming soon",
	}
	kuPricingIndicators = []string{"$0.00", "free", "included"}
)

// KindleUnlimitedRules validates Kindle Unlimited claims.
type KindleUnlimitedRules struct{}

func (KindleUnlimitedRules) Kind() Kind { return KindKindleUnlimited }

func (KindleUnlimitedRules) ValidateServiceSpecific(result *models.AvailabilityResult, book *models.Book, out *models.ValidationResult) {
	if !requireAvailability(result, out) {
		return
	}

	e := newEvaluation(out)
	content := resultContent(result)

	e.diag.StrongIndicators = parser.FindAll(content, kuStrongIndicators)
	e.diag.WeakIndicators = parser.FindAll(content, kuWeakIndicators)
	strong := len(e.diag.StrongIndicators) > 0
	weakOnly := !strong && len(e.diag.WeakIndicators) > 0
	switch {
	case strong:
		e.boost(0.2, "Strong Kindle Unlimited indicators found")
	case weakOnly:
		e.penalty(0.1, "Only weak Kindle indicators found")
	}

	e.diag.FalsePositivePatterns = parser.FindAll(content, kuFalsePositivePatterns)
	if len(e.diag.FalsePositivePatterns) > 0 {
		e.penalty(0.3, "False positive patterns detected: "+strings.Join(e.diag.FalsePositivePatterns, ", "))
	}

	if result.Metadata.SearchContent != "" && result.IsAvailable() && !parser.ContainsAny(content, kuPricingIndicators) {
		e.warn("Suspicious pricing: available claim without free or included pricing")
		e.penalty(0.1, "Suspicious pricing")
	}

	match := matchConfidence(result, book, content, 0.6, 0.4)
	e.diag.MatchConfidence = match
	switch {
	case match < 0.5:
		e.penalty(0.2, "Poor title/author match")
	case match > 0.8:
		e.boost(0.1, "Strong title/author match")
	}

	fp := 0.1
	if weakOnly {
		fp += 0.2
	}
	if len(e.diag.FalsePositivePatterns) > 0 {
		fp += 0.3
	}
	if match < 0.5 {
		fp += 0.2
	}
	e.finish(math.Min(fp, 0.9))
}
