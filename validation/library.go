package validation

import (
	"fmt"
	"math"
	"strings"

	"github.com/shelfhelp/shelfhelp-ai/models"
	"github.com/shelfhelp/shelfhelp-ai/parser"
)

var (
	libraryStrongIndicators = []string{
		"available",
		"in stock",
		"on shelf",
		"available now",
		"check out",
		"borrow",
		"reserve",
	}
	libraryWeakIndicators = []string{
		"library",
		"catalog",
		"collection",
		"branch",
		"location",
	}
	libraryFalsePositivePatterns = []string{
		"not available",
		"checked out",
		"on hold",
		"waiting list",
		"on order",
		"processing",
		"in transit",
		"missing",
		"withdrawn",
	}
	libraryWaitTimeIndicators = []string{
		"hold",
		"waiting",
		"queue",
		"estimated wait",
		"next available",
	}
	libraryFormatIndicators    = []string{"ebook", "e-book", "audiobook", "large print", "hardcover", "paperback"}
	libraryImmediateIndicators = []string{"available now", "on shelf", "in stock", "check out"}
	libraryFutureIndicators    = []string{"on order", "coming soon", "processing"}
)

// inconsistentSpread is the confidence spread across library systems above
// which a data-quality warning is raised.
const inconsistentSpread = 0.5

// LibraryRules validates public-library catalog claims. Catalog metadata is
// usually exact, so title and author weigh equally.
type LibraryRules struct{}

func (LibraryRules) Kind() Kind { return KindLibrary }

func (LibraryRules) ValidateServiceSpecific(result *models.AvailabilityResult, book *models.Book, out *models.ValidationResult) {
	if !requireAvailability(result, out) {
		return
	}

	e := newEvaluation(out)
	content := resultContent(result)

	e.diag.StrongIndicators = parser.FindAll(content, libraryStrongIndicators)
	e.diag.WeakIndicators = parser.FindAll(content, libraryWeakIndicators)
	strong := len(e.diag.StrongIndicators) > 0
	weakOnly := !strong && len(e.diag.WeakIndicators) > 0
	switch {
	case strong:
		e.boost(0.2, "Strong library availability indicators found")
	case weakOnly:
		e.penalty(0.1, "Only generic library indicators found")
	}

	e.diag.FalsePositivePatterns = parser.FindAll(content, libraryFalsePositivePatterns)
	if len(e.diag.FalsePositivePatterns) > 0 {
		e.penalty(0.3, "Negative status patterns detected: "+strings.Join(e.diag.FalsePositivePatterns, ", "))
	}

	e.diag.WaitTimeIndicators = parser.FindAll(content, libraryWaitTimeIndicators)
	waitTime := len(e.diag.WaitTimeIndicators) > 0
	if waitTime {
		e.warn("Potential wait time detected: " + strings.Join(e.diag.WaitTimeIndicators, ", "))
		e.penalty(0.2, "Wait time indicators present")
	}

	if parser.ContainsAny(content, libraryFormatIndicators) {
		e.boost(0.05, "Format information detected")
	}

	match := matchConfidence(result, book, content, 0.5, 0.5)
	e.diag.MatchConfidence = match
	switch {
	case match < 0.4:
		e.penalty(0.25, "Poor title/author match")
	case match > 0.8:
		e.boost(0.1, "Strong title/author match")
	}

	if parser.ContainsAny(content, libraryImmediateIndicators) {
		e.boost(0.15, "Immediate availability detected")
	}
	if parser.ContainsAny(content, libraryFutureIndicators) {
		e.boost(0.05, "Future availability detected")
	}

	checkLibrarySystems(result, e)

	fp := 0.2
	if weakOnly {
		fp += 0.2
	}
	if len(e.diag.FalsePositivePatterns) > 0 {
		fp += 0.3
	}
	if match < 0.4 {
		fp += 0.2
	}
	if waitTime {
		fp += 0.15
	}
	e.finish(math.Min(fp, 0.9))
}

// checkLibrarySystems raises data-quality warnings about the per-system
// payload. A missing payload means no systems were checked.
func checkLibrarySystems(result *models.AvailabilityResult, e *evaluation) {
	if len(result.LibraryAvailability) == 0 {
		if result.IsAvailable() {
			e.warn("Available claim without any library systems checked")
		}
		return
	}
	if len(result.LibraryAvailability) < 2 {
		return
	}
	lo, hi := 1.0, 0.0
	for _, status := range result.LibraryAvailability {
		lo = math.Min(lo, status.Confidence)
		hi = math.Max(hi, status.Confidence)
	}
	if hi-lo > inconsistentSpread {
		e.warn(fmt.Sprintf("Inconsistent confidence across library systems (%.2f-%.2f)", lo, hi))
	}
}
