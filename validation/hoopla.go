package validation

import (
	"math"
	"strings"

	"github.com/shelfhelp/shelfhelp-ai/models"
	"github.com/shelfhelp/shelfhelp-ai/parser"
)

var (
	hooplaStrongIndicators = []string{
		"hoopla",
		"available on hoopla",
		"hoopla digital",
		"borrow from hoopla",
		"hoopla instant",
	}
	hooplaWeakIndicators = []string{
		"digital library",
		"library ebook",
		"digital collection",
		"instant access",
	}
	hooplaFalsePositivePatterns = []string{
		"not available",
		"unavailable",
		"coming soon",
		"pre-order",
		"out of stock",
		"temporarily unavailable",
	}
	hooplaFormatIndicators  = []string{"ebook", "audiobook", "digital", "streaming"}
	hooplaLibraryIndicators = []string{
		"library card",
		"public library",
		"your library",
		"library system",
		"free with your library",
	}
	hooplaGenres = []string{"romance", "fiction", "mystery", "thriller", "contemporary"}
)

// HooplaRules validates Hoopla claims. Hoopla pages carry weaker signals
// than Amazon so the penalties are steeper.
type HooplaRules struct{}

func (HooplaRules) Kind() Kind { return KindHoopla }

func (HooplaRules) ValidateServiceSpecific(result *models.AvailabilityResult, book *models.Book, out *models.ValidationResult) {
	if !requireAvailability(result, out) {
		return
	}

	e := newEvaluation(out)
	content := resultContent(result)

	e.diag.StrongIndicators = parser.FindAll(content, hooplaStrongIndicators)
	e.diag.WeakIndicators = parser.FindAll(content, hooplaWeakIndicators)
	strong := len(e.diag.StrongIndicators) > 0
	weakOnly := !strong && len(e.diag.WeakIndicators) > 0
	switch {
	case strong:
		e.boost(0.25, "Strong Hoopla indicators found")
	case weakOnly:
		e.penalty(0.15, "Only weak digital library indicators found")
	}

	e.diag.FalsePositivePatterns = parser.FindAll(content, hooplaFalsePositivePatterns)
	if len(e.diag.FalsePositivePatterns) > 0 {
		e.penalty(0.4, "False positive patterns detected: "+strings.Join(e.diag.FalsePositivePatterns, ", "))
	}

	if parser.ContainsAny(content, hooplaFormatIndicators) {
		e.boost(0.1, "Digital format detected")
	}

	libraryContext := parser.ContainsAny(content, hooplaLibraryIndicators)
	if libraryContext {
		e.boost(0.15, "Library context detected")
	}

	match := matchConfidence(result, book, content, 0.7, 0.3)
	e.diag.MatchConfidence = match
	switch {
	case match < 0.4:
		e.penalty(0.25, "Poor title/author match")
	case match > 0.8:
		e.boost(0.1, "Strong title/author match")
	}

	if genreMatches(book, hooplaGenres) {
		e.boost(0.05, "Genre commonly carried by Hoopla")
	}

	fp := 0.15
	if weakOnly {
		fp += 0.2
	}
	if len(e.diag.FalsePositivePatterns) > 0 {
		fp += 0.3
	}
	if match < 0.4 {
		fp += 0.2
	}
	if libraryContext {
		fp -= 0.1
	}
	e.finish(math.Max(0, math.Min(fp, 0.9)))
}

func genreMatches(book *models.Book, genres []string) bool {
	for _, g := range book.AllGenres() {
		if parser.ContainsAny(strings.ToLower(g), genres) {
			return true
		}
	}
	return false
}
