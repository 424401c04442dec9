package scraper

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/shelfhelp/shelfhelp-ai/config"
	"github.com/shelfhelp/shelfhelp-ai/models"
	"github.com/shelfhelp/shelfhelp-ai/parser"
)

var (
	hooplaBorrowIndicators   = []string{"borrow", "instant", "available now", "read now", "listen now"}
	hooplaNegativeIndicators = []string{"no results", "0 results", "not available", "unavailable"}
	hooplaFormats            = []struct {
		name     string
		patterns []string
	}{
		{name: "ebook", patterns: []string{"ebook", "e-book"}},
		{name: "audiobook", patterns: []string{"audiobook", "audio book"}},
		{name: "comic", patterns: []string{"comic", "graphic novel"}},
	}
)

// HooplaScraper searches the Hoopla digital catalog.
type HooplaScraper struct {
	*baseScraper
	baseURL string
}

// NewHoopla builds the Hoopla scraper.
func NewHoopla(cfg *config.Config, opts Options) (*HooplaScraper, error) {
	base, err := newBaseScraper(models.ServiceHoopla, cfg, opts)
	if err != nil {
		return nil, err
	}
	return &HooplaScraper{
		baseScraper: base,
		baseURL:     strings.TrimRight(cfg.HooplaURL, "/"),
	}, nil
}

// SearchURL is the Hoopla catalog search for book.
func (s *HooplaScraper) SearchURL(book *models.Book) string {
	return fmt.Sprintf("%s/search?q=%s", s.baseURL, url.QueryEscape(book.SearchQuery()))
}

// Check reports which Hoopla formats carry the book. Confidence grows with
// a title match, a borrow action and a recognised format.
func (s *HooplaScraper) Check(ctx context.Context, book *models.Book) (*models.AvailabilityResult, error) {
	if book.SearchQuery() == "" {
		return nil, fmt.Errorf("%s: %w", s.name, ErrNoSearchTerms)
	}

	target := s.SearchURL(book)
	p, err := s.fetch(ctx, target)
	if err != nil {
		return s.finish(nil, err)
	}

	content := parser.ExtractContent(p.Body)
	similarity := titleSimilarity(book.DisplayTitle(), parser.ExtractHeadings(p.Body), content)

	formats := []string{}
	for _, f := range hooplaFormats {
		if parser.ContainsAny(content, f.patterns) {
			formats = append(formats, f.name)
		}
	}
	negative := parser.ContainsAny(content, hooplaNegativeIndicators)

	var confidence float64
	if similarity >= 0.8 {
		confidence += 0.4
	}
	if parser.ContainsAny(content, hooplaBorrowIndicators) {
		confidence += 0.3
	}
	if len(formats) > 0 {
		confidence += 0.2
	}
	if negative {
		confidence = min(confidence, 0.2)
	}
	available := !negative && confidence >= 0.5

	result := &models.AvailabilityResult{
		Available:     models.Bool(available),
		Confidence:    confidence,
		FormatDetails: formats,
		Metadata: models.ResultMetadata{
			SearchContent:   truncate(content, maxSearchContent),
			SearchURL:       target,
			TitleSimilarity: parser.RoundConfidence(similarity),
			ResponseTimeMS:  p.Elapsed.Milliseconds(),
		},
	}
	if available {
		result.HooplaEbookAvailable = slices.Contains(formats, "ebook")
		result.HooplaAudioAvailable = slices.Contains(formats, "audiobook")
		result.Details = "Available on Hoopla"
		if len(formats) > 0 {
			result.Details += " as " + strings.Join(formats, ", ")
		}
	} else {
		result.Details = "Not found on Hoopla"
	}

	return s.finish(result, nil)
}
