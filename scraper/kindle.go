package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/shelfhelp/shelfhelp-ai/config"
	"github.com/shelfhelp/shelfhelp-ai/models"
	"github.com/shelfhelp/shelfhelp-ai/parser"
)

var (
	kuPageIndicators = []string{
		"kindle unlimited",
		"included with kindle unlimited",
		"read for free",
		"$0.00",
	}
	kuNegativeIndicators = []string{
		"no results for",
		"did not match any products",
	}
	kuExpiryPattern = regexp.MustCompile(`(?:kindle unlimited|read for free) until ([a-z]+ \d{1,2}, \d{4})`)
)

// minTitleSimilarity is the Jaro-Winkler score below which a search page is
// assumed to be about some other book.
const minTitleSimilarity = 0.5

// KindleUnlimitedScraper searches the Kindle store restricted to ebooks.
type KindleUnlimitedScraper struct {
	*baseScraper
	baseURL string
}

// NewKindleUnlimited builds the Kindle Unlimited scraper.
func NewKindleUnlimited(cfg *config.Config, opts Options) (*KindleUnlimitedScraper, error) {
	base, err := newBaseScraper(models.ServiceKindleUnlimited, cfg, opts)
	if err != nil {
		return nil, err
	}
	return &KindleUnlimitedScraper{
		baseScraper: base,
		baseURL:     strings.TrimRight(cfg.KindleUnlimitedURL, "/"),
	}, nil
}

// SearchURL is the Kindle store search for book.
func (s *KindleUnlimitedScraper) SearchURL(book *models.Book) string {
	return fmt.Sprintf("%s/s?k=%s&i=digital-text", s.baseURL, url.QueryEscape(book.SearchQuery()))
}

// Check looks for Kindle Unlimited markers on the search page. A page whose
// headings do not resemble the title yields zero confidence no matter what
// markers it carries.
func (s *KindleUnlimitedScraper) Check(ctx context.Context, book *models.Book) (*models.AvailabilityResult, error) {
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
	found := parser.FindAll(content, kuPageIndicators)

	result := &models.AvailabilityResult{
		Available: models.Bool(false),
		Metadata: models.ResultMetadata{
			SearchContent:   truncate(content, maxSearchContent),
			SearchURL:       target,
			TitleSimilarity: parser.RoundConfidence(similarity),
			ResponseTimeMS:  p.Elapsed.Milliseconds(),
		},
	}

	switch {
	case parser.ContainsAny(content, kuNegativeIndicators):
		result.Details = "No Kindle results for this search"
	case similarity < minTitleSimilarity:
		result.Details = "No matching title found in Kindle results"
	case len(found) == 0:
		result.Confidence = 0.2
		result.Details = "Title found but no Kindle Unlimited markers"
	default:
		result.Available = models.Bool(true)
		result.KUAvailability = true
		result.Confidence = 0.5 + 0.1*float64(len(found)-1)
		if similarity >= 0.9 {
			result.Confidence += 0.1
		}
		result.Confidence = min(result.Confidence, 0.9)
		result.Details = snippet(content, found[0], 80)
		if m := kuExpiryPattern.FindStringSubmatch(content); m != nil {
			result.KUExpiresOn = m[1]
		}
	}

	return s.finish(result, nil)
}
