package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/shelfhelp/shelfhelp-ai/config"
	"github.com/shelfhelp/shelfhelp-ai/models"
	"github.com/shelfhelp/shelfhelp-ai/parser"
)

var (
	libraryBorrowIndicators = []string{"available now", "borrow", "check out", "on shelf"}
	libraryHoldIndicators   = []string{"place a hold", "wait list", "waitlist", "people waiting", "holds"}
	libraryEbookIndicators  = []string{"ebook", "e-book", "kindle book"}
	libraryAudioIndicators  = []string{"audiobook", "audio book"}
)

var libraryStatusConfidence = map[string]float64{
	models.StatusAvailable:   0.8,
	models.StatusHold:        0.5,
	models.StatusUnavailable: 0.3,
}

// LibraryScraper searches each configured OverDrive-style library catalog.
type LibraryScraper struct {
	*baseScraper
	systems []config.LibrarySystem
}

// NewLibrary builds the library scraper over cfg.LibrarySystems.
func NewLibrary(cfg *config.Config, opts Options) (*LibraryScraper, error) {
	if len(cfg.LibrarySystems) == 0 {
		return nil, errors.New("library scraper needs at least one library system")
	}
	base, err := newBaseScraper(models.ServiceLibrary, cfg, opts)
	if err != nil {
		return nil, err
	}
	return &LibraryScraper{baseScraper: base, systems: cfg.LibrarySystems}, nil
}

// SearchURL is the catalog search for book in one library system.
func (s *LibraryScraper) SearchURL(system config.LibrarySystem, book *models.Book) string {
	return fmt.Sprintf("%s/search?query=%s", strings.TrimRight(system.BaseURL, "/"), url.QueryEscape(book.SearchQuery()))
}

// Check searches every library system in turn. Systems that fail are
// reported with unknown status; the check only fails when all of them do.
func (s *LibraryScraper) Check(ctx context.Context, book *models.Book) (*models.AvailabilityResult, error) {
	if book.SearchQuery() == "" {
		return nil, fmt.Errorf("%s: %w", s.name, ErrNoSearchTerms)
	}

	statuses := make(map[string]models.LibraryStatus, len(s.systems))
	var (
		contents  []string
		failures  int
		lastErr   error
		bestSim   float64
		elapsedMS int64
	)
	for _, system := range s.systems {
		target := s.SearchURL(system, book)
		p, err := s.fetch(ctx, target)
		if err != nil {
			failures++
			lastErr = err
			statuses[system.Name] = models.LibraryStatus{
				EbookStatus: models.StatusUnknown,
				AudioStatus: models.StatusUnknown,
				SearchURL:   target,
			}
			slog.Warn("library system check failed",
				slog.String("system", system.Name),
				slog.Any("error", err),
			)
			continue
		}

		content := parser.ExtractContent(p.Body)
		similarity := titleSimilarity(book.DisplayTitle(), parser.ExtractHeadings(p.Body), content)
		bestSim = max(bestSim, similarity)
		elapsedMS += p.Elapsed.Milliseconds()
		contents = append(contents, content)

		status := systemStatus(content, similarity)
		status.SearchURL = target
		statuses[system.Name] = status
	}

	if failures == len(s.systems) {
		return s.finish(nil, fmt.Errorf("all %d library systems failed: %w", failures, lastErr))
	}

	var availableAt, holdAt int
	var best, bestAny float64
	for _, status := range statuses {
		bestAny = max(bestAny, status.Confidence)
		switch {
		case status.EbookStatus == models.StatusAvailable || status.AudioStatus == models.StatusAvailable:
			availableAt++
			best = max(best, status.Confidence)
		case status.EbookStatus == models.StatusHold || status.AudioStatus == models.StatusHold:
			holdAt++
		}
	}

	result := &models.AvailabilityResult{
		Available:           models.Bool(availableAt > 0),
		LibraryAvailability: statuses,
		Metadata: models.ResultMetadata{
			SearchContent:   truncate(strings.Join(contents, " "), maxSearchContent),
			SearchURL:       statuses[s.systems[0].Name].SearchURL,
			TitleSimilarity: parser.RoundConfidence(bestSim),
			ResponseTimeMS:  elapsedMS,
		},
	}
	switch {
	case availableAt > 0:
		result.Confidence = best
		result.Details = fmt.Sprintf("Available now at %d of %d library systems", availableAt, len(s.systems))
	case holdAt > 0:
		result.Confidence = bestAny * 0.5
		result.Details = fmt.Sprintf("Hold required at %d of %d library systems", holdAt, len(s.systems))
	default:
		result.Confidence = bestAny * 0.5
		result.Details = fmt.Sprintf("Not found in %d library systems", len(s.systems))
	}

	return s.finish(result, nil)
}

// systemStatus reads one catalog page. Pages that do not list the title
// count as unavailable with low confidence.
func systemStatus(content string, similarity float64) models.LibraryStatus {
	if similarity < 0.8 {
		return models.LibraryStatus{
			EbookStatus: models.StatusUnavailable,
			AudioStatus: models.StatusUnavailable,
			Confidence:  0.1,
		}
	}

	state := models.StatusUnavailable
	switch {
	case parser.ContainsAny(content, libraryBorrowIndicators):
		state = models.StatusAvailable
	case parser.ContainsAny(content, libraryHoldIndicators):
		state = models.StatusHold
	}

	status := models.LibraryStatus{
		EbookStatus: models.StatusUnknown,
		AudioStatus: models.StatusUnknown,
		Confidence:  libraryStatusConfidence[state],
	}
	hasEbook := parser.ContainsAny(content, libraryEbookIndicators)
	hasAudio := parser.ContainsAny(content, libraryAudioIndicators)
	if hasEbook || !hasAudio {
		status.EbookStatus = state
	}
	if hasAudio {
		status.AudioStatus = state
	}
	return status
}
