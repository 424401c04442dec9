// Package orchestrator runs every catalog scraper for a book, validates what
// they report and reconciles the claims into one availability report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shelfhelp/shelfhelp-ai/config"
	"github.com/shelfhelp/shelfhelp-ai/models"
	"github.com/shelfhelp/shelfhelp-ai/parser"
	"github.com/shelfhelp/shelfhelp-ai/scraper"
	"github.com/shelfhelp/shelfhelp-ai/validation"
)

// ErrNilBook is returned when a check is requested without a book.
var ErrNilBook = errors.New("orchestrator: nil book")

// Stats are the process-wide check counters.
type Stats struct {
	TotalChecks           int     `json:"total_checks"`
	SuccessfulChecks      int     `json:"successful_checks"`
	FailedChecks          int     `json:"failed_checks"`
	AverageResponseTimeMS float64 `json:"average_response_time_ms"`
	CacheHits             int     `json:"cache_hits"`
}

// Options carries optional collaborators.
type Options struct {
	Suite   *validation.Suite
	Metrics *Metrics
}

// Orchestrator fans a book out to every scraper. It is safe for concurrent
// use.
type Orchestrator struct {
	cfg     *config.Config
	sources []scraper.Source
	suite   *validation.Suite
	cache   *expirable.LRU[string, *models.AvailabilityReport]
	metrics *Metrics

	// check is the per-book entry point used by batches.
	check func(context.Context, *models.Book) (*models.AvailabilityReport, error)

	mu    sync.Mutex
	stats Stats
}

// New builds an orchestrator over sources, which keep their order in every
// report. Without a suite in opts one is built from the source names.
func New(cfg *config.Config, sources []scraper.Source, opts Options) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("orchestrator: nil config")
	}
	if len(sources) == 0 {
		return nil, errors.New("orchestrator: no sources")
	}

	suite := opts.Suite
	if suite == nil {
		names := make([]string, 0, len(sources))
		for _, s := range sources {
			names = append(names, s.Name())
		}
		suite = validation.NewSuite(names, validation.Options{})
	}

	o := &Orchestrator{
		cfg:     cfg,
		sources: sources,
		suite:   suite,
		metrics: opts.Metrics,
	}
	o.check = o.CheckBookAvailability
	if cfg.CacheSize > 0 {
		o.cache = expirable.NewLRU[string, *models.AvailabilityReport](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return o, nil
}

// Sources returns the scraper names in report order.
func (o *Orchestrator) Sources() []string {
	names := make([]string, 0, len(o.sources))
	for _, s := range o.sources {
		names = append(names, s.Name())
	}
	return names
}

// CheckBookAvailability runs every scraper for book concurrently. A scraper
// that fails or panics is recorded as an error outcome and never fails the
// check; outcomes keep the scraper order regardless of completion order.
func (o *Orchestrator) CheckBookAvailability(ctx context.Context, book *models.Book) (*models.AvailabilityReport, error) {
	if book == nil {
		return nil, ErrNilBook
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := book.Key()
	if cached, ok := o.cached(key); ok {
		return cached, nil
	}

	start := time.Now()
	outcomes := make([]models.SourceOutcome, len(o.sources))
	var wg sync.WaitGroup
	for i, src := range o.sources {
		wg.Add(1)
		go func(i int, src scraper.Source) {
			defer wg.Done()
			outcomes[i] = runSource(ctx, src, book)
		}(i, src)
	}
	wg.Wait()

	report := &models.AvailabilityReport{
		CheckID:   uuid.NewString(),
		BookKey:   key,
		BookTitle: book.DisplayTitle(),
		Author:    book.Author(),
		CheckedAt: start,
		Sources:   outcomes,
	}
	o.score(report, book)
	report.Duration = time.Since(start)

	succeeded := o.recordCheck(report)
	if succeeded && o.cache != nil {
		o.cache.Add(key, report.Clone())
	}

	slog.Debug("availability checked",
		slog.String("book", report.BookTitle),
		slog.String("check_id", report.CheckID),
		slog.Bool("available", report.Available),
		slog.Float64("confidence", report.OverallConfidence),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

func runSource(ctx context.Context, src scraper.Source, book *models.Book) (outcome models.SourceOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = models.SourceOutcome{
				Source:    outcome.Source,
				CheckedAt: time.Now(),
				Error:     fmt.Sprintf("scraper panic: %v", r),
			}
			slog.Error("scraper panicked", slog.String("source", outcome.Source), slog.Any("panic", r))
		}
	}()
	outcome.Source = src.Name()

	result, err := src.Check(ctx, book)
	outcome.CheckedAt = time.Now()
	switch {
	case err != nil:
		outcome.Error = err.Error()
	case result == nil:
		outcome.Error = "scraper returned no result"
	default:
		outcome.Result = result
	}
	return outcome
}

// score validates each successful outcome, cross-validates the positive
// claims and fills the report verdict.
func (o *Orchestrator) score(report *models.AvailabilityReport, book *models.Book) {
	var (
		validated []*models.ValidationResult
		claims    []validation.Claim
	)
	for i := range report.Sources {
		out := &report.Sources[i]
		if out.Failed() {
			continue
		}
		vr, err := o.suite.Validate(out.Source, out.Result, book)
		if err != nil {
			out.Validation = validation.NewValidator(out.Source, validation.Options{}).Validate(out.Result, book)
			slog.Warn("no registered validator for source", slog.String("source", out.Source))
		} else {
			out.Validation = vr
		}
		out.FinalConfidence = out.Validation.AdjustedConfidence
		validated = append(validated, out.Validation)
		if out.Validation.Valid && out.Result.IsAvailable() {
			claims = append(claims, validation.Claim{Service: out.Source, Confidence: out.FinalConfidence})
		}
	}
	report.Summary = validation.GenerateReport(validated)

	cv := validation.CrossValidate(claims)
	var sum float64
	for _, adj := range cv.Claims {
		out := report.Source(adj.Service)
		out.FinalConfidence = adj.Adjusted
		out.CrossValidated = adj.CrossValidated
		out.CrossValidationWarning = adj.Warning
		sum += adj.Adjusted
		if adj.Adjusted >= o.cfg.AvailabilityThreshold {
			report.Available = true
		}
	}
	if len(cv.Claims) > 0 {
		report.OverallConfidence = parser.RoundConfidence(sum / float64(len(cv.Claims)))
	}
}

func (o *Orchestrator) cached(key string) (*models.AvailabilityReport, bool) {
	if o.cache == nil {
		return nil, false
	}
	report, ok := o.cache.Get(key)
	if !ok {
		return nil, false
	}
	o.mu.Lock()
	o.stats.CacheHits++
	o.mu.Unlock()
	o.metrics.incCacheHit()

	hit := report.Clone()
	hit.Cached = true
	return hit, true
}

// recordCheck updates the counters and reports whether any source
// succeeded.
func (o *Orchestrator) recordCheck(report *models.AvailabilityReport) bool {
	succeeded := false
	for i := range report.Sources {
		if !report.Sources[i].Failed() {
			succeeded = true
			break
		}
	}
	elapsed := float64(report.Duration) / float64(time.Millisecond)

	o.mu.Lock()
	o.stats.TotalChecks++
	if succeeded {
		o.stats.SuccessfulChecks++
	} else {
		o.stats.FailedChecks++
	}
	n := float64(o.stats.TotalChecks)
	o.stats.AverageResponseTimeMS = (o.stats.AverageResponseTimeMS*(n-1) + elapsed) / n
	o.mu.Unlock()

	o.metrics.observeCheck(succeeded, report.Duration)
	return succeeded
}

// Stats returns a snapshot of the counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// ResetStats zeroes the counters.
func (o *Orchestrator) ResetStats() {
	o.mu.Lock()
	o.stats = Stats{}
	o.mu.Unlock()
}

// ClearCache drops every cached report.
func (o *Orchestrator) ClearCache() {
	if o.cache != nil {
		o.cache.Purge()
	}
}

// Suite exposes the validators so callers can read their stats.
func (o *Orchestrator) Suite() *validation.Suite {
	return o.suite
}
