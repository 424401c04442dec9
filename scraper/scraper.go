package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/gocolly/colly/v2"
	"github.com/shelfhelp/shelfhelp-ai/config"
	"github.com/shelfhelp/shelfhelp-ai/models"
	"github.com/shelfhelp/shelfhelp-ai/parser"
	"golang.org/x/time/rate"
)

// maxSearchContent bounds the page text handed on to validators.
const maxSearchContent = 8000

// Source is one third-party catalog that can be asked about a book.
type Source interface {
	Name() string
	Check(ctx context.Context, book *models.Book) (*models.AvailabilityResult, error)
	Health() Health
}

// Health is a scraper's recent request history.
type Health struct {
	Name                string    `json:"name"`
	Healthy             bool      `json:"healthy"`
	TotalChecks         int       `json:"total_checks"`
	TotalFailures       int       `json:"total_failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastFailure         time.Time `json:"last_failure,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
}

// Options carries optional collaborators shared by the scrapers.
type Options struct {
	Metrics   *Metrics
	Transport http.RoundTripper
}

// page is one fetched search result page.
type page struct {
	URL     string
	Status  int
	Body    string
	Elapsed time.Duration
}

// baseScraper owns the collector, limiter, retry policy and health
// bookkeeping common to every catalog scraper.
type baseScraper struct {
	name      string
	cfg       *config.Config
	collector *colly.Collector
	limiter   *rate.Limiter
	retry     *retryPolicy
	metrics   *Metrics

	mu     sync.Mutex
	health Health
}

func newBaseScraper(name string, cfg *config.Config, opts Options) (*baseScraper, error) {
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	collector.WithTransport(transport)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &baseScraper{
		name:      name,
		cfg:       cfg,
		collector: collector,
		limiter:   rate.NewLimiter(limit, 1),
		retry:     newRetryPolicy(cfg),
		metrics:   opts.Metrics,
		health:    Health{Name: name, Healthy: true},
	}, nil
}

// Name returns the service key results are filed under.
func (b *baseScraper) Name() string {
	return b.name
}

// Health returns a snapshot of the scraper's request history.
func (b *baseScraper) Health() Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.health
}

func (b *baseScraper) recordOutcome(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.health.TotalChecks++
	if err == nil {
		b.health.ConsecutiveFailures = 0
		b.health.LastSuccess = time.Now()
		b.health.Healthy = true
		return
	}
	b.health.TotalFailures++
	b.health.ConsecutiveFailures++
	b.health.LastFailure = time.Now()
	b.health.LastError = err.Error()
	threshold := b.cfg.UnhealthyAfter
	if threshold <= 0 {
		threshold = 1
	}
	b.health.Healthy = b.health.ConsecutiveFailures < threshold
}

// fetch retrieves target, waiting on the rate limiter before every attempt
// and retrying transient failures with capped exponential backoff.
func (b *baseScraper) fetch(ctx context.Context, target string) (*page, error) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			b.metrics.IncRetries(b.name)
			if err := sleep(ctx, b.retry.backoff(attempt)); err != nil {
				return nil, classifyError(err, 0)
			}
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, classifyError(fmt.Errorf("rate limit wait for %s: %w", b.name, err), 0)
		}

		p, err := b.visit(ctx, target)
		if err == nil {
			return p, nil
		}
		if !b.retry.allow(attempt+1, err) {
			return nil, err
		}
		slog.Debug("retrying catalog request",
			slog.String("service", b.name),
			slog.String("url", target),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)
	}
}

// visit issues a single request on a clone of the base collector, so
// callbacks never leak between concurrent checks.
func (b *baseScraper) visit(ctx context.Context, target string) (*page, error) {
	c := b.collector.Clone()
	c.Context = ctx

	var (
		result    *page
		statusErr error
	)
	c.OnRequest(func(r *colly.Request) {
		b.metrics.IncRequest(b.name)
	})
	c.OnResponse(func(r *colly.Response) {
		result = &page{URL: r.Request.URL.String(), Status: r.StatusCode, Body: string(r.Body)}
	})
	c.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		statusErr = classifyError(err, statusCode)
	})

	start := time.Now()
	err := c.Visit(target)
	elapsed := time.Since(start)
	b.metrics.ObserveDuration(b.name, elapsed)

	if statusErr == nil && err != nil {
		statusErr = classifyError(err, 0)
	}
	if statusErr != nil {
		category := errorTypeLabel(statusErr)
		b.metrics.IncError(b.name, category)
		slog.Warn("catalog request error",
			slog.String("service", b.name),
			slog.String("url", target),
			slog.String("category", category),
			slog.Any("error", statusErr),
		)
		return nil, statusErr
	}
	if result == nil {
		return nil, fmt.Errorf("%s: no response from %s", b.name, target)
	}
	result.Elapsed = elapsed
	return result, nil
}

// finish stamps bookkeeping fields and records the outcome.
func (b *baseScraper) finish(result *models.AvailabilityResult, err error) (*models.AvailabilityResult, error) {
	b.recordOutcome(err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.name, err)
	}
	result.Service = b.name
	result.CheckedAt = time.Now()
	result.Confidence = parser.RoundConfidence(result.Confidence)
	b.metrics.IncCheck(b.name, result.IsAvailable())
	return result, nil
}

type retryPolicy struct {
	maxRetries int
	base       time.Duration
	max        time.Duration
}

func newRetryPolicy(cfg *config.Config) *retryPolicy {
	return &retryPolicy{
		maxRetries: cfg.MaxRetries,
		base:       cfg.RetryBackoff,
		max:        cfg.RetryBackoffMax,
	}
}

// allow reports whether the attempt-th retry may run after err.
func (rp *retryPolicy) allow(attempt int, err error) bool {
	return attempt <= rp.maxRetries && retryable(err)
}

func (rp *retryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rp.base
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if rp.max > 0 && delay > rp.max {
		delay = rp.max
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// titleSimilarity is the best Jaro-Winkler score between the wanted title
// and any heading on the page. Pages without headings fall back to a
// substring check on the flattened content.
func titleSimilarity(title string, headings []string, content string) float64 {
	want := strings.ToLower(strings.TrimSpace(title))
	if want == "" {
		return 0
	}
	var best float64
	for _, h := range headings {
		candidate := strings.ToLower(h)
		if strings.Contains(candidate, want) {
			return 1
		}
		if sim := matchr.JaroWinkler(want, candidate, false); sim > best {
			best = sim
		}
	}
	if best == 0 && strings.Contains(content, want) {
		return 1
	}
	return best
}

// snippet returns the text around the first occurrence of phrase.
func snippet(content, phrase string, radius int) string {
	idx := strings.Index(content, phrase)
	if idx < 0 {
		return ""
	}
	start := max(0, idx-radius)
	end := min(len(content), idx+len(phrase)+radius)
	return strings.TrimSpace(content[start:end])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}

// NewSources builds every catalog scraper in the fixed order results are
// reported in.
func NewSources(cfg *config.Config, opts Options) ([]Source, error) {
	ku, err := NewKindleUnlimited(cfg, opts)
	if err != nil {
		return nil, err
	}
	hoopla, err := NewHoopla(cfg, opts)
	if err != nil {
		return nil, err
	}
	library, err := NewLibrary(cfg, opts)
	if err != nil {
		return nil, err
	}
	return []Source{ku, hoopla, library}, nil
}
