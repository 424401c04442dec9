package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shelfhelp/shelfhelp-ai/config"
	"github.com/shelfhelp/shelfhelp-ai/models"
	"github.com/shelfhelp/shelfhelp-ai/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name    string
	delay   time.Duration
	result  *models.AvailabilityResult
	err     error
	panics  bool
	healthy bool

	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Check(ctx context.Context, book *models.Book) (*models.AvailabilityResult, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics {
		panic("selector exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	r.Service = f.name
	return &r, nil
}

func (f *fakeSource) Health() scraper.Health {
	return scraper.Health{Name: f.name, Healthy: f.healthy}
}

func ku(confidence float64) *fakeSource {
	return &fakeSource{name: models.ServiceKindleUnlimited, healthy: true, result: &models.AvailabilityResult{
		Available: models.Bool(true), Confidence: confidence, Details: "Included with Kindle Unlimited",
	}}
}

func hoopla(confidence float64) *fakeSource {
	return &fakeSource{name: models.ServiceHoopla, healthy: true, result: &models.AvailabilityResult{
		Available: models.Bool(true), Confidence: confidence, Details: "Available on Hoopla",
	}}
}

func library(available bool, confidence float64) *fakeSource {
	return &fakeSource{name: models.ServiceLibrary, healthy: true, result: &models.AvailabilityResult{
		Available: models.Bool(available), Confidence: confidence,
	}}
}

func failing(name string) *fakeSource {
	return &fakeSource{name: name, err: errors.New(name + ": timeout: context deadline exceeded")}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.CacheSize = 0
	cfg.BatchDelay = time.Millisecond
	cfg.GroupDelay = time.Millisecond
	return cfg
}

func newOrchestrator(t *testing.T, cfg *config.Config, sources ...scraper.Source) *Orchestrator {
	t.Helper()
	o, err := New(cfg, sources, Options{})
	require.NoError(t, err)
	return o
}

var beachRead = &models.Book{Title: "Beach Read", AuthorName: "Emily Henry"}

func TestCheckBookAvailabilityPartialFailure(t *testing.T) {
	slowKU := ku(0.6)
	slowKU.delay = 30 * time.Millisecond
	o := newOrchestrator(t, testConfig(), slowKU, failing(models.ServiceHoopla), library(false, 0.3))

	report, err := o.CheckBookAvailability(context.Background(), beachRead)
	require.NoError(t, err)

	require.Len(t, report.Sources, 3)
	assert.Equal(t, []string{"kindle_unlimited", "hoopla", "library"},
		[]string{report.Sources[0].Source, report.Sources[1].Source, report.Sources[2].Source},
		"outcomes keep scraper order, not completion order")

	failed := report.Source(models.ServiceHoopla)
	require.NotNil(t, failed)
	assert.True(t, failed.Failed())
	assert.Contains(t, failed.Error, "timeout")
	assert.Nil(t, failed.Result)
	assert.False(t, failed.CheckedAt.IsZero())

	kindle := report.Source(models.ServiceKindleUnlimited)
	require.NotNil(t, kindle.Validation)
	assert.True(t, kindle.Validation.Valid)
	assert.Equal(t, 0.8, kindle.FinalConfidence)
	assert.False(t, kindle.CrossValidated, "a lone claim is not cross-validated")

	assert.True(t, report.Available)
	assert.Equal(t, 0.8, report.OverallConfidence)
	require.NotNil(t, report.Summary)
	assert.Equal(t, 2, report.Summary.Summary.Total)
	assert.Equal(t, "100.0", report.Summary.Summary.ValidationRate)
	assert.NotEmpty(t, report.CheckID)
	assert.Equal(t, "Beach Read", report.BookTitle)

	stats := o.Stats()
	assert.Equal(t, 1, stats.TotalChecks)
	assert.Equal(t, 1, stats.SuccessfulChecks)
	assert.Equal(t, 0, stats.FailedChecks)
	assert.Greater(t, stats.AverageResponseTimeMS, 0.0)
}

func TestCheckBookAvailabilityRecoversPanics(t *testing.T) {
	exploding := hoopla(0.5)
	exploding.panics = true
	o := newOrchestrator(t, testConfig(), ku(0.6), exploding, library(false, 0.3))

	report, err := o.CheckBookAvailability(context.Background(), beachRead)
	require.NoError(t, err)

	out := report.Source(models.ServiceHoopla)
	require.NotNil(t, out)
	assert.Contains(t, out.Error, "selector exploded")
	assert.Equal(t, models.ServiceHoopla, out.Source)
	assert.False(t, report.Source(models.ServiceKindleUnlimited).Failed())
}

func TestCheckBookAvailabilityAllFail(t *testing.T) {
	o := newOrchestrator(t, testConfig(), failing("kindle_unlimited"), failing("hoopla"), failing("library"))

	report, err := o.CheckBookAvailability(context.Background(), beachRead)
	require.NoError(t, err)
	assert.False(t, report.Available)
	assert.Equal(t, 0.0, report.OverallConfidence)
	assert.Equal(t, 0, report.Summary.Summary.Total)
	assert.Equal(t, 1, o.Stats().FailedChecks)
}

func TestCheckBookAvailabilityConsensus(t *testing.T) {
	o := newOrchestrator(t, testConfig(), ku(0.7), hoopla(0.45), failing("library"))

	report, err := o.CheckBookAvailability(context.Background(), beachRead)
	require.NoError(t, err)

	k := report.Source(models.ServiceKindleUnlimited)
	h := report.Source(models.ServiceHoopla)
	assert.Equal(t, 0.9, k.Validation.AdjustedConfidence)
	assert.Equal(t, 0.7, h.Validation.AdjustedConfidence)
	assert.Equal(t, 0.95, k.FinalConfidence)
	assert.Equal(t, 0.77, h.FinalConfidence)
	assert.True(t, k.CrossValidated)
	assert.True(t, h.CrossValidated)
	assert.True(t, report.Available)
	assert.Equal(t, 0.86, report.OverallConfidence)
}

func TestCheckBookAvailabilityLowConsensus(t *testing.T) {
	o := newOrchestrator(t, testConfig(), ku(0.1), hoopla(0.1), library(false, 0.2))

	report, err := o.CheckBookAvailability(context.Background(), beachRead)
	require.NoError(t, err)

	k := report.Source(models.ServiceKindleUnlimited)
	h := report.Source(models.ServiceHoopla)
	assert.Equal(t, 0.24, k.FinalConfidence)
	assert.Equal(t, 0.28, h.FinalConfidence)
	assert.NotEmpty(t, k.CrossValidationWarning)
	assert.NotEmpty(t, h.CrossValidationWarning)
	assert.Empty(t, report.Source(models.ServiceLibrary).CrossValidationWarning, "negative claims are not cross-validated")
	assert.False(t, report.Available)
	assert.Equal(t, 0.26, report.OverallConfidence)
}

func TestCheckBookAvailabilityNilBook(t *testing.T) {
	o := newOrchestrator(t, testConfig(), ku(0.5))
	_, err := o.CheckBookAvailability(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilBook)
}

func TestCheckBookAvailabilityCache(t *testing.T) {
	cfg := testConfig()
	cfg.CacheSize = 10
	cfg.CacheTTL = time.Hour
	src := ku(0.6)
	metrics := NewMetrics(prometheus.NewRegistry())
	o, err := New(cfg, []scraper.Source{src}, Options{Metrics: metrics})
	require.NoError(t, err)

	first, err := o.CheckBookAvailability(context.Background(), beachRead)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := o.CheckBookAvailability(context.Background(), beachRead)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.CheckID, second.CheckID)
	assert.False(t, first.Cached, "cached copy must not alter the stored report")
	assert.Equal(t, int32(1), src.calls.Load())

	stats := o.Stats()
	assert.Equal(t, 1, stats.TotalChecks)
	assert.Equal(t, 1, stats.CacheHits)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHits))

	o.ClearCache()
	third, err := o.CheckBookAvailability(context.Background(), beachRead)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCachedReportsAreIsolatedFromCallers(t *testing.T) {
	cfg := testConfig()
	cfg.CacheSize = 10
	cfg.CacheTTL = time.Hour
	o := newOrchestrator(t, cfg, ku(0.6))

	first, err := o.CheckBookAvailability(context.Background(), beachRead)
	require.NoError(t, err)
	require.NotNil(t, first.Sources[0].Result)
	require.NotNil(t, first.Sources[0].Validation)
	wantConfidence := first.Sources[0].FinalConfidence
	wantDetails := first.Sources[0].Result.Details
	wantFactors := len(first.Sources[0].Validation.Factors)

	first.Sources[0].FinalConfidence = -1
	first.Sources[0].Result.Details = "tampered"
	first.Sources[0].Validation.Factors = append(first.Sources[0].Validation.Factors, models.Factor{Reason: "tampered"})

	second, err := o.CheckBookAvailability(context.Background(), beachRead)
	require.NoError(t, err)
	require.True(t, second.Cached)
	assert.Equal(t, wantConfidence, second.Sources[0].FinalConfidence)
	assert.Equal(t, wantDetails, second.Sources[0].Result.Details)
	assert.Len(t, second.Sources[0].Validation.Factors, wantFactors)

	second.Sources[0].FinalConfidence = -1
	third, err := o.CheckBookAvailability(context.Background(), beachRead)
	require.NoError(t, err)
	assert.Equal(t, wantConfidence, third.Sources[0].FinalConfidence)
}

func TestFailedChecksAreNotCached(t *testing.T) {
	cfg := testConfig()
	cfg.CacheSize = 10
	src := failing("hoopla")
	o := newOrchestrator(t, cfg, src)

	for i := 0; i < 2; i++ {
		_, err := o.CheckBookAvailability(context.Background(), beachRead)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestAverageResponseTimeIsIncrementalMean(t *testing.T) {
	o := newOrchestrator(t, testConfig(), ku(0.5))
	ok := []models.SourceOutcome{{Source: "kindle_unlimited", Result: &models.AvailabilityResult{}}}

	for _, d := range []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond} {
		o.recordCheck(&models.AvailabilityReport{Sources: ok, Duration: d})
	}
	assert.InDelta(t, 20.0, o.Stats().AverageResponseTimeMS, 1e-9)

	o.ResetStats()
	assert.Equal(t, Stats{}, o.Stats())
}

func books(n int) []*models.Book {
	out := make([]*models.Book, n)
	for i := range out {
		out[i] = &models.Book{ID: fmt.Sprint(i), Title: fmt.Sprintf("Book %d", i), AuthorName: "Author"}
	}
	return out
}

func TestCheckBooksInBatchOrderAndGrouping(t *testing.T) {
	src := ku(0.6)
	src.delay = 5 * time.Millisecond
	o := newOrchestrator(t, testConfig(), src)

	var mu sync.Mutex
	var seen []string
	report, err := o.CheckBooksInBatch(context.Background(), books(5), BatchOptions{
		BatchSize:     2,
		MaxConcurrent: 2,
		OnResult: func(r *models.AvailabilityReport) error {
			mu.Lock()
			seen = append(seen, r.BookTitle)
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 5, report.Checked)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Batches, 3)
	assert.Equal(t, 1, report.Batches[2].Size)
	assert.NotEmpty(t, report.BatchID)
	assert.Equal(t, []string{"Book 0", "Book 1", "Book 2", "Book 3", "Book 4"}, seen)
	for i, r := range report.Reports {
		assert.Equal(t, fmt.Sprintf("Book %d", i), r.BookTitle)
	}
	assert.LessOrEqual(t, src.peak.Load(), int32(2))
}

func TestCheckBooksInBatchGroupsRunSequentially(t *testing.T) {
	src := ku(0.6)
	src.delay = 5 * time.Millisecond
	o := newOrchestrator(t, testConfig(), src)

	_, err := o.CheckBooksInBatch(context.Background(), books(6), BatchOptions{BatchSize: 6, MaxConcurrent: 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, src.peak.Load(), int32(3))
	assert.Equal(t, int32(6), src.calls.Load())
}

func TestCheckBooksInBatchContinuesAfterBatchFailure(t *testing.T) {
	o := newOrchestrator(t, testConfig(), ku(0.6))

	report, err := o.CheckBooksInBatch(context.Background(), books(4), BatchOptions{
		BatchSize:     2,
		MaxConcurrent: 2,
		OnResult: func(r *models.AvailabilityReport) error {
			switch r.BookTitle {
			case "Book 1":
				return errors.New("sink full")
			case "Book 3":
				panic("sink exploded")
			}
			return nil
		},
	})
	require.NoError(t, err)

	require.Len(t, report.Batches, 2)
	assert.Contains(t, report.Batches[0].Error, "sink full")
	assert.Contains(t, report.Batches[1].Error, "sink exploded")
	assert.Equal(t, 1, report.Batches[0].Checked)
	assert.Equal(t, 1, report.Batches[1].Checked)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 2, report.Failed)
}

func TestCheckBooksInBatchRecoversCheckPanic(t *testing.T) {
	o := newOrchestrator(t, testConfig(), ku(0.6))
	check := o.check
	o.check = func(ctx context.Context, book *models.Book) (*models.AvailabilityReport, error) {
		if book.Title == "Book 1" {
			panic("scoring exploded")
		}
		return check(ctx, book)
	}

	var seen []string
	report, err := o.CheckBooksInBatch(context.Background(), books(3), BatchOptions{
		BatchSize:     3,
		MaxConcurrent: 3,
		OnResult: func(r *models.AvailabilityReport) error {
			seen = append(seen, r.BookTitle)
			return nil
		},
	})
	require.NoError(t, err)

	require.Len(t, report.Batches, 1)
	assert.Empty(t, report.Batches[0].Error)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"Book 0", "Book 2"}, seen)
}

func TestRunSourceRecoversNamePanic(t *testing.T) {
	outcome := runSource(context.Background(), namelessSource{}, beachRead)

	assert.True(t, outcome.Failed())
	assert.Contains(t, outcome.Error, "scraper panic")
}

type namelessSource struct{}

func (namelessSource) Name() string { panic("no name") }
func (namelessSource) Check(context.Context, *models.Book) (*models.AvailabilityResult, error) {
	return nil, nil
}
func (namelessSource) Health() scraper.Health { return scraper.Health{} }

func TestCheckBooksInBatchCancel(t *testing.T) {
	o := newOrchestrator(t, testConfig(), ku(0.6))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	report, err := o.CheckBooksInBatch(ctx, books(4), BatchOptions{
		BatchSize:  2,
		BatchDelay: time.Hour,
		OnResult: func(*models.AvailabilityReport) error {
			cancel()
			return nil
		},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Len(t, report.Batches, 1)
	assert.Equal(t, 4, report.Total)
}

func TestHealthAggregation(t *testing.T) {
	tests := []struct {
		name    string
		healthy []bool
		want    string
	}{
		{name: "all healthy", healthy: []bool{true, true, true}, want: StatusHealthy},
		{name: "two of three", healthy: []bool{true, true, false}, want: StatusDegraded},
		{name: "one of three", healthy: []bool{true, false, false}, want: StatusUnhealthy},
		{name: "half of two", healthy: []bool{true, false}, want: StatusDegraded},
		{name: "none", healthy: []bool{false, false, false}, want: StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sources []scraper.Source
			for i, h := range tt.healthy {
				sources = append(sources, &fakeSource{name: fmt.Sprintf("s%d", i), healthy: h})
			}
			o := newOrchestrator(t, testConfig(), sources...)

			health := o.Health()
			assert.Equal(t, tt.want, health.Status)
			assert.Equal(t, tt.want, health.Orchestrator.Status)
			assert.Len(t, health.Scrapers, len(tt.healthy))
			assert.Equal(t, o.Sources(), health.Orchestrator.Config.Sources)
		})
	}
}

func TestNewValidatesInput(t *testing.T) {
	_, err := New(nil, []scraper.Source{ku(0.5)}, Options{})
	assert.Error(t, err)
	_, err = New(testConfig(), nil, Options{})
	assert.Error(t, err)
}
