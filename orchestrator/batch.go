package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shelfhelp/shelfhelp-ai/models"
)

// BatchOptions tunes CheckBooksInBatch. Zero values fall back to the
// orchestrator config.
type BatchOptions struct {
	BatchSize     int
	BatchDelay    time.Duration
	MaxConcurrent int
	GroupDelay    time.Duration

	// OnResult receives every report in input order once its group has
	// finished. An error fails the current batch.
	OnResult func(*models.AvailabilityReport) error
}

func (o *Orchestrator) batchDefaults(opts BatchOptions) BatchOptions {
	if opts.BatchSize <= 0 {
		opts.BatchSize = o.cfg.BatchSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.BatchDelay <= 0 {
		opts.BatchDelay = o.cfg.BatchDelay
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = o.cfg.MaxConcurrent
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.GroupDelay <= 0 {
		opts.GroupDelay = o.cfg.GroupDelay
	}
	return opts
}

// CheckBooksInBatch checks books in sequential batches. Inside a batch,
// books run in groups of MaxConcurrent; a group starts only after the
// previous one finished and GroupDelay elapsed, and batches are separated by
// BatchDelay. A failing batch is recorded and the run moves on. Cancelling
// ctx stops the run between groups and returns the partial report with the
// context error.
func (o *Orchestrator) CheckBooksInBatch(ctx context.Context, books []*models.Book, opts BatchOptions) (*models.BatchReport, error) {
	opts = o.batchDefaults(opts)
	report := &models.BatchReport{
		BatchID:   uuid.NewString(),
		StartTime: time.Now(),
		Total:     len(books),
		Batches:   []models.BatchOutcome{},
		Reports:   []*models.AvailabilityReport{},
	}

	batches := (len(books) + opts.BatchSize - 1) / opts.BatchSize
	var runErr error
	for bi := 0; bi < batches; bi++ {
		lo := bi * opts.BatchSize
		hi := min(lo+opts.BatchSize, len(books))

		outcome, reports := o.runBatch(ctx, bi, books[lo:hi], opts)
		report.Batches = append(report.Batches, outcome)
		report.Reports = append(report.Reports, reports...)
		report.Checked += len(reports)
		o.metrics.incBatch(outcome.Error == "")

		slog.Info("batch complete",
			slog.String("batch_id", report.BatchID),
			slog.Int("batch", bi+1),
			slog.Int("of", batches),
			slog.Int("checked", outcome.Checked),
			slog.Duration("duration", outcome.Duration),
		)
		if outcome.Error != "" {
			slog.Error("batch failed",
				slog.String("batch_id", report.BatchID),
				slog.Int("batch", bi+1),
				slog.String("error", outcome.Error),
			)
		}

		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if bi < batches-1 {
			if err := sleep(ctx, opts.BatchDelay); err != nil {
				runErr = err
				break
			}
		}
	}

	report.Failed = report.Total - report.Checked
	report.EndTime = time.Now()
	return report, runErr
}

// runBatch processes one batch group by group. A panic in the result
// handler is captured as the batch error; a panicking check fails only its
// book.
func (o *Orchestrator) runBatch(ctx context.Context, index int, books []*models.Book, opts BatchOptions) (outcome models.BatchOutcome, reports []*models.AvailabilityReport) {
	start := time.Now()
	outcome = models.BatchOutcome{Index: index, Size: len(books)}
	defer func() {
		if r := recover(); r != nil {
			outcome.Error = fmt.Sprintf("batch panic: %v", r)
		}
		outcome.Checked = len(reports)
		outcome.Duration = time.Since(start)
	}()

	for lo := 0; lo < len(books); lo += opts.MaxConcurrent {
		if lo > 0 {
			if err := sleep(ctx, opts.GroupDelay); err != nil {
				outcome.Error = err.Error()
				return outcome, reports
			}
		}
		hi := min(lo+opts.MaxConcurrent, len(books))
		group := o.runGroup(ctx, books[lo:hi])

		for i, r := range group {
			if r.err != nil {
				slog.Warn("book check failed",
					slog.String("book", books[lo+i].DisplayTitle()),
					slog.Any("error", r.err),
				)
				continue
			}
			if opts.OnResult != nil {
				if err := opts.OnResult(r.report); err != nil {
					outcome.Error = fmt.Sprintf("result handler: %v", err)
					return outcome, reports
				}
			}
			reports = append(reports, r.report)
		}
	}
	return outcome, reports
}

type groupResult struct {
	report *models.AvailabilityReport
	err    error
}

func (o *Orchestrator) runGroup(ctx context.Context, books []*models.Book) []groupResult {
	results := make([]groupResult, len(books))
	var wg sync.WaitGroup
	for i, book := range books {
		wg.Add(1)
		go func(i int, book *models.Book) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = groupResult{err: fmt.Errorf("check panic: %v", r)}
				}
			}()
			report, err := o.check(ctx, book)
			results[i] = groupResult{report: report, err: err}
		}(i, book)
	}
	wg.Wait()
	return results
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
