package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shelfhelp/shelfhelp-ai/config"
	"github.com/shelfhelp/shelfhelp-ai/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.AvailabilityReport
	closed      bool
	validateErr error
}

func (mw *mockWriter) Write(reports []*models.AvailabilityReport) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	copyBatch := make([]*models.AvailabilityReport, len(reports))
	copy(copyBatch, reports)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	total := 0
	for _, batch := range mw.batches {
		total += len(batch)
	}
	return total
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

type blockingWriter struct {
	blockCh chan struct{}
}

func (bw *blockingWriter) Write(reports []*models.AvailabilityReport) error {
	<-bw.blockCh
	return nil
}

func (bw *blockingWriter) Close() error {
	return nil
}

func (bw *blockingWriter) Validate() error {
	return nil
}

type failingWriter struct{}

func (failingWriter) Write([]*models.AvailabilityReport) error { return errors.New("disk full") }
func (failingWriter) Close() error { return nil }
func (failingWriter) Validate() error { return nil }

func testReport(key, title string) *models.AvailabilityReport {
	return &models.AvailabilityReport{
		CheckID:   "check-" + key,
		BookKey:   key,
		BookTitle: title,
		Author:    "Tessa Bailey",
		CheckedAt: time.Now(),
		Sources: []models.SourceOutcome{
			{Source: models.ServiceHoopla, FinalConfidence: 0.8},
		},
		Available:         true,
		OverallConfidence: 0.8,
	}
}

func TestPipelineProcessValidationAndDedup(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	valid := testReport("isbn:1", "It Happened One Summer")
	invalid := testReport("isbn:2", "Hook, Line, and Sinker")
	invalid.Sources = nil
	duplicate := testReport("isbn:1", "It Happened One Summer")

	if err := p.Process(valid, invalid, duplicate, nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 1 {
		t.Fatalf("written reports = %d, want 1", got)
	}

	metrics := p.GetMetrics()
	validation, ok := metrics["validation_errors"].(map[string]int)
	if !ok {
		t.Fatalf("expected validation errors map")
	}
	if validation["invalid_report"] != 1 {
		t.Fatalf("invalid_report = %d, want 1", validation["invalid_report"])
	}
	if validation["duplicate_book"] != 1 {
		t.Fatalf("duplicate_book = %d, want 1", validation["duplicate_book"])
	}
	if got := metrics["processed_reports"].(int64); got != 1 {
		t.Fatalf("processed_reports = %d, want 1", got)
	}
}

func TestPipelineDedupeIsBounded(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DedupeMaxSize = 2
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	// "a" is evicted by "c", so its second appearance is written again.
	for _, key := range []string{"a", "b", "c", "a"} {
		if err := p.Process(testReport(key, "Book "+key)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 4 {
		t.Fatalf("written reports = %d, want 4", got)
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.PipelineBatchSize = 64
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	for i := 0; i < 65; i++ {
		if err := p.Process(testReport("id:"+strconv.Itoa(i), "Book")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
}

func TestPipelineCloseDrainsPendingItems(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(2)

	for i := 0; i < 100; i++ {
		if err := p.Process(testReport("id:"+strconv.Itoa(i+200), "Book")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 100 {
		t.Fatalf("written reports = %d, want 100", got)
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	p := NewPipeline(context.Background(), &mockWriter{}, config.DefaultConfig())
	p.Start(1)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := p.Process(testReport("id:1", "Late")); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}

func TestPipelineWriteErrorSurfaces(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.PipelineBatchSize = 1
	p := NewPipeline(context.Background(), failingWriter{}, cfg)
	p.Start(1)

	_ = p.Process(testReport("id:1", "Doomed"))

	err := p.Close()
	if err == nil {
		t.Fatalf("expected write error from close")
	}
	if p.Err() == nil {
		t.Fatalf("expected Err to report the write failure")
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.PipelineBatchSize = 1

	writer := &blockingWriter{blockCh: make(chan struct{})}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	if err := p.Process(testReport("id:blocked", "Blocked Book")); err != nil {
		t.Fatalf("process: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		close(writer.blockCh)
	})

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}
