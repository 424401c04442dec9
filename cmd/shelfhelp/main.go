package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lepinkainen/humanlog"
	"github.com/shelfhelp/shelfhelp-ai/config"
	"github.com/shelfhelp/shelfhelp-ai/models"
	"github.com/shelfhelp/shelfhelp-ai/orchestrator"
	"github.com/shelfhelp/shelfhelp-ai/pipeline"
	"github.com/shelfhelp/shelfhelp-ai/server"
)

// Globals are flags shared by every command.
type Globals struct {
	Config  string `short:"c" help:"Path to a YAML config file" type:"path"`
	Verbose bool   `short:"v" help:"Enable debug logging"`
}

// CLI is the shelfhelp command tree.
type CLI struct {
	Globals

	Check  CheckCmd  `cmd:"" help:"Check availability of a single book"`
	Batch  BatchCmd  `cmd:"" help:"Check a JSON list of books in rate-limited batches"`
	Serve  ServeCmd  `cmd:"" help:"Serve the availability API"`
	Health HealthCmd `cmd:"" help:"Print scraper and orchestrator health"`
}

// CheckCmd checks one book and prints the report.
type CheckCmd struct {
	Title  string `arg:"" help:"Book title"`
	Author string `short:"a" help:"Author name"`
	ISBN   string `help:"ISBN, used as the cache key when set"`
}

// BatchCmd checks every book in a JSON file and writes reports out.
type BatchCmd struct {
	Input         string        `short:"f" help:"Path to a JSON array of books" required:"" type:"existingfile"`
	Output        string        `short:"o" help:"Output file (defaults to config output_file)"`
	Format        string        `help:"Output format: csv, json, or dual (defaults to config output_format)"`
	BatchSize     int           `help:"Books per batch (defaults to config batch_size)"`
	MaxConcurrent int           `help:"Books checked at once inside a batch"`
	BatchDelay    time.Duration `help:"Pause between batches"`
}

// ServeCmd runs the HTTP API.
type ServeCmd struct {
	Addr string `help:"Listen address (defaults to config listen_addr)"`
}

// HealthCmd prints the health report, optionally after checking one title.
type HealthCmd struct {
	Title string `help:"Title to check before reporting health"`
}

func main() {
	var cli CLI
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := kong.Parse(&cli,
		kong.Name("shelfhelp"),
		kong.Description("Checks whether books can be read for free on Kindle Unlimited, Hoopla or public library catalogs."),
		kong.UsageOnError(),
		kong.BindTo(sigCtx, (*context.Context)(nil)),
	)

	initLogging(cli.Verbose)

	if err := ctx.Run(&cli.Globals); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// Run checks a single book.
func (c *CheckCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}

	book := &models.Book{Title: c.Title, AuthorName: c.Author, ISBN: c.ISBN}
	report, err := a.orch.CheckBookAvailability(ctx, book)
	if err != nil {
		return err
	}
	return printJSON(report)
}

// Run checks every book in the input file.
func (c *BatchCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}

	books, err := readBooks(c.Input)
	if err != nil {
		return err
	}

	output := a.cfg.OutputFile
	if c.Output != "" {
		output = c.Output
	}
	format := a.cfg.OutputFormat
	if c.Format != "" {
		format = c.Format
	}
	writer, err := pipeline.NewWriter(format, output)
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	p := pipeline.NewPipeline(ctx, writer, a.cfg)
	p.Start(a.cfg.PipelineWorkers)
	if a.cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	slog.Info("starting batch check",
		slog.Int("books", len(books)),
		slog.String("output", output),
		slog.String("format", format),
	)

	report, runErr := a.orch.CheckBooksInBatch(ctx, books, orchestrator.BatchOptions{
		BatchSize:     c.BatchSize,
		BatchDelay:    c.BatchDelay,
		MaxConcurrent: c.MaxConcurrent,
		OnResult: func(r *models.AvailabilityReport) error {
			return p.Process(r)
		},
	})

	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown: %w", err)
	}
	if report != nil {
		printSummary(report, a.orch.Stats(), p.GetMetrics(), output)
	}
	if runErr != nil {
		return runErr
	}
	if report.Checked > 0 {
		if err := writer.Validate(); err != nil {
			return fmt.Errorf("output validation: %w", err)
		}
	}
	return nil
}

// Run serves the HTTP API until interrupted.
func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}

	addr := a.cfg.ListenAddr
	if c.Addr != "" {
		addr = c.Addr
	}
	srv := server.New(server.Config{
		Address:      addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
	}, a.orch, a.registry)
	return srv.Run(ctx)
}

// Run prints the health report.
func (c *HealthCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	if c.Title != "" {
		if _, err := a.orch.CheckBookAvailability(ctx, &models.Book{Title: c.Title}); err != nil {
			return err
		}
	}
	return printJSON(a.orch.Health())
}

func readBooks(path string) ([]*models.Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read books: %w", err)
	}
	var books []*models.Book
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("decode books %q: %w", path, err)
	}
	out := books[:0]
	for _, b := range books {
		if b != nil && b.SearchQuery() != "" {
			out = append(out, b)
		}
	}
	if len(out) < len(books) {
		slog.Warn("skipped books without title or author", slog.Int("skipped", len(books)-len(out)))
	}
	return out, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(report *models.BatchReport, stats orchestrator.Stats, metrics map[string]interface{}, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Availability check complete")

	available := 0
	for _, r := range report.Reports {
		if r.Available {
			available++
		}
	}
	failedBatches := 0
	for _, b := range report.Batches {
		if b.Error != "" {
			failedBatches++
		}
	}

	fmt.Printf("  Books:          %d\n", report.Total)
	fmt.Printf("  Checked:        %d\n", report.Checked)
	fmt.Printf("  Failed:         %d\n", report.Failed)
	fmt.Printf("  Available:      %d\n", available)
	fmt.Printf("  Batches:        %d (%d failed)\n", len(report.Batches), failedBatches)
	fmt.Printf("  Cache hits:     %d\n", stats.CacheHits)
	fmt.Printf("  Avg check (ms): %.1f\n", stats.AverageResponseTimeMS)
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Skipped:        %v\n", valErrors)
	}
	fmt.Printf("  Duration:       %v\n", report.EndTime.Sub(report.StartTime).Round(time.Millisecond))
	fmt.Printf("  Output file:    %s\n", outputFile)
	fmt.Println(separator)
}

// initLogging uses human-readable output on a terminal and JSON otherwise.
func initLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = humanlog.NewHandler(os.Stderr, &humanlog.Options{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// loadConfig reads the config file and applies global flags.
func loadConfig(g *Globals) (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.Verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
