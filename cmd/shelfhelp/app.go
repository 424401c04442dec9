package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shelfhelp/shelfhelp-ai/config"
	"github.com/shelfhelp/shelfhelp-ai/orchestrator"
	"github.com/shelfhelp/shelfhelp-ai/scraper"
	"github.com/shelfhelp/shelfhelp-ai/validation"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	registry *prometheus.Registry
	orch     *orchestrator.Orchestrator
}

func newApp(g *Globals) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	return buildApp(cfg)
}

// buildApp wires scrapers, validators and the orchestrator onto one
// Prometheus registry.
func buildApp(cfg *config.Config) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sources, err := scraper.NewSources(cfg, scraper.Options{Metrics: scraper.NewMetrics(reg)})
	if err != nil {
		return nil, fmt.Errorf("initialise scrapers: %w", err)
	}

	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name())
	}
	suite := validation.NewSuite(names, validation.Options{
		Metrics: validation.NewMetrics(reg),
		Logger:  slog.Default().With(slog.String("component", "validation")),
	})

	orch, err := orchestrator.New(cfg, sources, orchestrator.Options{
		Suite:   suite,
		Metrics: orchestrator.NewMetrics(reg),
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("components ready",
		slog.Any("sources", names),
		slog.Int("cache_size", cfg.CacheSize),
		slog.Duration("cache_ttl", cfg.CacheTTL),
	)
	return &app{cfg: cfg, registry: reg, orch: orch}, nil
}
