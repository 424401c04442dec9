package orchestrator

import (
	"github.com/shelfhelp/shelfhelp-ai/scraper"
)

// Health states, from best to worst.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthConfig echoes the settings that shape request volume.
type HealthConfig struct {
	Sources       []string `json:"sources"`
	BatchSize     int      `json:"batch_size"`
	BatchDelay    string   `json:"batch_delay"`
	MaxConcurrent int      `json:"max_concurrent"`
	GroupDelay    string   `json:"group_delay"`
	CacheSize     int      `json:"cache_size"`
}

// OrchestratorHealth is the orchestrator section of a health report.
type OrchestratorHealth struct {
	Status string       `json:"status"`
	Stats  Stats        `json:"stats"`
	Config HealthConfig `json:"config"`
	Cached int          `json:"cached_reports"`
}

// HealthReport is the payload served on the health endpoint.
type HealthReport struct {
	Status       string                    `json:"status"`
	Scrapers     map[string]scraper.Health `json:"scrapers"`
	Orchestrator OrchestratorHealth        `json:"orchestrator"`
}

// Health aggregates scraper health: healthy when every scraper is, degraded
// when at least half are, unhealthy otherwise.
func (o *Orchestrator) Health() HealthReport {
	scrapers := make(map[string]scraper.Health, len(o.sources))
	healthy := 0
	for _, s := range o.sources {
		h := s.Health()
		scrapers[s.Name()] = h
		if h.Healthy {
			healthy++
		}
	}

	status := aggregateStatus(healthy, len(o.sources))
	cached := 0
	if o.cache != nil {
		cached = o.cache.Len()
	}

	return HealthReport{
		Status:   status,
		Scrapers: scrapers,
		Orchestrator: OrchestratorHealth{
			Status: status,
			Stats:  o.Stats(),
			Config: HealthConfig{
				Sources:       o.Sources(),
				BatchSize:     o.cfg.BatchSize,
				BatchDelay:    o.cfg.BatchDelay.String(),
				MaxConcurrent: o.cfg.MaxConcurrent,
				GroupDelay:    o.cfg.GroupDelay.String(),
				CacheSize:     o.cfg.CacheSize,
			},
			Cached: cached,
		},
	}
}

func aggregateStatus(healthy, total int) string {
	switch {
	case healthy == total:
		return StatusHealthy
	case healthy*2 >= total:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}
