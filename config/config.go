package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. SHELFHELP_BATCH_SIZE.
const EnvPrefix = "SHELFHELP"

// LibrarySystem is one OverDrive-style library catalog to search.
type LibrarySystem struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
}

// Config holds scraper, orchestrator and output configuration.
type Config struct {
	KindleUnlimitedURL string          `mapstructure:"kindle_unlimited_url"`
	HooplaURL          string          `mapstructure:"hoopla_url"`
	LibrarySystems     []LibrarySystem `mapstructure:"library_systems"`

	Parallelism       int           `mapstructure:"parallelism"`
	Delay             time.Duration `mapstructure:"delay"`
	RandomDelay       time.Duration `mapstructure:"random_delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax   time.Duration `mapstructure:"retry_backoff_max"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	UserAgent         string        `mapstructure:"user_agent"`
	RespectRobotsTxt  bool          `mapstructure:"respect_robots_txt"`
	UnhealthyAfter    int           `mapstructure:"unhealthy_after"`

	BatchSize             int           `mapstructure:"batch_size"`
	BatchDelay            time.Duration `mapstructure:"batch_delay"`
	MaxConcurrent         int           `mapstructure:"max_concurrent"`
	GroupDelay            time.Duration `mapstructure:"group_delay"`
	CacheSize             int           `mapstructure:"cache_size"`
	CacheTTL              time.Duration `mapstructure:"cache_ttl"`
	AvailabilityThreshold float64       `mapstructure:"availability_threshold"`

	OutputFile         string `mapstructure:"output_file"`
	OutputFormat       string `mapstructure:"output_format"` // csv, json, or dual
	PipelineWorkers    int    `mapstructure:"pipeline_workers"`
	PipelineBufferSize int    `mapstructure:"pipeline_buffer_size"`
	PipelineBatchSize  int    `mapstructure:"pipeline_batch_size"`
	DedupeMaxSize      int    `mapstructure:"dedupe_max_size"`

	ListenAddr string `mapstructure:"listen_addr"`
	Verbose    bool   `mapstructure:"verbose"`
}

// DefaultConfig returns conservative defaults that keep request volume low
// against third-party catalogs.
func DefaultConfig() *Config {
	return &Config{
		KindleUnlimitedURL: "https://www.amazon.com",
		HooplaURL:          "https://www.hoopladigital.com",
		LibrarySystems: []LibrarySystem{
			{Name: "tuscaloosa_public", BaseURL: "https://tuscaloosa.overdrive.com"},
			{Name: "camellia_net", BaseURL: "https://camellia.overdrive.com"},
			{Name: "seattle_public", BaseURL: "https://seattle.overdrive.com"},
		},
		Parallelism:       2,
		Delay:             500 * time.Millisecond,
		RandomDelay:       250 * time.Millisecond,
		Timeout:           15 * time.Second,
		MaxRetries:        2,
		RetryBackoff:      500 * time.Millisecond,
		RetryBackoffMax:   5 * time.Second,
		RequestsPerSecond: 1,
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		RespectRobotsTxt:  false,
		UnhealthyAfter:    3,

		BatchSize:             10,
		BatchDelay:            5 * time.Second,
		MaxConcurrent:         3,
		GroupDelay:            time.Second,
		CacheSize:             500,
		CacheTTL:              6 * time.Hour,
		AvailabilityThreshold: 0.5,

		OutputFile:         "output/availability.csv",
		OutputFormat:       "csv",
		PipelineWorkers:    2,
		PipelineBufferSize: 128,
		PipelineBatchSize:  32,
		DedupeMaxSize:      10000,

		ListenAddr: ":8080",
		Verbose:    false,
	}
}

// Load builds a Config from defaults, an optional YAML file and
// SHELFHELP_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	systems := make([]map[string]any, 0, len(d.LibrarySystems))
	for _, s := range d.LibrarySystems {
		systems = append(systems, map[string]any{"name": s.Name, "base_url": s.BaseURL})
	}

	v.SetDefault("kindle_unlimited_url", d.KindleUnlimitedURL)
	v.SetDefault("hoopla_url", d.HooplaURL)
	v.SetDefault("library_systems", systems)
	v.SetDefault("parallelism", d.Parallelism)
	v.SetDefault("delay", d.Delay)
	v.SetDefault("random_delay", d.RandomDelay)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("retry_backoff", d.RetryBackoff)
	v.SetDefault("retry_backoff_max", d.RetryBackoffMax)
	v.SetDefault("requests_per_second", d.RequestsPerSecond)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("respect_robots_txt", d.RespectRobotsTxt)
	v.SetDefault("unhealthy_after", d.UnhealthyAfter)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("batch_delay", d.BatchDelay)
	v.SetDefault("max_concurrent", d.MaxConcurrent)
	v.SetDefault("group_delay", d.GroupDelay)
	v.SetDefault("cache_size", d.CacheSize)
	v.SetDefault("cache_ttl", d.CacheTTL)
	v.SetDefault("availability_threshold", d.AvailabilityThreshold)
	v.SetDefault("output_file", d.OutputFile)
	v.SetDefault("output_format", d.OutputFormat)
	v.SetDefault("pipeline_workers", d.PipelineWorkers)
	v.SetDefault("pipeline_buffer_size", d.PipelineBufferSize)
	v.SetDefault("pipeline_batch_size", d.PipelineBatchSize)
	v.SetDefault("dedupe_max_size", d.DedupeMaxSize)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("verbose", d.Verbose)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := validateURL("kindle unlimited URL", c.KindleUnlimitedURL); err != nil {
		return err
	}
	if err := validateURL("hoopla URL", c.HooplaURL); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.LibrarySystems))
	for _, sys := range c.LibrarySystems {
		if sys.Name == "" {
			return fmt.Errorf("library system name cannot be empty")
		}
		if _, dup := seen[sys.Name]; dup {
			return fmt.Errorf("duplicate library system %q", sys.Name)
		}
		seen[sys.Name] = struct{}{}
		if err := validateURL("library system "+sys.Name+" URL", sys.BaseURL); err != nil {
			return err
		}
	}

	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.UnhealthyAfter <= 0 {
		return fmt.Errorf("unhealthy after must be positive")
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.BatchDelay < 0 {
		return fmt.Errorf("batch delay cannot be negative")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent must be positive")
	}
	if c.GroupDelay < 0 {
		return fmt.Errorf("group delay cannot be negative")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}
	if c.AvailabilityThreshold < 0 || c.AvailabilityThreshold > 1 {
		return fmt.Errorf("availability threshold must be within [0,1]")
	}

	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.PipelineWorkers <= 0 {
		return fmt.Errorf("pipeline workers must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.PipelineBatchSize <= 0 {
		return fmt.Errorf("pipeline batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	return nil
}

func validateURL(label, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", label)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", label, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", label)
	}
	return nil
}
