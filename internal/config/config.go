// Package config loads and validates the run configuration. Values come
// from a YAML file layered over defaults, with storage credentials taken
// from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures everything required to initialise a crawl-and-relay run.
type Config struct {
	Canvas    CanvasConfig    `yaml:"canvas"`
	Storage   StorageConfig   `yaml:"storage"`
	Manifest  SQLConfig       `yaml:"manifest"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Rendering RenderingConfig `yaml:"rendering"`
	Session   SessionConfig   `yaml:"session"`
	Workers   WorkersConfig   `yaml:"workers"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CanvasConfig describes the source site and how politely to fetch it.
type CanvasConfig struct {
	BaseURL         string          `yaml:"base_url"`
	UserAgent       string          `yaml:"user_agent"`
	RequestTimeout  Duration        `yaml:"request_timeout"`
	TransferTimeout Duration        `yaml:"transfer_timeout"`
	PerHostDelay    Duration        `yaml:"per_host_delay"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig applies a token bucket per host.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// Enabled reports whether per-host rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}

// StorageConfig describes the gateway that issues signed upload URLs.
// The anon key is environment-only and never read from YAML.
type StorageConfig struct {
	ProjectURL    string   `yaml:"project_url"`
	NegotiatePath string   `yaml:"negotiate_path"`
	Bucket        string   `yaml:"bucket"`
	Root          string   `yaml:"root"`
	TermLabel     string   `yaml:"term_label"`
	UploadTimeout Duration `yaml:"upload_timeout"`

	AnonKey string `yaml:"-"`
}

// NegotiateURL joins the project URL and the edge-function path.
func (s StorageConfig) NegotiateURL() string {
	if s.ProjectURL == "" {
		return ""
	}
	return strings.TrimSuffix(s.ProjectURL, "/") + s.NegotiatePath
}

// SQLConfig describes the optional relayed-objects manifest database.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// CrawlConfig bounds the per-course traversal.
type CrawlConfig struct {
	TermPatterns  []string       `yaml:"term_patterns"`
	MaxFilesDepth int            `yaml:"max_files_depth"`
	MaxWikiPages  int            `yaml:"max_wiki_pages"`
	MaxWikiDepth  int            `yaml:"max_wiki_depth"`
	LazyLoad      LazyLoadConfig `yaml:"lazy_load"`
}

// LazyLoadConfig tunes the scroll-and-settle loop that forces client-side
// incremental rendering to materialize. The caps are tunable, not
// contracts; sites differ in how many scroll cycles they need.
type LazyLoadConfig struct {
	MaxScrolls      int      `yaml:"max_scrolls"`
	EscalateTo      int      `yaml:"escalate_to"`
	IndexMaxScrolls int      `yaml:"index_max_scrolls"`
	ScrollDeltaPx   int      `yaml:"scroll_delta_px"`
	SettleChecks    int      `yaml:"settle_checks"`
	PollDelay       Duration `yaml:"poll_delay"`
	RowWait         Duration `yaml:"row_wait"`
}

// RenderingConfig controls the browser session.
type RenderingConfig struct {
	Headless    bool     `yaml:"headless"`
	NavTimeout  Duration `yaml:"nav_timeout"`
	OpTimeout   Duration `yaml:"op_timeout"`
	RowSelector string   `yaml:"row_selector"`
}

// SessionConfig controls persisted session state and login recovery.
type SessionConfig struct {
	StatePath   string `yaml:"state_path"`
	Interactive bool   `yaml:"interactive"`
}

// WorkersConfig sizes the parallel HTTP pools.
type WorkersConfig struct {
	VersionResolvers int      `yaml:"version_resolvers"`
	RelayUploaders   int      `yaml:"relay_uploaders"`
	PoolConnections  int      `yaml:"pool_connections"`
	RetryAttempts    int      `yaml:"retry_attempts"`
	RetryBackoff     Duration `yaml:"retry_backoff"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Canvas: CanvasConfig{
			UserAgent:       "canvasrelay/1.0",
			RequestTimeout:  DurationFrom(60 * time.Second),
			TransferTimeout: DurationFrom(2 * time.Minute),
		},
		Storage: StorageConfig{
			NegotiatePath: "/functions/v1/ingest_by_url",
			Root:          "Canvas",
			UploadTimeout: DurationFrom(5 * time.Minute),
		},
		Manifest: SQLConfig{
			AutoMigrate: true,
		},
		Crawl: CrawlConfig{
			MaxFilesDepth: 8,
			MaxWikiPages:  30,
			MaxWikiDepth:  1,
			LazyLoad: LazyLoadConfig{
				MaxScrolls:      12,
				EscalateTo:      30,
				IndexMaxScrolls: 8,
				ScrollDeltaPx:   2400,
				SettleChecks:    2,
				PollDelay:       DurationFrom(60 * time.Millisecond),
				RowWait:         DurationFrom(1500 * time.Millisecond),
			},
		},
		Rendering: RenderingConfig{
			Headless:    true,
			NavTimeout:  DurationFrom(60 * time.Second),
			OpTimeout:   DurationFrom(15 * time.Second),
			RowSelector: "div.ef-item-row",
		},
		Session: SessionConfig{
			Interactive: true,
		},
		Workers: WorkersConfig{
			VersionResolvers: 8,
			RelayUploaders:   6,
			PoolConnections:  64,
			RetryAttempts:    5,
			RetryBackoff:     DurationFrom(500 * time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: false,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file. An
// empty path yields defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fh, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer fh.Close()
		if err := decodeYAML(fh, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// applyEnv layers environment-supplied values over the file config.
// Credentials only ever come from here.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("SUPABASE_URL")); v != "" {
		c.Storage.ProjectURL = v
	}
	c.Storage.AnonKey = strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY"))
	if v := strings.TrimSpace(os.Getenv("STORAGE_BUCKET")); v != "" {
		c.Storage.Bucket = v
	}
	if v := strings.TrimSpace(os.Getenv("CANVAS_BASE_URL")); v != "" {
		c.Canvas.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MANIFEST_DSN")); v != "" {
		c.Manifest.DSN = v
	}
}

func (c *Config) normalise() {
	c.Canvas.BaseURL = strings.TrimSuffix(strings.TrimSpace(c.Canvas.BaseURL), "/")
	c.Canvas.UserAgent = strings.TrimSpace(c.Canvas.UserAgent)
	c.Storage.ProjectURL = strings.TrimSuffix(strings.TrimSpace(c.Storage.ProjectURL), "/")
	c.Storage.Root = strings.Trim(strings.TrimSpace(c.Storage.Root), "/")
	c.Storage.TermLabel = strings.TrimSpace(c.Storage.TermLabel)
	c.Session.StatePath = strings.TrimSpace(c.Session.StatePath)

	cleaned := make([]string, 0, len(c.Crawl.TermPatterns))
	for _, p := range c.Crawl.TermPatterns {
		if strings.TrimSpace(p) != "" {
			cleaned = append(cleaned, p)
		}
	}
	c.Crawl.TermPatterns = cleaned
}

// Validate enforces required invariants. Credential presence is checked
// separately at startup so that shape errors and missing secrets report
// distinctly.
func (c Config) Validate() error {
	if c.Canvas.BaseURL == "" {
		return errors.New("canvas.base_url must be set")
	}
	if !strings.HasPrefix(c.Canvas.BaseURL, "http://") && !strings.HasPrefix(c.Canvas.BaseURL, "https://") {
		return fmt.Errorf("canvas.base_url %q must be an absolute http(s) URL", c.Canvas.BaseURL)
	}
	if c.Canvas.UserAgent == "" {
		return errors.New("canvas.user_agent must be set")
	}
	if c.Crawl.MaxFilesDepth <= 0 {
		return fmt.Errorf("crawl.max_files_depth must be > 0 (got %d)", c.Crawl.MaxFilesDepth)
	}
	if c.Crawl.MaxWikiPages <= 0 {
		return fmt.Errorf("crawl.max_wiki_pages must be > 0 (got %d)", c.Crawl.MaxWikiPages)
	}
	if c.Crawl.MaxWikiDepth <= 0 {
		return fmt.Errorf("crawl.max_wiki_depth must be > 0 (got %d)", c.Crawl.MaxWikiDepth)
	}
	if ll := c.Crawl.LazyLoad; ll.MaxScrolls <= 0 || ll.ScrollDeltaPx <= 0 || ll.SettleChecks <= 0 {
		return errors.New("crawl.lazy_load scroll parameters must be positive")
	}
	if c.Workers.VersionResolvers <= 0 {
		return fmt.Errorf("workers.version_resolvers must be > 0 (got %d)", c.Workers.VersionResolvers)
	}
	if c.Workers.RelayUploaders <= 0 {
		return fmt.Errorf("workers.relay_uploaders must be > 0 (got %d)", c.Workers.RelayUploaders)
	}
	if c.Workers.RetryAttempts <= 0 {
		return fmt.Errorf("workers.retry_attempts must be > 0 (got %d)", c.Workers.RetryAttempts)
	}
	if c.Rendering.RowSelector == "" {
		return errors.New("rendering.row_selector must be set")
	}
	if rl := c.Canvas.RateLimit; rl.Requests < 0 {
		return fmt.Errorf("canvas.rate_limit.requests must be >= 0 (got %d)", rl.Requests)
	}
	return nil
}
