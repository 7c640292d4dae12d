package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultUserAgent is a desktop Chrome user agent; many sites block obvious bots.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"

// Config captures the full configuration required to run a crawl.
type Config struct {
	DB        SQLConfig       `yaml:"db"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Classify  ClassifyConfig  `yaml:"classify"`
	Rendering RenderingConfig `yaml:"rendering"`
	Sitemap   SitemapConfig   `yaml:"sitemap"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SQLConfig describes the article store used by the sitemap variant.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// Enabled reports whether an article store is configured.
func (c SQLConfig) Enabled() bool {
	return c.Driver != "" && c.DSN != ""
}

// CrawlConfig controls the level traversal.
type CrawlConfig struct {
	Levels              int               `yaml:"levels"`
	Concurrency         int               `yaml:"concurrency"`
	Keyword             string            `yaml:"keyword"`
	UserAgent           string            `yaml:"user_agent"`
	Headers             map[string]string `yaml:"headers"`
	ProxyURL            string            `yaml:"proxy_url"`
	URLTimeout          Duration          `yaml:"url_timeout"`
	PerDomainDelay      Duration          `yaml:"per_domain_delay"`
	RateLimitPerDomain  RateLimitConfig   `yaml:"rate_limit_per_domain"`
	MaxBodyBytes        int64             `yaml:"max_body_bytes"`
	MaxLinksPerPage     int               `yaml:"max_links_per_page"`
	MarkRejectedVisited bool              `yaml:"mark_rejected_visited"`
	StrictMembership    bool              `yaml:"strict_membership"`
}

// RateLimitConfig applies a token bucket per domain.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// ClassifyConfig tunes the reachability probes.
type ClassifyConfig struct {
	RequestTimeout Duration `yaml:"request_timeout"`
	ProbeTimeout   Duration `yaml:"probe_timeout"`
	CrossCheck     bool     `yaml:"cross_check"`
}

// RenderingConfig controls the browser renderer.
type RenderingConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Engine             string   `yaml:"engine"`
	Timeout            Duration `yaml:"timeout"`
	ScrollPause        Duration `yaml:"scroll_pause"`
	MaxScrolls         int      `yaml:"max_scrolls"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
	DisableHeadless    bool     `yaml:"disable_headless"`
	Locale             string   `yaml:"locale"`
}

// SitemapConfig controls sitemap discovery for the article variant.
type SitemapConfig struct {
	Candidates         []string `yaml:"candidates"`
	IncludeTokens      []string `yaml:"include_tokens"`
	ExcludedExtensions []string `yaml:"excluded_extensions"`
	RequestTimeout     Duration `yaml:"request_timeout"`
	ArticleDelay       Duration `yaml:"article_delay"`
	RefreshExisting    bool     `yaml:"refresh_existing"`
}

// OutputConfig controls where URL lists are written.
type OutputConfig struct {
	Directory string `yaml:"directory"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Crawl: CrawlConfig{
			Levels:          2,
			Concurrency:     1,
			UserAgent:       DefaultUserAgent,
			Headers:         map[string]string{},
			URLTimeout:      DurationFrom(2 * time.Minute),
			PerDomainDelay:  DurationFrom(0),
			MaxBodyBytes:    6 * 1024 * 1024,
			MaxLinksPerPage: 0,
		},
		Classify: ClassifyConfig{
			RequestTimeout: DurationFrom(10 * time.Second),
			ProbeTimeout:   DurationFrom(3 * time.Second),
			CrossCheck:     true,
		},
		Rendering: RenderingConfig{
			Enabled:            false,
			Engine:             "chromedp",
			Timeout:            DurationFrom(60 * time.Second),
			ScrollPause:        DurationFrom(2 * time.Second),
			MaxScrolls:         20,
			ConcurrentSessions: 1,
			Locale:             "de",
		},
		Sitemap: SitemapConfig{
			Candidates:    []string{"sitemap.xml", "wp-sitemap.xml", "sitemap_index.xml"},
			IncludeTokens: []string{"posts-post", "post-sitemap"},
			ExcludedExtensions: []string{
				".jpg", ".jpeg", ".png", ".gif", ".bmp", ".pdf",
				".doc", ".docx", ".mp3", ".mp4", ".webp",
			},
			RequestTimeout: DurationFrom(10 * time.Second),
			ArticleDelay:   DurationFrom(time.Second),
		},
		Output: OutputConfig{
			Directory: ".",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: false,
		},
		DB: SQLConfig{
			AutoMigrate: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate enforces required invariants for the crawler configuration.
func (c Config) Validate() error {
	if c.Crawl.Levels < 0 {
		return fmt.Errorf("crawl.levels must be >= 0 (got %d)", c.Crawl.Levels)
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0 (got %d)", c.Crawl.Concurrency)
	}
	if c.Crawl.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawl.max_body_bytes must be > 0 (got %d)", c.Crawl.MaxBodyBytes)
	}
	if c.Crawl.MaxLinksPerPage < 0 {
		return fmt.Errorf("crawl.max_links_per_page must be >= 0 (got %d)", c.Crawl.MaxLinksPerPage)
	}
	if rl := c.Crawl.RateLimitPerDomain; rl.Requests < 0 {
		return fmt.Errorf("crawl.rate_limit_per_domain.requests must be >= 0 (got %d)", rl.Requests)
	}
	if strings.TrimSpace(c.Crawl.UserAgent) == "" {
		return errors.New("crawl.user_agent must be set")
	}
	if c.Classify.RequestTimeout.Duration <= 0 {
		return errors.New("classify.request_timeout must be positive")
	}
	if c.Classify.ProbeTimeout.Duration <= 0 {
		return errors.New("classify.probe_timeout must be positive")
	}
	if c.Rendering.Enabled {
		switch c.Rendering.Engine {
		case "chromedp", "chrome", "none":
		default:
			return fmt.Errorf("unsupported rendering engine %q", c.Rendering.Engine)
		}
	}
	if c.DB.Enabled() {
		switch c.DB.Driver {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("unsupported db driver %q", c.DB.Driver)
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.Logging.Level)
	}
	return nil
}

// Normalise trims and de-duplicates user supplied values.
func (c *Config) Normalise() {
	c.Crawl.UserAgent = strings.TrimSpace(c.Crawl.UserAgent)
	c.Crawl.Keyword = strings.TrimSpace(c.Crawl.Keyword)
	if c.Crawl.Headers == nil {
		c.Crawl.Headers = make(map[string]string)
	}
	c.Rendering.Engine = strings.ToLower(strings.TrimSpace(c.Rendering.Engine))
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	c.Output.Directory = strings.TrimSpace(c.Output.Directory)
	if c.Output.Directory == "" {
		c.Output.Directory = "."
	}
	if len(c.Sitemap.IncludeTokens) > 0 {
		c.Sitemap.IncludeTokens = dedupeLower(c.Sitemap.IncludeTokens)
	}
	if len(c.Sitemap.ExcludedExtensions) > 0 {
		exts := make([]string, 0, len(c.Sitemap.ExcludedExtensions))
		for _, ext := range c.Sitemap.ExcludedExtensions {
			ext = strings.TrimSpace(ext)
			if ext != "" && !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			exts = append(exts, ext)
		}
		c.Sitemap.ExcludedExtensions = dedupeLower(exts)
	}
	if len(c.Sitemap.Candidates) > 0 {
		cleaned := make([]string, 0, len(c.Sitemap.Candidates))
		for _, cand := range c.Sitemap.Candidates {
			cand = strings.Trim(strings.TrimSpace(cand), "/")
			if cand != "" {
				cleaned = append(cleaned, cand)
			}
		}
		c.Sitemap.Candidates = cleaned
	}
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}

// Enabled reports whether per-domain rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}
