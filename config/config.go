package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvAPIBaseURL overrides api.base_url when set.
const EnvAPIBaseURL = "HEMLARM_API_URL"

const (
	defaultPollInterval     = 5 * time.Second
	defaultPageSize         = 10
	defaultLiveViewListen   = ":18080"
	defaultDiagnosticsLimit = 20
	defaultRequestIDHeader  = "X-Request-ID"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// APIConfig describes how to reach the device API.
type APIConfig struct {
	BaseURL         string   `yaml:"base_url"`
	Timeout         Duration `yaml:"timeout,omitempty"`
	RequestIDHeader string   `yaml:"request_id_header,omitempty"`
}

// PollConfig configures the background refresh cycle.
type PollConfig struct {
	Interval Duration `yaml:"interval,omitempty"`
	PageSize int      `yaml:"page_size,omitempty"`
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
}

// LiveViewConfig configures the embedded live view HTTP server.
type LiveViewConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// ViewConfig tunes what the dashboard presents.
type ViewConfig struct {
	// DeviceFilter is an expression evaluated per device; only devices for
	// which it yields true are shown. Available names: id, name, isActive,
	// status, pending.
	DeviceFilter     string `yaml:"device_filter,omitempty"`
	DiagnosticsLimit int    `yaml:"diagnostics_limit,omitempty"`
}

// Config is the root configuration structure.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Poll      PollConfig      `yaml:"poll"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	LiveView  LiveViewConfig  `yaml:"live_view"`
	View      ViewConfig      `yaml:"view"`
	Includes  []string        `yaml:"includes,omitempty"`
	HotReload bool            `yaml:"hot_reload,omitempty"`

	// Sources lists the absolute paths of every file that contributed to
	// this configuration, the root file first.
	Sources []string `yaml:"-"`
}

// Load reads the configuration file, resolves includes relative to it and
// applies environment overrides.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg, err := loadFile(abs, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	if env := strings.TrimSpace(os.Getenv(EnvAPIBaseURL)); env != "" {
		cfg.API.BaseURL = env
	}
	return cfg, nil
}

func loadFile(path string, visited map[string]struct{}) (*Config, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("include cycle at %s", path)
	}
	visited[path] = struct{}{}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	cfg.Sources = []string{path}

	baseDir := filepath.Dir(path)
	for _, include := range cfg.Includes {
		include = strings.TrimSpace(include)
		if include == "" {
			continue
		}
		if !filepath.IsAbs(include) {
			include = filepath.Join(baseDir, include)
		}
		child, err := loadFile(filepath.Clean(include), visited)
		if err != nil {
			return nil, err
		}
		mergeConfig(&cfg, child)
	}
	return &cfg, nil
}

// mergeConfig copies every value set in src over dst.
func mergeConfig(dst, src *Config) {
	if src.API.BaseURL != "" {
		dst.API.BaseURL = src.API.BaseURL
	}
	if src.API.Timeout.Duration > 0 {
		dst.API.Timeout = src.API.Timeout
	}
	if src.API.RequestIDHeader != "" {
		dst.API.RequestIDHeader = src.API.RequestIDHeader
	}
	if src.Poll.Interval.Duration > 0 {
		dst.Poll.Interval = src.Poll.Interval
	}
	if src.Poll.PageSize > 0 {
		dst.Poll.PageSize = src.Poll.PageSize
	}
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
	if src.Logging.Loki.Enabled || src.Logging.Loki.URL != "" || len(src.Logging.Loki.Labels) > 0 {
		dst.Logging.Loki = src.Logging.Loki
	}
	if src.Telemetry.Enabled || src.Telemetry.Provider != "" {
		dst.Telemetry = src.Telemetry
	}
	if src.LiveView.Enabled || src.LiveView.Listen != "" {
		dst.LiveView = src.LiveView
	}
	if src.View.DeviceFilter != "" {
		dst.View.DeviceFilter = src.View.DeviceFilter
	}
	if src.View.DiagnosticsLimit > 0 {
		dst.View.DiagnosticsLimit = src.View.DiagnosticsLimit
	}
	if src.HotReload {
		dst.HotReload = true
	}
	dst.Sources = append(dst.Sources, src.Sources...)
}

// Validate checks the settings the session cannot run without.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config must not be nil")
	}
	base := strings.TrimSpace(c.API.BaseURL)
	if base == "" {
		return fmt.Errorf("api.base_url is required (or set %s)", EnvAPIBaseURL)
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("parse api.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api.base_url must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("api.base_url must include a host")
	}
	if c.Poll.PageSize < 0 {
		return fmt.Errorf("poll.page_size must not be negative")
	}
	if c.Poll.Interval.Duration < 0 {
		return fmt.Errorf("poll.interval must not be negative")
	}
	return nil
}

// PollInterval returns the configured refresh period.
func (c *Config) PollInterval() time.Duration {
	if c == nil || c.Poll.Interval.Duration <= 0 {
		return defaultPollInterval
	}
	return c.Poll.Interval.Duration
}

// PageSize returns the number of log entries fetched per page.
func (c *Config) PageSize() int {
	if c == nil || c.Poll.PageSize <= 0 {
		return defaultPageSize
	}
	return c.Poll.PageSize
}

// LiveViewListen returns the live view listen address.
func (c *Config) LiveViewListen() string {
	if c == nil || strings.TrimSpace(c.LiveView.Listen) == "" {
		return defaultLiveViewListen
	}
	return c.LiveView.Listen
}

// DiagnosticsLimit returns how many recent failures the session keeps.
func (c *Config) DiagnosticsLimit() int {
	if c == nil || c.View.DiagnosticsLimit <= 0 {
		return defaultDiagnosticsLimit
	}
	return c.View.DiagnosticsLimit
}

// RequestIDHeaderName returns the header carrying per-request identifiers.
func (a APIConfig) RequestIDHeaderName() string {
	if strings.TrimSpace(a.RequestIDHeader) == "" {
		return defaultRequestIDHeader
	}
	return a.RequestIDHeader
}
