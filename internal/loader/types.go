// Package loader - Configuration Types
//
// Defines the YAML configuration structure for kepsync.
//
//	server:   configuration API endpoint and credentials
//	sync:     paging, concurrency, request pacing
//	source:   the project file that is the source of truth
//	logging:  level and format
//	metrics:  Prometheus endpoint (watch mode)
//	watch:    polling and resync intervals
package loader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/kepsync/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Sync    SyncConfig    `yaml:"sync"`
	Source  SourceConfig  `yaml:"source"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Watch   WatchConfig   `yaml:"watch"`
}

// ServerConfig configures the connection to the configuration API.
type ServerConfig struct {
	// URL is the API base URL, e.g. "https://kepware:57512".
	URL string `yaml:"url"`

	Username string `yaml:"username"`

	// Password is usually given as "${ENV_VAR}" or entered interactively.
	Password string `yaml:"password"`

	// InsecureSkipVerify accepts self-signed server certificates.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// Timeout bounds a single request.
	Timeout Duration `yaml:"timeout"`

	// MaxResponseBytes caps a response body, e.g. "64MB".
	MaxResponseBytes ByteSize `yaml:"max_response_bytes"`
}

// SyncConfig configures reconciliation.
type SyncConfig struct {
	// PageSize is the number of entities per insert request.
	PageSize int `yaml:"page_size"`

	// MaxConcurrency bounds concurrently reconciled sibling subtrees.
	MaxConcurrency int `yaml:"max_concurrency"`

	// RequestsPerSecond paces requests. Zero disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	RequestBurst      int     `yaml:"request_burst"`

	// StripDefaults ignores remote channel and device properties that
	// equal the driver default when the source omits them.
	StripDefaults bool `yaml:"strip_defaults"`

	// FilterDrivers skips inserting channels and devices whose driver is
	// not installed on the server.
	FilterDrivers bool `yaml:"filter_drivers"`
}

// SourceConfig locates the source-of-truth project.
type SourceConfig struct {
	// Path to a .yaml, .yml, .json or .jsonc project file. Relative paths
	// resolve against the config file directory.
	Path string `yaml:"path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the HTTP listen address. Empty disables the endpoint.
	Listen string `yaml:"listen"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Interval       Duration `yaml:"interval"`
	ResyncInterval Duration `yaml:"resync_interval"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:              config.DefaultServerURL,
			Timeout:          Duration(config.DefaultRequestTimeout),
			MaxResponseBytes: ByteSize(config.DefaultMaxResponseBytes),
		},

		Sync: SyncConfig{
			PageSize:          config.DefaultPageSize,
			MaxConcurrency:    config.DefaultMaxConcurrency,
			RequestsPerSecond: config.DefaultRequestsPerSecond,
			RequestBurst:      config.DefaultRequestBurst,
			StripDefaults:     true,
			FilterDrivers:     true,
		},

		Logging: LoggingConfig{
			Level: config.DefaultLogLevel,
		},

		Metrics: MetricsConfig{
			Listen: config.DefaultMetricsListen,
		},

		Watch: WatchConfig{
			Interval:       Duration(config.DefaultWatchInterval),
			ResyncInterval: Duration(config.DefaultResyncInterval),
		},
	}
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
// Accepts "30s", "5m" or a plain number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ByteSize is a size in bytes that can be unmarshaled from YAML.
// Supports: "64MB", "1GB", "500KB", or plain bytes.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		var i int64
		if err := unmarshal(&i); err != nil {
			return err
		}
		*b = ByteSize(i)
		return nil
	}
	size, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// byteUnits is ordered longest suffix first so "MB" is not read as "B".
var byteUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"TB", 1024 * 1024 * 1024 * 1024},
	{"GB", 1024 * 1024 * 1024},
	{"MB", 1024 * 1024},
	{"KB", 1024},
	{"B", 1},
}

// parseByteSize parses a size string like "100MB" or "1GB".
func parseByteSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			n, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse byte size %q: %w", s, err)
			}
			return n * u.multiplier, nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse byte size %q: %w", s, err)
	}
	return n, nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}
