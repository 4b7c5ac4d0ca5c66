// Package loader handles configuration file loading and validation, and
// reads the source-of-truth project.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Resolving the source path against the config file directory
//   - Parsing YAML, JSON and JSONC project files
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/kepsync/internal/client"
	"github.com/xtxerr/kepsync/internal/errors"
	"github.com/xtxerr/kepsync/internal/logging"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if cfg.Source.Path != "" && !filepath.IsAbs(cfg.Source.Path) {
		cfg.Source.Path = filepath.Join(filepath.Dir(path), cfg.Source.Path)
	}
	return cfg, nil
}

// Parse parses configuration from YAML. Environment variables are
// expanded first; unset fields keep their defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()
	validateConnection(cfg, errs)
	validateSync(cfg, errs)
	return errs.ErrOrNil()
}

// ValidateConnection validates only what is needed to talk to the
// server: server settings, pacing and logging.
func ValidateConnection(cfg *Config) error {
	errs := errors.NewValidationErrors()
	validateConnection(cfg, errs)
	return errs.ErrOrNil()
}

func validateConnection(cfg *Config, errs *errors.ValidationErrors) {
	// Server validation
	if cfg.Server.URL == "" {
		errs.AddMissing("server.url")
	} else if !strings.HasPrefix(cfg.Server.URL, "http://") && !strings.HasPrefix(cfg.Server.URL, "https://") {
		errs.AddField("server.url", "must start with http:// or https://")
	}
	if cfg.Server.Timeout < 0 {
		errs.AddField("server.timeout", "cannot be negative")
	}
	if cfg.Server.MaxResponseBytes < 0 {
		errs.AddField("server.max_response_bytes", "cannot be negative")
	}
	if cfg.Sync.RequestsPerSecond < 0 {
		errs.AddField("sync.requests_per_second", "cannot be negative")
	}

	// Logging validation
	if !logging.IsLevel(cfg.Logging.Level) {
		errs.AddField("logging.level", "must be one of debug, info, warn, error")
	}
}

func validateSync(cfg *Config, errs *errors.ValidationErrors) {
	if cfg.Sync.PageSize < 1 {
		errs.AddField("sync.page_size", "must be at least 1")
	}
	if cfg.Sync.MaxConcurrency < 1 {
		errs.AddField("sync.max_concurrency", "must be at least 1")
	}

	// Source validation
	if cfg.Source.Path == "" {
		errs.AddMissing("source.path")
	} else if _, err := FormatOf(cfg.Source.Path); err != nil {
		errs.AddField("source.path", err.Error())
	}

	// Watch validation
	if cfg.Watch.Interval <= 0 {
		errs.AddField("watch.interval", "must be positive")
	}
	if cfg.Watch.ResyncInterval < 0 {
		errs.AddField("watch.resync_interval", "cannot be negative")
	}
}

// =============================================================================
// Conversion: Config → Transport Config
// =============================================================================

// ToHTTPConfig converts the server and pacing settings to the transport
// configuration.
func ToHTTPConfig(cfg *Config) *client.HTTPConfig {
	return &client.HTTPConfig{
		BaseURL:            cfg.Server.URL,
		Username:           cfg.Server.Username,
		Password:           cfg.Server.Password,
		InsecureSkipVerify: cfg.Server.InsecureSkipVerify,
		Timeout:            cfg.Server.Timeout.Duration(),
		MaxResponseBytes:   cfg.Server.MaxResponseBytes.Bytes(),
		RequestsPerSecond:  cfg.Sync.RequestsPerSecond,
		Burst:              cfg.Sync.RequestBurst,
	}
}
