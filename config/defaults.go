// Package config provides configuration defaults and utilities
// for the kepsync application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml, environment variables
// referenced from it, or command line flags.
package config

import "time"

// =============================================================================
// Server Defaults
// =============================================================================

const (
	// DefaultServerURL is the configuration API base URL.
	// Override via config: server.url
	DefaultServerURL = "https://localhost:57512"

	// DefaultRequestTimeout bounds a single REST request, including
	// reading the response body.
	// Override via config: server.timeout
	DefaultRequestTimeout = 30 * time.Second

	// DefaultMaxResponseBytes caps the size of a response body. Deep
	// project loads of large servers stay well below this.
	// Override via config: server.max_response_bytes
	DefaultMaxResponseBytes = 64 * 1024 * 1024
)

// =============================================================================
// Sync Defaults
// =============================================================================

const (
	// DefaultPageSize is the number of entities sent per insert POST.
	// Override via config: sync.page_size
	DefaultPageSize = 10

	// DefaultMaxConcurrency bounds concurrently reconciled sibling
	// subtrees per tree level.
	// Override via config: sync.max_concurrency
	DefaultMaxConcurrency = 8

	// DefaultRequestsPerSecond paces REST requests. Zero disables pacing.
	// Override via config: sync.requests_per_second
	DefaultRequestsPerSecond = 0

	// DefaultRequestBurst is the token bucket burst used when pacing is on.
	// Override via config: sync.request_burst
	DefaultRequestBurst = 10
)

// =============================================================================
// Watch Defaults
// =============================================================================

const (
	// DefaultWatchInterval is how often watch mode checks the source for
	// changes.
	// Override via config: watch.interval
	DefaultWatchInterval = 30 * time.Second

	// DefaultResyncInterval forces a pass even without source changes so
	// that drift on the server gets corrected. Zero disables it.
	// Override via config: watch.resync_interval
	DefaultResyncInterval = 10 * time.Minute
)

// =============================================================================
// Metrics Defaults
// =============================================================================

const (
	// DefaultMetricsListen is the address of the /metrics endpoint in
	// watch mode. Empty disables the endpoint.
	// Override via config: metrics.listen
	DefaultMetricsListen = ""

	// DefaultShutdownTimeout bounds the graceful shutdown of the metrics
	// server.
	DefaultShutdownTimeout = 5 * time.Second
)

// =============================================================================
// Logging Defaults
// =============================================================================

const (
	// DefaultLogLevel is one of debug, info, warn, error.
	// Override via config: logging.level
	DefaultLogLevel = "info"
)
