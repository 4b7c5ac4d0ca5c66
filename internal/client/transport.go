package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xtxerr/kepsync/config"
	"github.com/xtxerr/kepsync/internal/errors"
)

// Transport performs a single REST request. Paths are absolute and already
// escaped. A non-nil error means no status was received; HTTP error
// statuses are returned as status codes.
type Transport interface {
	Do(ctx context.Context, method, path string, body []byte) (status int, respBody []byte, err error)
}

// =============================================================================
// HTTP Transport
// =============================================================================

// HTTPConfig holds HTTP transport configuration.
type HTTPConfig struct {
	BaseURL            string
	Username           string
	Password           string
	InsecureSkipVerify bool
	Timeout            time.Duration
	MaxResponseBytes   int64

	// RequestsPerSecond paces requests. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// DefaultHTTPConfig returns default transport configuration.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		BaseURL:           config.DefaultServerURL,
		Timeout:           config.DefaultRequestTimeout,
		MaxResponseBytes:  config.DefaultMaxResponseBytes,
		RequestsPerSecond: config.DefaultRequestsPerSecond,
		Burst:             config.DefaultRequestBurst,
	}
}

// HTTPTransport talks to the configuration API over HTTP(S) with basic
// authentication.
type HTTPTransport struct {
	baseURL  string
	username string
	password string
	maxBody  int64

	http    *http.Client
	limiter *rate.Limiter
	latency *latencyRecorder
}

// NewHTTPTransport creates an HTTP transport.
func NewHTTPTransport(cfg *HTTPConfig) (*HTTPTransport, error) {
	if cfg == nil {
		cfg = DefaultHTTPConfig()
	}
	if cfg.BaseURL == "" {
		return nil, errors.NewMissingField("server.url")
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, errors.NewValidation("server.url", "must start with http:// or https://")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultRequestTimeout
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = config.DefaultMaxResponseBytes
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed servers
	}

	t := &HTTPTransport{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		maxBody:  maxBody,
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		latency: newLatencyRecorder(),
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return t, nil
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.username != "" {
		req.SetBasicAuth(t.username, t.password)
	}

	start := time.Now()
	resp, err := t.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, fmt.Errorf("%w: %s %s: %v", errors.ErrConnectionFailed, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	t.latency.observe(method, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, fmt.Errorf("%w: read %s %s: %v", errors.ErrConnectionFailed, method, path, err)
	}
	if int64(len(data)) > t.maxBody {
		return resp.StatusCode, nil, fmt.Errorf("%w: %s %s: body exceeds %d bytes",
			errors.ErrMalformedResponse, method, path, t.maxBody)
	}

	return resp.StatusCode, data, nil
}

// Latencies returns request latency statistics per HTTP method.
func (t *HTTPTransport) Latencies() []LatencySummary {
	return t.latency.summaries()
}

// ResetLatencies discards latency statistics, e.g. between watch passes.
func (t *HTTPTransport) ResetLatencies() {
	t.latency.reset()
}

// BaseURL returns the server base URL.
func (t *HTTPTransport) BaseURL() string {
	return t.baseURL
}
