// Package watch re-runs reconciliation when the source project changes.
//
// The source is read on every tick and identified by a BLAKE3 digest of
// its raw bytes. A pass runs when the digest differs from the last
// successful pass, or when the resync interval has elapsed so that drift
// on the server side is corrected even if the source stays the same.
package watch

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"github.com/xtxerr/kepsync/config"
	"github.com/xtxerr/kepsync/internal/logging"
)

var log = logging.Component("watch")

// ReadFunc returns the current raw source content.
type ReadFunc func() ([]byte, error)

// RunFunc reconciles the server against data.
type RunFunc func(ctx context.Context, data []byte) error

// Config holds watcher configuration.
type Config struct {
	// Interval is how often the source is checked for changes.
	Interval time.Duration

	// ResyncInterval forces a pass after this long even without changes.
	// Zero disables forced passes.
	ResyncInterval time.Duration
}

// DefaultConfig returns default watcher configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:       config.DefaultWatchInterval,
		ResyncInterval: config.DefaultResyncInterval,
	}
}

// Stats holds watcher counters.
type Stats struct {
	Checks   int64
	Runs     int64
	Skipped  int64
	Failures int64
}

// Watcher polls a source and runs reconciliation passes.
//
// Run must be called from a single goroutine; Trigger and Stats are safe
// for concurrent use.
type Watcher struct {
	read     ReadFunc
	run      RunFunc
	interval time.Duration
	resync   time.Duration

	// wakeup requests an immediate check.
	wakeup chan struct{}

	// State of the last successful pass, owned by Run.
	digest  [32]byte
	hasRun  bool
	lastRun time.Time
	force   bool

	now func() time.Time

	checks   atomic.Int64
	runs     atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64
}

// New creates a watcher.
func New(cfg *Config, read ReadFunc, run RunFunc) *Watcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = config.DefaultWatchInterval
	}
	return &Watcher{
		read:     read,
		run:      run,
		interval: interval,
		resync:   cfg.ResyncInterval,
		wakeup:   make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Digest returns the hex BLAKE3 digest identifying a source revision.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Run checks the source immediately and then every interval until ctx is
// cancelled. Failed passes are logged and retried on the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	log.Info("watching source", "interval", w.interval, "resync_interval", w.resync)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.check(ctx)
	for {
		select {
		case <-ticker.C:
			w.check(ctx)
		case <-w.wakeup:
			w.force = true
			w.check(ctx)
		case <-ctx.Done():
			s := w.Stats()
			log.Info("watch stopped",
				"checks", s.Checks,
				"runs", s.Runs,
				"skipped", s.Skipped,
				"failures", s.Failures,
			)
			return nil
		}
	}
}

// Trigger requests a pass on the next loop iteration regardless of the
// digest.
func (w *Watcher) Trigger() {
	select {
	case w.wakeup <- struct{}{}:
	default:
		// Already signaled
	}
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:   w.checks.Load(),
		Runs:     w.runs.Load(),
		Skipped:  w.skipped.Load(),
		Failures: w.failures.Load(),
	}
}

func (w *Watcher) check(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	w.checks.Add(1)

	data, err := w.read()
	if err != nil {
		w.failures.Add(1)
		log.Warn("read source failed", "error", err)
		return
	}

	sum := blake3.Sum256(data)
	now := w.now()
	changed := !w.hasRun || sum != w.digest
	due := w.hasRun && w.resync > 0 && now.Sub(w.lastRun) >= w.resync

	if !changed && !due && !w.force {
		w.skipped.Add(1)
		return
	}
	w.force = false

	reason := "changed"
	if !changed {
		reason = "resync"
	}
	log.Info("running reconciliation", "reason", reason, "digest", hex.EncodeToString(sum[:8]))

	w.runs.Add(1)
	if err := w.execute(ctx, data); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.failures.Add(1)
		log.Error("reconciliation failed", "error", err)
		return
	}

	w.digest = sum
	w.hasRun = true
	w.lastRun = now
}

// execute runs one pass and converts a panic into an error so that a bad
// source revision does not stop the watcher.
func (w *Watcher) execute(ctx context.Context, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.run(ctx, data)
}
