package main

import (
	"context"
	"fmt"

	"github.com/xtxerr/kepsync/internal/apply"
	"github.com/xtxerr/kepsync/internal/catalog"
	"github.com/xtxerr/kepsync/internal/client"
	"github.com/xtxerr/kepsync/internal/loader"
	"github.com/xtxerr/kepsync/internal/logging"
	"github.com/xtxerr/kepsync/internal/metrics"
	"github.com/xtxerr/kepsync/internal/model"
	"github.com/xtxerr/kepsync/internal/sync"
	"github.com/xtxerr/kepsync/internal/validation"
)

var log = logging.Component("main")

// stack holds the components of one process, wired from the config.
type stack struct {
	cfg       *loader.Config
	transport *client.HTTPTransport
	client    *client.Client
	catalog   *catalog.Catalog
	metrics   *metrics.Metrics

	// server is nil unless metrics.listen is set.
	server *metrics.Server
}

func newStack(cfg *loader.Config) (*stack, error) {
	transport, err := client.NewHTTPTransport(loader.ToHTTPConfig(cfg))
	if err != nil {
		return nil, err
	}

	s := &stack{
		cfg:       cfg,
		transport: transport,
		metrics:   metrics.New(),
	}

	onChange := s.metrics.SetConnectivity
	if cfg.Metrics.Listen != "" {
		s.server = metrics.NewServer(cfg.Metrics.Listen, s.metrics)
		onChange = s.server.SetConnectivity
	}

	s.client = client.New(transport, &client.Config{
		MaxConcurrency: cfg.Sync.MaxConcurrency,
		OnConnectivityChange: func(c client.Connectivity) {
			log.Debug("connectivity changed", "state", c.String())
			onChange(c)
		},
	})
	s.catalog = catalog.New(s.client)
	return s, nil
}

// reconciler builds a reconciler for one pass.
func (s *stack) reconciler(dryRun bool) *sync.Reconciler {
	applyCfg := &apply.Config{PageSize: s.cfg.Sync.PageSize}
	if s.cfg.Sync.FilterDrivers {
		applyCfg.Drivers = s.catalog
	}

	cfg := sync.Config{
		Reader:         s.client,
		Applier:        apply.New(s.client, applyCfg),
		Observer:       s.metrics,
		DryRun:         dryRun,
		MaxConcurrency: s.cfg.Sync.MaxConcurrency,
	}
	if s.cfg.Sync.StripDefaults {
		cfg.Defaults = s.catalog
	}
	return sync.New(cfg)
}

// run checks the connection and reconciles the server with source.
func (s *stack) run(ctx context.Context, source *model.Project, dryRun bool) (*sync.Result, error) {
	if err := s.client.TestConnection(ctx); err != nil {
		s.metrics.RecordRun(nil, err)
		return nil, fmt.Errorf("connect to %s: %w", s.transport.BaseURL(), err)
	}

	s.transport.ResetLatencies()
	res, err := s.reconciler(dryRun).Reconcile(ctx, source)
	if !dryRun {
		s.metrics.RecordRun(res, err)
		s.metrics.RecordLatencies(s.transport.Latencies())
	}
	return res, err
}

// loadSource reads and checks the source project. Name problems are
// logged; with strict set they fail the load.
func loadSource(path string, strict bool) (*model.Project, error) {
	p, err := loader.LoadSource(path)
	if err != nil {
		return nil, err
	}
	if err := checkSource(p, strict); err != nil {
		return nil, err
	}
	return p, nil
}

func checkSource(p *model.Project, strict bool) error {
	err := validation.ValidateProject(p)
	if err == nil {
		return nil
	}
	if strict {
		return fmt.Errorf("source project: %w", err)
	}
	log.Warn("source project has problems", "error", err)
	return nil
}
