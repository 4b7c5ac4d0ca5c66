package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/kepsync/internal/loader"
	"github.com/xtxerr/kepsync/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var (
		opts     syncOptions
		interval time.Duration
		resync   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync whenever the source project changes",
		Long: `watch checks the source project every interval and runs a sync when its
content changed. With a resync interval, a sync also runs periodically to
correct changes made on the server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval > 0 {
				cfg.Watch.Interval = loader.Duration(interval)
			}
			if cmd.Flags().Changed("resync") {
				cfg.Watch.ResyncInterval = loader.Duration(resync)
			}
			if err := opts.apply(cfg); err != nil {
				return err
			}

			s, err := newStack(cfg)
			if err != nil {
				return err
			}
			format, err := loader.FormatOf(cfg.Source.Path)
			if err != nil {
				return err
			}

			path := cfg.Source.Path
			w := watch.New(&watch.Config{
				Interval:       cfg.Watch.Interval.Duration(),
				ResyncInterval: cfg.Watch.ResyncInterval.Duration(),
			}, func() ([]byte, error) {
				return os.ReadFile(path)
			}, func(ctx context.Context, data []byte) error {
				source, err := loader.ParseSource(data, format)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if err := checkSource(source, opts.Strict); err != nil {
					return err
				}
				res, err := s.run(ctx, source, false)
				if err != nil {
					return err
				}
				if res.Failures > 0 {
					return fmt.Errorf("%d operation(s) failed", res.Failures)
				}
				return nil
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// SIGHUP forces a pass.
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return w.Run(ctx) })
			g.Go(func() error {
				for {
					select {
					case <-hup:
						w.Trigger()
					case <-ctx.Done():
						return nil
					}
				}
			})
			if s.server != nil {
				g.Go(func() error { return s.server.Run(ctx) })
			}
			return g.Wait()
		},
	}

	opts.AddFlags(cmd.Flags())
	cmd.Flags().DurationVar(&interval, "interval", 0, "source check interval (overrides config)")
	cmd.Flags().DurationVar(&resync, "resync", 0, "force a sync after this long without changes, 0 disables (overrides config)")
	return cmd
}
