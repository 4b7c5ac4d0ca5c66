package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/xtxerr/kepsync/internal/loader"
	"github.com/xtxerr/kepsync/internal/model"
)

// syncOptions are the flags shared by sync, diff and watch.
type syncOptions struct {
	Strict      bool
	Concurrency int
	PageSize    int
}

// AddFlags registers the shared flags on flagSet.
func (o *syncOptions) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.BoolVar(&o.Strict, "strict", false, "fail on invalid or duplicate names in the source project")
	flagSet.IntVar(&o.Concurrency, "concurrency", 0, "sibling branches reconciled in parallel (overrides config)")
	flagSet.IntVar(&o.PageSize, "page-size", 0, "entities per insert request (overrides config)")
}

// apply copies set flags into cfg and validates the result.
func (o *syncOptions) apply(c *loader.Config) error {
	if o.Concurrency > 0 {
		c.Sync.MaxConcurrency = o.Concurrency
	}
	if o.PageSize > 0 {
		c.Sync.PageSize = o.PageSize
	}
	return loader.Validate(c)
}

func newSyncCmd() *cobra.Command {
	var (
		opts   syncOptions
		dryRun bool
		ask    bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Make the server configuration match the source project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.apply(cfg); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			source, err := loadSource(cfg.Source.Path, opts.Strict)
			if err != nil {
				return err
			}
			s, err := newStack(cfg)
			if err != nil {
				return err
			}

			if dryRun {
				return runDiff(ctx, s, source, cmd)
			}
			if ask {
				ok, err := confirmPlan(ctx, s, cmd)
				if err != nil || !ok {
					return err
				}
			}

			res, err := s.run(ctx, source, false)
			if res != nil {
				printResult(cmd.OutOrStdout(), res)
				printLatencies(cmd.OutOrStdout(), s.transport.Latencies())
			}
			if err != nil {
				return err
			}
			if res.Failures > 0 {
				return fmt.Errorf("%d operation(s) failed", res.Failures)
			}
			return nil
		},
	}

	opts.AddFlags(cmd.Flags())
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the planned operations without writing")
	cmd.Flags().BoolVar(&ask, "confirm", false, "show the plan and ask before writing")
	return cmd
}

func newDiffCmd() *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Print the operations a sync would perform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.apply(cfg); err != nil {
				return err
			}
			source, err := loadSource(cfg.Source.Path, opts.Strict)
			if err != nil {
				return err
			}
			s, err := newStack(cfg)
			if err != nil {
				return err
			}
			return runDiff(cmd.Context(), s, source, cmd)
		},
	}

	opts.AddFlags(cmd.Flags())
	return cmd
}

func runDiff(ctx context.Context, s *stack, source *model.Project, cmd *cobra.Command) error {
	res, err := s.run(ctx, source, true)
	if err != nil {
		return err
	}
	printPlan(cmd.OutOrStdout(), res.Plan)
	return nil
}

// confirmPlan prints the plan and asks whether to apply it. An empty plan
// needs no confirmation and returns false.
func confirmPlan(ctx context.Context, s *stack, cmd *cobra.Command) (bool, error) {
	source, err := loadSource(cfg.Source.Path, false)
	if err != nil {
		return false, err
	}
	res, err := s.run(ctx, source, true)
	if err != nil {
		return false, err
	}

	out := cmd.OutOrStdout()
	printPlan(out, res.Plan)
	if len(res.Plan) == 0 {
		return false, nil
	}

	ok, err := confirm(fmt.Sprintf("Apply %d operation(s) to %s?", len(res.Plan), s.transport.BaseURL()))
	if err != nil {
		return false, err
	}
	if !ok {
		fmt.Fprintln(out, "Aborted.")
	}
	return ok, nil
}
