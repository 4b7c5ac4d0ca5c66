package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/kepsync/internal/errors"
	"github.com/xtxerr/kepsync/internal/logging"
	"github.com/xtxerr/kepsync/internal/model"
)

// =============================================================================
// Sync Execution
// =============================================================================

// Reconcile loads the remote project and reconciles source against it.
//
// Only structural errors and context cancellation are returned. Failed
// remote operations are counted in Result.Failures and logged.
func (r *Reconciler) Reconcile(ctx context.Context, source *model.Project) (*Result, error) {
	ctx, result := r.begin(ctx)

	target, err := r.reader.LoadProject(ctx)
	if err != nil {
		if errors.IsStructural(err) || ctx.Err() != nil {
			return result, err
		}
		logging.FromContext(ctx, log).Warn("remote project unavailable", "error", err)
		result.ByKind.add(model.KindProject, Counts{Failures: 1})
		return r.finish(ctx, result, nil)
	}

	return r.reconcileTrees(ctx, result, source, target)
}

// ReconcileTrees reconciles source against an already loaded target.
// Target child collections that are nil are loaded on demand.
func (r *Reconciler) ReconcileTrees(ctx context.Context, source, target *model.Project) (*Result, error) {
	ctx, result := r.begin(ctx)
	return r.reconcileTrees(ctx, result, source, target)
}

func (r *Reconciler) begin(ctx context.Context) (context.Context, *Result) {
	runID := logging.RunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = logging.ContextWithRunID(ctx, runID)
	}
	if r.planner != nil {
		r.planner.Reset()
		ctx = logging.ContextWithDryRun(ctx)
	}
	return ctx, &Result{
		RunID:     runID,
		StartedAt: time.Now(),
		DryRun:    r.planner != nil,
		ByKind:    Tally{},
	}
}

func (r *Reconciler) reconcileTrees(ctx context.Context, result *Result, source, target *model.Project) (*Result, error) {
	if err := source.Normalize(); err != nil {
		return r.finish(ctx, result, fmt.Errorf("source project: %w", err))
	}
	if err := target.Normalize(); err != nil {
		return r.finish(ctx, result, fmt.Errorf("remote project: %w", err))
	}

	// The project is a singleton; its name never identifies it.
	source.Name = target.Name

	if source.Hash() != target.Hash() {
		out, err := r.applier.Update(ctx, []Pair[model.Entity]{{Source: source, Target: target}})
		if err != nil {
			return r.finish(ctx, result, fmt.Errorf("update project: %w", err))
		}
		var c Counts
		r.record(model.KindProject, ActionUpdate, out, &c)
		result.ByKind.add(model.KindProject, c)
	}

	// Partial counts are kept on abort: applied operations are not rolled back.
	tally, err := r.children(ctx, Pair[model.Entity]{Source: source, Target: target})
	result.ByKind.merge(tally)

	return r.finish(ctx, result, err)
}

func (r *Reconciler) finish(ctx context.Context, result *Result, err error) (*Result, error) {
	result.Duration = time.Since(result.StartedAt)
	result.Aggregate()
	if r.planner != nil {
		result.Plan = r.planner.Ops()
	}

	// Log summary
	logging.FromContext(ctx, log).Info("sync completed",
		"duration", result.Duration,
		"inserted", result.Inserts,
		"updated", result.Updates,
		"deleted", result.Deletes,
		"failed", result.Failures,
		"error", err,
	)

	return result, err
}
