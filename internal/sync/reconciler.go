package sync

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/kepsync/config"
	"github.com/xtxerr/kepsync/internal/constants"
	"github.com/xtxerr/kepsync/internal/errors"
	"github.com/xtxerr/kepsync/internal/logging"
	"github.com/xtxerr/kepsync/internal/model"
)

var log = logging.Component("sync")

// =============================================================================
// Reconciler
// =============================================================================

// Reconciler walks a source tree and a remote tree level by level and
// applies the operations that make the remote match the source.
//
// Sibling subtrees are reconciled concurrently. Each branch only touches
// entities reachable from its own root, and per-branch counts are summed
// after the branches join.
type Reconciler struct {
	reader         Reader
	applier        Applier
	planner        *Planner
	defaults       DefaultsProvider
	observer       Observer
	maxConcurrency int
}

// Config holds reconciler configuration.
type Config struct {
	// Reader loads remote collections that are not already loaded.
	Reader Reader

	// Applier writes changes. Ignored when DryRun is set.
	Applier Applier

	// Defaults, if set, strips driver defaults from matched remote
	// channels and devices before comparison.
	Defaults DefaultsProvider

	// Observer, if set, is notified of every operation.
	Observer Observer

	// DryRun records planned operations instead of writing.
	DryRun bool

	// MaxConcurrency bounds concurrent sibling branches per level
	// (default: config.DefaultMaxConcurrency).
	MaxConcurrency int
}

// New creates a reconciler.
func New(cfg Config) *Reconciler {
	maxConc := cfg.MaxConcurrency
	if maxConc <= 0 {
		maxConc = config.DefaultMaxConcurrency
	}

	r := &Reconciler{
		reader:         cfg.Reader,
		applier:        cfg.Applier,
		defaults:       cfg.Defaults,
		observer:       cfg.Observer,
		maxConcurrency: maxConc,
	}
	if cfg.DryRun {
		r.planner = NewPlanner()
		r.applier = r.planner
	}
	return r
}

// level reconciles one sibling collection under parent and recurses into
// matched pairs. On error the returned tally still holds every operation
// applied before the abort.
func (r *Reconciler) level(
	ctx context.Context,
	parent model.Entity,
	kind model.Kind,
	source, target []model.Entity,
) (Tally, error) {
	tally := Tally{}
	if err := ctx.Err(); err != nil {
		return tally, err
	}

	owners := model.ChildOwners(parent)
	if err := r.stripDefaults(ctx, kind, source, target); err != nil {
		return tally, err
	}

	b := Compare(source, target)
	stats := b.Stats()
	logging.FromContext(ctx, log).Debug("level compared",
		"kind", kind,
		"owners", ownerString(owners),
		"source_count", len(source),
		"target_count", len(target),
		"inserts", stats.Inserts,
		"updates", stats.Updates,
		"deletes", stats.Deletes,
		"unchanged", stats.Unchanged,
	)

	// Tally is a map, so the deferred add reaches the returned value.
	var c Counts
	defer func() { tally.add(kind, c) }()

	if len(b.OnlyInTarget) > 0 {
		out, err := r.applier.Delete(ctx, b.OnlyInTarget)
		r.record(kind, ActionDelete, out, &c)
		if err != nil {
			return tally, fmt.Errorf("delete %s: %w", kind, err)
		}
	}

	if len(b.Changed) > 0 {
		out, err := r.applier.Update(ctx, b.Changed)
		r.record(kind, ActionUpdate, out, &c)
		if err != nil {
			return tally, fmt.Errorf("update %s: %w", kind, err)
		}
	}

	if len(b.OnlyInSource) > 0 {
		out, err := r.applier.Insert(ctx, owners, kind, b.OnlyInSource)
		r.record(kind, ActionInsert, out, &c)
		if err != nil {
			return tally, fmt.Errorf("insert %s: %w", kind, err)
		}
	}

	matched := b.Matched()
	if len(matched) == 0 || len(childKinds(kind)) == 0 {
		return tally, nil
	}

	branches := make([]Tally, len(matched))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrency)
	for i, p := range matched {
		g.Go(func() error {
			t, err := r.children(gctx, p)
			branches[i] = t
			return err
		})
	}
	err := g.Wait()

	for _, t := range branches {
		tally.merge(t)
	}
	return tally, err
}

// children reconciles every child collection of a matched pair. Child
// kinds of the same parent run one after another.
func (r *Reconciler) children(ctx context.Context, p Pair[model.Entity]) (Tally, error) {
	tally := Tally{}
	for _, kind := range childKinds(p.Source.Kind()) {
		source := childrenOf(p.Source, kind)
		if source == nil {
			// Not loaded on the source side: leave the remote as is.
			continue
		}
		t, err := r.childLevel(ctx, p.Target, kind, source, childrenOf(p.Target, kind))
		tally.merge(t)
		if err != nil {
			return tally, err
		}
	}
	return tally, nil
}

// childLevel loads the remote collection if needed and reconciles it.
func (r *Reconciler) childLevel(
	ctx context.Context,
	parent model.Entity,
	kind model.Kind,
	source, target []model.Entity,
) (Tally, error) {
	if target == nil {
		loaded, err := r.reader.LoadChildren(ctx, parent, kind)
		if err != nil {
			if errors.IsStructural(err) || ctx.Err() != nil {
				return nil, err
			}
			logging.FromContext(ctx, log).Warn("remote collection unavailable, skipping subtree",
				"kind", kind,
				"parent", parent.Meta().Name,
				"error", err,
			)
			return Tally{kind: {Failures: 1}}, nil
		}
		if loaded == nil {
			loaded = []model.Entity{}
		}
		if err := model.SetChildren(parent, kind, loaded); err != nil {
			return nil, err
		}
		target = loaded
	}
	return r.level(ctx, parent, kind, source, target)
}

// record counts outcomes and notifies the observer.
func (r *Reconciler) record(kind model.Kind, action Action, out []Outcome, c *Counts) {
	for _, o := range out {
		if !o.OK {
			c.Failures++
			if r.observer != nil {
				r.observer.Observe(kind, action, false)
			}
			continue
		}
		if o.Noop {
			continue
		}
		switch action {
		case ActionInsert:
			c.Inserts++
		case ActionUpdate:
			c.Updates++
		case ActionDelete:
			c.Deletes++
		}
		if r.observer != nil {
			r.observer.Observe(kind, action, true)
		}
	}
}

// stripDefaults removes driver defaults the source leaves implicit from
// matched remote channels and devices, so they do not register as changes.
func (r *Reconciler) stripDefaults(ctx context.Context, kind model.Kind, source, target []model.Entity) error {
	if r.defaults == nil || (kind != model.KindChannel && kind != model.KindDevice) {
		return nil
	}

	_, srcByName := index(source)
	for _, t := range target {
		s, ok := srcByName[t.Meta().Name]
		if !ok {
			continue
		}
		driver, err := model.GetProperty[string](s, constants.PropertyDeviceDriver)
		if err != nil {
			if driver, err = model.GetProperty[string](t, constants.PropertyDeviceDriver); err != nil {
				continue
			}
		}
		defaults, err := r.defaults.Defaults(ctx, driver, kind)
		if err != nil {
			logging.FromContext(ctx, log).Debug("driver defaults unavailable",
				"driver", driver, "kind", kind, "error", err)
			continue
		}
		if _, err := model.StripDefaults(t, s, defaults); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Tree helpers
// =============================================================================

func childKinds(kind model.Kind) []model.Kind {
	switch kind {
	case model.KindProject:
		return []model.Kind{model.KindChannel}
	case model.KindChannel:
		return []model.Kind{model.KindDevice}
	case model.KindDevice, model.KindTagGroup:
		return []model.Kind{model.KindTag, model.KindTagGroup}
	}
	return nil
}

// childrenOf returns the child collection of kind, nil if not loaded.
func childrenOf(e model.Entity, kind model.Kind) []model.Entity {
	switch p := e.(type) {
	case *model.Project:
		if kind == model.KindChannel {
			return model.Entities(p.Channels)
		}
	case *model.Channel:
		if kind == model.KindDevice {
			return model.Entities(p.Devices)
		}
	case *model.Device:
		switch kind {
		case model.KindTag:
			return model.Entities(p.Tags)
		case model.KindTagGroup:
			return model.Entities(p.TagGroups)
		}
	case *model.TagGroup:
		switch kind {
		case model.KindTag:
			return model.Entities(p.Tags)
		case model.KindTagGroup:
			return model.Entities(p.TagGroups)
		}
	}
	return nil
}

func ownerString(owners []model.Ref) string {
	s := ""
	for i, o := range owners {
		if i > 0 {
			s += "/"
		}
		s += o.Name
	}
	return s
}
