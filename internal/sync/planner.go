package sync

import (
	"context"
	"sort"
	gosync "sync"

	"github.com/xtxerr/kepsync/internal/endpoint"
	"github.com/xtxerr/kepsync/internal/model"
)

// =============================================================================
// Dry Run
// =============================================================================

// PlannedOp is an operation a dry run would have performed.
type PlannedOp struct {
	Action Action
	Kind   model.Kind
	Path   string
	Name   string

	// Keys lists the properties an update would send.
	Keys []string
}

// Planner is an Applier that records operations without writing. Updates
// are diffed against the already loaded remote entity.
//
// Planner is safe for concurrent use.
type Planner struct {
	mu  gosync.Mutex
	ops []PlannedOp
}

// NewPlanner creates an empty planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Insert implements Applier.
func (p *Planner) Insert(_ context.Context, owners []model.Ref, kind model.Kind, items []model.Entity) ([]Outcome, error) {
	collection, err := endpoint.CollectionPath(kind, owners)
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, len(items))
	for i, e := range items {
		name := e.Meta().Name
		p.add(PlannedOp{Action: ActionInsert, Kind: kind, Path: collection, Name: name})
		out[i] = Outcome{Name: name, OK: true}
	}
	return out, nil
}

// Update implements Applier.
func (p *Planner) Update(_ context.Context, pairs []Pair[model.Entity]) ([]Outcome, error) {
	out := make([]Outcome, len(pairs))
	for i, pair := range pairs {
		path, err := endpoint.Of(pair.Target)
		if err != nil {
			return nil, err
		}
		diff, err := model.UpdateDiff(pair.Source, pair.Target)
		if err != nil {
			return nil, err
		}
		name := pair.Target.Meta().Name
		out[i] = Outcome{Name: name, OK: true, Noop: len(diff) == 0}
		if len(diff) > 0 {
			p.add(PlannedOp{
				Action: ActionUpdate,
				Kind:   pair.Target.Kind(),
				Path:   path,
				Name:   name,
				Keys:   diff.Keys(),
			})
		}
	}
	return out, nil
}

// Delete implements Applier.
func (p *Planner) Delete(_ context.Context, items []model.Entity) ([]Outcome, error) {
	out := make([]Outcome, len(items))
	for i, e := range items {
		path, err := endpoint.Of(e)
		if err != nil {
			return nil, err
		}
		name := e.Meta().Name
		p.add(PlannedOp{Action: ActionDelete, Kind: e.Kind(), Path: path, Name: name})
		out[i] = Outcome{Name: name, OK: true}
	}
	return out, nil
}

func (p *Planner) add(op PlannedOp) {
	p.mu.Lock()
	p.ops = append(p.ops, op)
	p.mu.Unlock()
}

// Ops returns the recorded operations grouped by path. Operations on the
// same collection keep their execution order.
func (p *Planner) Ops() []PlannedOp {
	p.mu.Lock()
	ops := make([]PlannedOp, len(p.ops))
	copy(ops, p.ops)
	p.mu.Unlock()

	sort.SliceStable(ops, func(i, j int) bool {
		return collectionOf(ops[i]) < collectionOf(ops[j])
	})
	return ops
}

// Reset discards recorded operations.
func (p *Planner) Reset() {
	p.mu.Lock()
	p.ops = nil
	p.mu.Unlock()
}

func collectionOf(op PlannedOp) string {
	if op.Action == ActionInsert {
		return op.Path
	}
	// Item paths end in "/<escaped name>".
	for i := len(op.Path) - 1; i >= 0; i-- {
		if op.Path[i] == '/' {
			return op.Path[:i]
		}
	}
	return op.Path
}
