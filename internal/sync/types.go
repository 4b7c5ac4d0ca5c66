// Package sync reconciles a source-of-truth project tree against the
// live configuration of a server.
//
// Each tree level is processed the same way:
//
//  1. Compare the source and remote sibling collections by name
//  2. Delete remote entities missing from the source
//  3. Update entities whose content hash differs
//  4. Insert source entities missing on the server
//  5. Recurse into the children of every entity present on both sides
//
// Deletes run before inserts so that a replaced entity never collides with
// its successor. The remote side is always overwritten; there is no
// three-way merge.
package sync

import (
	"context"
	"time"

	"github.com/xtxerr/kepsync/internal/model"
)

// =============================================================================
// Actions
// =============================================================================

// Action represents the operation to perform on an entity.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// =============================================================================
// Outcomes
// =============================================================================

// Outcome reports what happened to a single entity.
type Outcome struct {
	Name string
	OK   bool

	// Noop is set on successful updates that found nothing to send.
	Noop bool

	Err error
}

// Pair holds the two sides of an entity present in both trees.
type Pair[T model.Entity] struct {
	Source T
	Target T
}

// =============================================================================
// Collaborators
// =============================================================================

// Reader loads remote state.
type Reader interface {
	// LoadProject loads the project properties and its channel list.
	LoadProject(ctx context.Context) (*model.Project, error)

	// LoadChildren loads the child collection of kind under parent.
	LoadChildren(ctx context.Context, parent model.Entity, kind model.Kind) ([]model.Entity, error)
}

// Applier writes to the server. Outcomes are aligned with the input.
// Only structural errors are returned; everything else is reported per
// item.
type Applier interface {
	Insert(ctx context.Context, owners []model.Ref, kind model.Kind, items []model.Entity) ([]Outcome, error)
	Update(ctx context.Context, pairs []Pair[model.Entity]) ([]Outcome, error)
	Delete(ctx context.Context, items []model.Entity) ([]Outcome, error)
}

// DefaultsProvider returns the property defaults a driver applies to
// channels or devices.
type DefaultsProvider interface {
	Defaults(ctx context.Context, driver string, kind model.Kind) (model.Properties, error)
}

// Observer is notified of every applied operation. It must be safe for
// concurrent use.
type Observer interface {
	Observe(kind model.Kind, action Action, ok bool)
}

// =============================================================================
// Results
// =============================================================================

// Counts holds successful operations and failures.
type Counts struct {
	Inserts  int
	Updates  int
	Deletes  int
	Failures int
}

// Add accumulates o into c.
func (c *Counts) Add(o Counts) {
	c.Inserts += o.Inserts
	c.Updates += o.Updates
	c.Deletes += o.Deletes
	c.Failures += o.Failures
}

// HasChanges returns true if anything was written.
func (c Counts) HasChanges() bool {
	return c.Inserts > 0 || c.Updates > 0 || c.Deletes > 0
}

// Tally breaks counts down by entity kind.
type Tally map[model.Kind]Counts

func (t Tally) add(kind model.Kind, c Counts) {
	cur := t[kind]
	cur.Add(c)
	t[kind] = cur
}

func (t Tally) merge(o Tally) {
	for k, c := range o {
		t.add(k, c)
	}
}

// Total sums all kinds.
func (t Tally) Total() Counts {
	var c Counts
	for _, kc := range t {
		c.Add(kc)
	}
	return c
}

// Result holds the result of a complete reconciliation pass.
type Result struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	DryRun    bool

	// Aggregated counts. Only successful operations are counted as
	// inserts, updates and deletes.
	Counts

	// Counts by entity kind
	ByKind Tally

	// Planned operations (dry run only)
	Plan []PlannedOp
}

// Aggregate recalculates totals from the per-kind breakdown.
func (r *Result) Aggregate() {
	r.Counts = r.ByKind.Total()
}
