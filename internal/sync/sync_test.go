package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/xtxerr/kepsync/internal/constants"
	"github.com/xtxerr/kepsync/internal/errors"
	"github.com/xtxerr/kepsync/internal/model"
)

// =============================================================================
// Fakes
// =============================================================================

type call struct {
	Action Action
	Kind   model.Kind
	Names  []string
}

type fakeApplier struct {
	mu    gosync.Mutex
	calls []call
	fail  map[string]bool // names that fail
	noop  bool            // updates report Noop
	err   error           // structural error for every call
}

func (f *fakeApplier) record(action Action, kind model.Kind, items []model.Entity) []Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(items))
	out := make([]Outcome, len(items))
	for i, e := range items {
		names[i] = e.Meta().Name
		out[i] = Outcome{Name: names[i], OK: !f.fail[names[i]], Noop: action == ActionUpdate && f.noop}
	}
	f.calls = append(f.calls, call{Action: action, Kind: kind, Names: names})
	return out
}

func (f *fakeApplier) Insert(_ context.Context, _ []model.Ref, kind model.Kind, items []model.Entity) ([]Outcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.record(ActionInsert, kind, items), nil
}

func (f *fakeApplier) Update(_ context.Context, pairs []Pair[model.Entity]) ([]Outcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	items := make([]model.Entity, len(pairs))
	for i, p := range pairs {
		items[i] = p.Target
	}
	return f.record(ActionUpdate, items[0].Kind(), items), nil
}

func (f *fakeApplier) Delete(_ context.Context, items []model.Entity) ([]Outcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.record(ActionDelete, items[0].Kind(), items), nil
}

func (f *fakeApplier) callsFor(kind model.Kind) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type fakeReader struct {
	mu       gosync.Mutex
	project  *model.Project
	children map[string][]model.Entity // "kind:parent" -> children
	err      error
	loads    int
}

func (f *fakeReader) LoadProject(context.Context) (*model.Project, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.project, nil
}

func (f *fakeReader) LoadChildren(_ context.Context, parent model.Entity, kind model.Kind) ([]model.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return f.children[string(kind)+":"+parent.Meta().Name], nil
}

type fakeDefaults map[string]model.Properties

func (f fakeDefaults) Defaults(_ context.Context, driver string, kind model.Kind) (model.Properties, error) {
	d, ok := f[driver+"/"+string(kind)]
	if !ok {
		return nil, fmt.Errorf("no defaults for %s", driver)
	}
	return d, nil
}

func channel(name string, props map[string]model.Value) *model.Channel {
	c := model.NewChannel(name)
	for k, v := range props {
		_ = c.SetProperty(k, v)
	}
	return c
}

func names[T model.Entity](items []T) []string {
	out := make([]string, len(items))
	for i, e := range items {
		out[i] = e.Meta().Name
	}
	return out
}

// =============================================================================
// Comparator Tests
// =============================================================================

func TestCompare_Buckets(t *testing.T) {
	source := []*model.Channel{
		channel("same", map[string]model.Value{"a": model.Int(1)}),
		channel("changed", map[string]model.Value{"a": model.Int(1)}),
		channel("new", nil),
	}
	target := []*model.Channel{
		channel("gone", nil),
		channel("changed", map[string]model.Value{"a": model.Int(2)}),
		channel("same", map[string]model.Value{"a": model.Int(1)}),
	}

	b := Compare(source, target)

	if diff := cmp.Diff([]string{"new"}, names(b.OnlyInSource)); diff != "" {
		t.Errorf("OnlyInSource mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"gone"}, names(b.OnlyInTarget)); diff != "" {
		t.Errorf("OnlyInTarget mismatch (-want +got):\n%s", diff)
	}
	if len(b.Changed) != 1 || b.Changed[0].Source.Name != "changed" {
		t.Errorf("Changed = %v, want [changed]", b.Changed)
	}
	if len(b.Unchanged) != 1 || b.Unchanged[0].Source.Name != "same" {
		t.Errorf("Unchanged = %v, want [same]", b.Unchanged)
	}
	if b.Changed[0].Target != target[1] {
		t.Error("Changed pair should carry the target instance")
	}
}

func TestCompare_EqualHashNeverChanged(t *testing.T) {
	for i := 0; i < 20; i++ {
		props := map[string]model.Value{
			"k.int":    model.Int(int64(i)),
			"k.string": model.String(fmt.Sprint("v", i)),
			"k.bool":   model.Bool(i%2 == 0),
			"k.float":  model.Float(float64(i) + 0.25),
		}
		s := channel("x", props)
		d := channel("x", props)
		b := Compare([]*model.Channel{s}, []*model.Channel{d})
		if len(b.Changed) != 0 || len(b.Unchanged) != 1 {
			t.Fatalf("iteration %d: equal content classified as changed", i)
		}
	}
}

func TestCompare_ChangedScenario(t *testing.T) {
	s := channel("X", map[string]model.Value{"a": model.Int(1)})
	d := channel("X", map[string]model.Value{"a": model.Int(2)})

	b := Compare([]*model.Channel{s}, []*model.Channel{d})
	if len(b.Changed) != 1 {
		t.Fatalf("len(Changed) = %d, want 1", len(b.Changed))
	}
	diff, err := model.UpdateDiff(b.Changed[0].Source, b.Changed[0].Target)
	if err != nil {
		t.Fatalf("UpdateDiff: %v", err)
	}
	if v, ok := diff["a"]; len(diff) != 1 || !ok || !v.Equal(model.Int(1)) {
		t.Errorf("diff = %v, want {a: 1}", diff)
	}
}

func TestCompare_CaseSensitive(t *testing.T) {
	b := Compare([]*model.Channel{channel("Alpha", nil)}, []*model.Channel{channel("alpha", nil)})
	if len(b.OnlyInSource) != 1 || len(b.OnlyInTarget) != 1 {
		t.Errorf("names differing by case should not match: %+v", b.Stats())
	}
}

func TestCompare_DuplicatesLastWins(t *testing.T) {
	first := channel("dup", map[string]model.Value{"a": model.Int(1)})
	last := channel("dup", map[string]model.Value{"a": model.Int(2)})
	other := channel("other", nil)

	b := Compare([]*model.Channel{first, other, last}, nil)
	if diff := cmp.Diff([]string{"dup", "other"}, names(b.OnlyInSource)); diff != "" {
		t.Errorf("OnlyInSource mismatch (-want +got):\n%s", diff)
	}
	if b.OnlyInSource[0] != last {
		t.Error("the last duplicate should win")
	}
}

func TestCompare_NilCollections(t *testing.T) {
	b := Compare[*model.Channel](nil, nil)
	if s := b.Stats(); s != (Stats{}) {
		t.Errorf("Stats() = %+v, want zero", s)
	}
}

// =============================================================================
// Reconciler Tests
// =============================================================================

func newTrees() (*model.Project, *model.Project) {
	src := model.NewProject()
	src.Channels = []*model.Channel{}
	dst := model.NewProject()
	dst.Channels = []*model.Channel{}
	return src, dst
}

func TestReconcile_ChannelScenario(t *testing.T) {
	src, dst := newTrees()
	src.AddChannel(channel("new1", nil))
	src.AddChannel(channel("new2", nil))
	dst.AddChannel(channel("stale", nil))

	app := &fakeApplier{}
	r := New(Config{Reader: &fakeReader{}, Applier: app})

	res, err := r.ReconcileTrees(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("ReconcileTrees: %v", err)
	}
	if res.Inserts != 2 || res.Updates != 0 || res.Deletes != 1 {
		t.Errorf("counts = (%d, %d, %d), want (2, 0, 1)", res.Inserts, res.Updates, res.Deletes)
	}
	if res.RunID == "" {
		t.Error("RunID should be set")
	}
}

func TestReconcile_OperationOrder(t *testing.T) {
	src, dst := newTrees()
	src.AddChannel(channel("changed", map[string]model.Value{"a": model.Int(1)}))
	src.AddChannel(channel("new", nil))
	dst.AddChannel(channel("changed", map[string]model.Value{"a": model.Int(2)}))
	dst.AddChannel(channel("gone", nil))

	app := &fakeApplier{}
	r := New(Config{Reader: &fakeReader{}, Applier: app})
	if _, err := r.ReconcileTrees(context.Background(), src, dst); err != nil {
		t.Fatalf("ReconcileTrees: %v", err)
	}

	var got []Action
	for _, c := range app.callsFor(model.KindChannel) {
		got = append(got, c.Action)
	}
	want := []Action{ActionDelete, ActionUpdate, ActionInsert}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("operation order mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcile_RecursesIntoUnchanged(t *testing.T) {
	src, dst := newTrees()

	sc := channel("ch", nil)
	src.AddChannel(sc)
	sd := model.NewDevice("dev")
	_ = sd.SetProperty("d.X", model.Int(1))
	sc.AddDevice(sd)
	sg := model.NewTagGroup("G")
	sd.AddTagGroup(sg)
	sg.AddTag(model.NewTag("T1"))
	sd.Tags = []*model.Tag{}

	dc := channel("ch", nil)
	dst.AddChannel(dc)
	dd := model.NewDevice("dev")
	_ = dd.SetProperty("d.X", model.Int(1))

	reader := &fakeReader{children: map[string][]model.Entity{
		"device:ch":     {dd},
		"tag:dev":       {model.NewTag("old")},
		"tag_group:dev": {model.NewTagGroup("G")},
		"tag:G":         nil,
	}}
	app := &fakeApplier{}
	r := New(Config{Reader: reader, Applier: app})

	res, err := r.ReconcileTrees(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("ReconcileTrees: %v", err)
	}
	if res.Inserts != 1 || res.Deletes != 1 || res.Updates != 0 {
		t.Errorf("counts = (%d, %d, %d), want (1, 0, 1)", res.Inserts, res.Updates, res.Deletes)
	}
	if got := res.ByKind[model.KindTag]; got.Inserts != 1 || got.Deletes != 1 {
		t.Errorf("tag counts = %+v, want 1 insert and 1 delete", got)
	}
	if dd.Tags == nil {
		t.Error("loaded remote children should be attached to the target")
	}
}

func TestReconcile_NilSourceChildrenSkipped(t *testing.T) {
	src, dst := newTrees()
	src.AddChannel(channel("ch", nil)) // Devices nil: not part of the source
	dst.AddChannel(channel("ch", nil))

	reader := &fakeReader{}
	r := New(Config{Reader: reader, Applier: &fakeApplier{}})
	res, err := r.ReconcileTrees(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("ReconcileTrees: %v", err)
	}
	if reader.loads != 0 {
		t.Errorf("loads = %d, want 0", reader.loads)
	}
	if res.HasChanges() {
		t.Errorf("unexpected changes: %+v", res.Counts)
	}
}

func TestReconcile_FailuresNotCounted(t *testing.T) {
	src, dst := newTrees()
	src.AddChannel(channel("ok", nil))
	src.AddChannel(channel("bad", nil))

	app := &fakeApplier{fail: map[string]bool{"bad": true}}
	r := New(Config{Reader: &fakeReader{}, Applier: app})
	res, err := r.ReconcileTrees(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("ReconcileTrees: %v", err)
	}
	if res.Inserts != 1 || res.Failures != 1 {
		t.Errorf("Inserts = %d, Failures = %d, want 1, 1", res.Inserts, res.Failures)
	}
}

func TestReconcile_NoopUpdateNotCounted(t *testing.T) {
	src, dst := newTrees()
	src.AddChannel(channel("ch", nil))
	dst.AddChannel(channel("ch", map[string]model.Value{"remote.only": model.Int(1)}))

	app := &fakeApplier{noop: true}
	r := New(Config{Reader: &fakeReader{}, Applier: app})
	res, err := r.ReconcileTrees(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("ReconcileTrees: %v", err)
	}
	if res.Updates != 0 || res.Failures != 0 {
		t.Errorf("Updates = %d, Failures = %d, want 0, 0", res.Updates, res.Failures)
	}
}

func TestReconcile_StructuralErrorIsFatal(t *testing.T) {
	src, dst := newTrees()
	src.AddChannel(channel("ch", nil))

	app := &fakeApplier{err: errors.Wrap(errors.ErrUnresolvedPlaceholder, "broken")}
	r := New(Config{Reader: &fakeReader{}, Applier: app})
	if _, err := r.ReconcileTrees(context.Background(), src, dst); !errors.Is(err, errors.ErrUnresolvedPlaceholder) {
		t.Errorf("ReconcileTrees error = %v, want ErrUnresolvedPlaceholder", err)
	}
}

func TestReconcile_UnnormalizableSourceIsFatal(t *testing.T) {
	src, err := model.FromMap(model.KindProject, map[string]model.Value{
		constants.ProjectClientInterfaces: model.String("nope"),
	}, nil)
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	_, dst := newTrees()

	app := &fakeApplier{}
	r := New(Config{Reader: &fakeReader{}, Applier: app})
	_, err = r.ReconcileTrees(context.Background(), src.(*model.Project), dst)
	if !errors.Is(err, errors.ErrUnsupportedStructure) {
		t.Errorf("ReconcileTrees error = %v, want ErrUnsupportedStructure", err)
	}
	if len(app.calls) != 0 {
		t.Errorf("applier called %d times, want 0", len(app.calls))
	}
}

func TestReconcile_LoadFailureSkipsBranch(t *testing.T) {
	src, dst := newTrees()
	for _, n := range []string{"a", "b"} {
		c := channel(n, nil)
		c.AddDevice(model.NewDevice("d"))
		src.AddChannel(c)
		dst.AddChannel(channel(n, nil))
	}

	reader := &fakeReader{err: errors.Wrap(errors.ErrConnectionFailed, "refused")}
	r := New(Config{Reader: reader, Applier: &fakeApplier{}})
	res, err := r.ReconcileTrees(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("ReconcileTrees: %v", err)
	}
	if res.Failures != 2 {
		t.Errorf("Failures = %d, want 2 (one per branch)", res.Failures)
	}
}

func TestReconcile_LoadsRemoteProject(t *testing.T) {
	src := model.NewProject()
	src.Channels = []*model.Channel{}
	src.AddChannel(channel("new", nil))

	remote := model.NewProject()
	reader := &fakeReader{project: remote, children: map[string][]model.Entity{
		"channel:": {channel("old", nil)},
	}}
	r := New(Config{Reader: reader, Applier: &fakeApplier{}})
	res, err := r.Reconcile(context.Background(), src)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Inserts != 1 || res.Deletes != 1 {
		t.Errorf("counts = %+v, want 1 insert and 1 delete", res.Counts)
	}
}

func TestReconcile_ProjectUnavailable(t *testing.T) {
	reader := &fakeReader{err: errors.Wrap(errors.ErrConnectionFailed, "refused")}
	r := New(Config{Reader: reader, Applier: &fakeApplier{}})
	res, err := r.Reconcile(context.Background(), model.NewProject())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Failures != 1 {
		t.Errorf("Failures = %d, want 1", res.Failures)
	}
}

func TestReconcile_ProjectPropertiesUpdated(t *testing.T) {
	src, dst := newTrees()
	_ = src.SetProperty("servermain.PROJECT_TITLE", model.String("new"))
	_ = dst.SetProperty("servermain.PROJECT_TITLE", model.String("old"))

	app := &fakeApplier{}
	r := New(Config{Reader: &fakeReader{}, Applier: app})
	res, err := r.ReconcileTrees(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("ReconcileTrees: %v", err)
	}
	if got := res.ByKind[model.KindProject].Updates; got != 1 {
		t.Errorf("project updates = %d, want 1", got)
	}
}

func TestReconcile_StripsDriverDefaults(t *testing.T) {
	src, dst := newTrees()
	src.AddChannel(channel("ch", map[string]model.Value{
		constants.PropertyDeviceDriver: model.String("Simulator"),
	}))
	dst.AddChannel(channel("ch", map[string]model.Value{
		constants.PropertyDeviceDriver:  model.String("Simulator"),
		"servermain.CHANNEL_DIAGNOSTICS": model.Bool(false),
	}))

	app := &fakeApplier{}
	defaults := fakeDefaults{"Simulator/channel": {"servermain.CHANNEL_DIAGNOSTICS": model.Bool(false)}}
	r := New(Config{Reader: &fakeReader{}, Applier: app, Defaults: defaults})
	res, err := r.ReconcileTrees(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("ReconcileTrees: %v", err)
	}
	if res.HasChanges() || len(app.callsFor(model.KindChannel)) != 0 {
		t.Errorf("defaults should not register as a change: %+v", res.Counts)
	}
}

func TestReconcile_DryRun(t *testing.T) {
	src, dst := newTrees()
	src.AddChannel(channel("new", nil))
	src.AddChannel(channel("changed", map[string]model.Value{"a": model.Int(1)}))
	dst.AddChannel(channel("changed", map[string]model.Value{"a": model.Int(2)}))
	dst.AddChannel(channel("gone", nil))

	r := New(Config{Reader: &fakeReader{}, DryRun: true})
	res, err := r.ReconcileTrees(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("ReconcileTrees: %v", err)
	}
	if !res.DryRun {
		t.Error("DryRun should be set on the result")
	}

	var got []string
	for _, op := range res.Plan {
		got = append(got, fmt.Sprintf("%s %s", op.Action, op.Name))
	}
	want := []string{"delete gone", "update changed", "insert new"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a"}, res.Plan[1].Keys); diff != "" {
		t.Errorf("update keys mismatch (-want +got):\n%s", diff)
	}
}

// cancelingApplier cancels the pass when it is asked to insert entities of
// one kind.
type cancelingApplier struct {
	fakeApplier
	on     model.Kind
	cancel context.CancelFunc
}

func (a *cancelingApplier) Insert(ctx context.Context, owners []model.Ref, kind model.Kind, items []model.Entity) ([]Outcome, error) {
	if kind == a.on {
		a.cancel()
		return nil, context.Canceled
	}
	return a.fakeApplier.Insert(ctx, owners, kind, items)
}

func TestReconcile_AbortKeepsAppliedCounts(t *testing.T) {
	src, dst := newTrees()
	src.AddChannel(channel("new", nil))
	sa := channel("A", nil)
	sa.AddDevice(model.NewDevice("d"))
	src.AddChannel(sa)
	dst.AddChannel(channel("A", nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := &cancelingApplier{on: model.KindDevice, cancel: cancel}
	r := New(Config{Reader: &fakeReader{}, Applier: app})
	res, err := r.ReconcileTrees(ctx, src, dst)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ReconcileTrees error = %v, want context.Canceled", err)
	}
	if res == nil {
		t.Fatal("ReconcileTrees should return a result on abort")
	}
	if res.Inserts != 1 {
		t.Errorf("Inserts = %d, want 1", res.Inserts)
	}
	if got := res.ByKind[model.KindChannel].Inserts; got != 1 {
		t.Errorf("channel inserts = %d, want 1", got)
	}
	if got := res.ByKind[model.KindDevice].Inserts; got != 0 {
		t.Errorf("device inserts = %d, want 0", got)
	}
}

func TestReconcile_StructuralAbortKeepsAppliedCounts(t *testing.T) {
	src, dst := newTrees()
	src.AddChannel(channel("new", nil))
	dst.AddChannel(channel("gone", nil))

	app := &structuralInsertApplier{}
	r := New(Config{Reader: &fakeReader{}, Applier: app})
	res, err := r.ReconcileTrees(context.Background(), src, dst)
	if !errors.Is(err, errors.ErrUnresolvedPlaceholder) {
		t.Fatalf("ReconcileTrees error = %v, want ErrUnresolvedPlaceholder", err)
	}
	if res.Deletes != 1 || res.Inserts != 0 {
		t.Errorf("counts = %+v, want 1 delete and no insert", res.Counts)
	}
}

// structuralInsertApplier deletes normally and fails every insert with a
// structural error.
type structuralInsertApplier struct {
	fakeApplier
}

func (a *structuralInsertApplier) Insert(context.Context, []model.Ref, model.Kind, []model.Entity) ([]Outcome, error) {
	return nil, errors.Wrap(errors.ErrUnresolvedPlaceholder, "broken")
}

// countingReader tracks how many LoadChildren calls run at once.
type countingReader struct {
	fakeReader
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (c *countingReader) LoadChildren(ctx context.Context, parent model.Entity, kind model.Kind) ([]model.Entity, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	c.calls.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, nil
}

func TestReconcile_BoundedSiblingConcurrency(t *testing.T) {
	const (
		branches = 12
		limit    = 3
	)

	src, dst := newTrees()
	for i := 0; i < branches; i++ {
		name := fmt.Sprintf("ch%02d", i)
		sc := channel(name, nil)
		sc.Devices = []*model.Device{}
		src.AddChannel(sc)
		dst.AddChannel(channel(name, nil))
	}

	reader := &countingReader{delay: 10 * time.Millisecond}
	r := New(Config{Reader: reader, Applier: &fakeApplier{}, MaxConcurrency: limit})
	if _, err := r.ReconcileTrees(context.Background(), src, dst); err != nil {
		t.Fatalf("ReconcileTrees: %v", err)
	}

	if got := reader.calls.Load(); got != branches {
		t.Errorf("LoadChildren calls = %d, want %d", got, branches)
	}
	if got := reader.peak.Load(); got > limit {
		t.Errorf("peak concurrency = %d, want <= %d", got, limit)
	}
	if got := reader.peak.Load(); got < 2 {
		t.Errorf("peak concurrency = %d, want sibling branches to overlap", got)
	}
	for _, c := range dst.Channels {
		if c.Devices == nil {
			t.Errorf("channel %s: devices not loaded", c.Name)
		}
	}
}

// =============================================================================
// Tally Tests
// =============================================================================

func TestTally_Total(t *testing.T) {
	tally := Tally{}
	tally.add(model.KindChannel, Counts{Inserts: 2})
	tally.merge(Tally{model.KindChannel: {Deletes: 1}, model.KindTag: {Updates: 3, Failures: 1}})

	want := Counts{Inserts: 2, Updates: 3, Deletes: 1, Failures: 1}
	if got := tally.Total(); got != want {
		t.Errorf("Total() = %+v, want %+v", got, want)
	}
}
