package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xtxerr/kepsync/internal/loader"
	"github.com/xtxerr/kepsync/internal/model"
	"github.com/xtxerr/kepsync/internal/sync"
)

func TestPrintPlan(t *testing.T) {
	var buf bytes.Buffer
	printPlan(&buf, nil)
	if got := buf.String(); got != "No changes.\n" {
		t.Errorf("printPlan(nil) = %q", got)
	}

	buf.Reset()
	printPlan(&buf, []sync.PlannedOp{
		{Action: sync.ActionDelete, Kind: model.KindChannel, Path: "/config/v1/project/channels/Old", Name: "Old"},
		{Action: sync.ActionUpdate, Kind: model.KindDevice, Path: "/config/v1/project/channels/Line1/devices/PLC", Name: "PLC", Keys: []string{"a", "b"}},
	})
	out := buf.String()
	for _, want := range []string{"ACTION", "delete", "/config/v1/project/channels/Old", "a,b", "2 operation(s) planned."} {
		if !strings.Contains(out, want) {
			t.Errorf("printPlan output does not contain %q:\n%s", want, out)
		}
	}
}

func TestCountEntities(t *testing.T) {
	p := model.NewProject()
	c := model.NewChannel("Line1")
	p.AddChannel(c)
	p.AddChannel(model.NewChannel("Line2"))
	d := model.NewDevice("PLC")
	c.AddDevice(d)
	d.AddTag(model.NewTag("T1"))
	g := model.NewTagGroup("G")
	d.AddTagGroup(g)
	g.AddTag(model.NewTag("T2"))
	inner := model.NewTagGroup("Inner")
	g.AddTagGroup(inner)
	inner.AddTag(model.NewTag("T3"))

	want := map[model.Kind]int{
		model.KindChannel:  2,
		model.KindDevice:   1,
		model.KindTagGroup: 2,
		model.KindTag:      3,
	}
	counts := countEntities(p)
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}

	var buf bytes.Buffer
	printInventory(&buf, counts)
	out := buf.String()
	if strings.Contains(out, "project") {
		t.Errorf("inventory should not list the project:\n%s", out)
	}
	for _, want := range []string{"KIND", "channel", "tag_group"} {
		if !strings.Contains(out, want) {
			t.Errorf("printInventory output does not contain %q:\n%s", want, out)
		}
	}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, &sync.Result{
		RunID:  "run-1",
		Counts: sync.Counts{Inserts: 2, Failures: 1},
		ByKind: sync.Tally{
			model.KindTag: {Inserts: 2, Failures: 1},
		},
	})
	out := buf.String()
	for _, want := range []string{"tag", "total", "run-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("printResult output does not contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "channel") {
		t.Error("kinds without operations should not be listed")
	}
}

func TestIsYes(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"yes", true},
		{" Y ", true},
		{"YES", true},
		{"no", false},
		{"", false},
		{"yess", false},
	}
	for _, tt := range tests {
		if got := isYes(tt.in); got != tt.want {
			t.Errorf("isYes(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSyncOptions_Apply(t *testing.T) {
	c := loader.DefaultConfig()
	c.Source.Path = "project.yaml"

	opts := syncOptions{Concurrency: 3, PageSize: 50}
	if err := opts.apply(c); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if c.Sync.MaxConcurrency != 3 || c.Sync.PageSize != 50 {
		t.Errorf("Sync = %+v, want concurrency 3 and page size 50", c.Sync)
	}

	c.Source.Path = ""
	if err := (&syncOptions{}).apply(c); err == nil {
		t.Error("apply should fail without a source path")
	}
}
