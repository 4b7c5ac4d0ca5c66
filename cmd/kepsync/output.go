package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/xtxerr/kepsync/internal/client"
	"github.com/xtxerr/kepsync/internal/model"
	"github.com/xtxerr/kepsync/internal/sync"
)

func printPlan(w io.Writer, plan []sync.PlannedOp) {
	if len(plan) == 0 {
		fmt.Fprintln(w, "No changes.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tKIND\tPATH\tPROPERTIES")
	for _, op := range plan {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", op.Action, op.Kind, op.Path, strings.Join(op.Keys, ","))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d operation(s) planned.\n", len(plan))
}

func printResult(w io.Writer, res *sync.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tINSERTED\tUPDATED\tDELETED\tFAILED")
	for _, kind := range model.Kinds {
		c, ok := res.ByKind[kind]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", kind, c.Inserts, c.Updates, c.Deletes, c.Failures)
	}
	fmt.Fprintf(tw, "total\t%d\t%d\t%d\t%d\n", res.Inserts, res.Updates, res.Deletes, res.Failures)
	tw.Flush()
	fmt.Fprintf(w, "\nRun %s finished in %s.\n", res.RunID, res.Duration.Round(time.Millisecond))
}

// countEntities counts the loaded entities below p per kind.
func countEntities(p *model.Project) map[model.Kind]int {
	counts := make(map[model.Kind]int)
	counts[model.KindChannel] += len(p.Channels)
	for _, c := range p.Channels {
		counts[model.KindDevice] += len(c.Devices)
		for _, d := range c.Devices {
			countContainer(counts, d.Tags, d.TagGroups)
		}
	}
	return counts
}

func countContainer(counts map[model.Kind]int, tags []*model.Tag, groups []*model.TagGroup) {
	counts[model.KindTag] += len(tags)
	counts[model.KindTagGroup] += len(groups)
	for _, g := range groups {
		countContainer(counts, g.Tags, g.TagGroups)
	}
}

func printInventory(w io.Writer, counts map[model.Kind]int) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tCOUNT")
	for _, kind := range model.Kinds {
		if kind == model.KindProject {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\n", kind, counts[kind])
	}
	tw.Flush()
}

func printLatencies(w io.Writer, summaries []client.LatencySummary) {
	if len(summaries) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tREQUESTS\tAVG\tP50\tP90\tP99\tMAX")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			s.Method, s.Count, s.Avg, s.P50, s.P90, s.P99, s.Max)
	}
	tw.Flush()
}
