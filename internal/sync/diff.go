package sync

import (
	"github.com/xtxerr/kepsync/internal/model"
)

// =============================================================================
// Comparator
// =============================================================================

// Buckets classifies two sibling collections.
type Buckets[T model.Entity] struct {
	OnlyInSource []T       // insert candidates
	OnlyInTarget []T       // delete candidates
	Changed      []Pair[T] // present on both sides, hash differs
	Unchanged    []Pair[T] // present on both sides, hash equal
}

// Compare classifies source and target by name.
//
// Names match case-sensitively. If a side holds the same name twice, the
// last entry wins but keeps the position of the first. Output order
// follows the source for OnlyInSource, Changed and Unchanged, and the
// target for OnlyInTarget. Nil collections count as empty.
func Compare[T model.Entity](source, target []T) Buckets[T] {
	srcOrder, srcByName := index(source)
	dstOrder, dstByName := index(target)

	var b Buckets[T]
	for _, name := range srcOrder {
		s := srcByName[name]
		t, ok := dstByName[name]
		if !ok {
			b.OnlyInSource = append(b.OnlyInSource, s)
			continue
		}
		pair := Pair[T]{Source: s, Target: t}
		if s.Meta().Hash() == t.Meta().Hash() {
			b.Unchanged = append(b.Unchanged, pair)
		} else {
			b.Changed = append(b.Changed, pair)
		}
	}

	for _, name := range dstOrder {
		if _, ok := srcByName[name]; !ok {
			b.OnlyInTarget = append(b.OnlyInTarget, dstByName[name])
		}
	}
	return b
}

func index[T model.Entity](items []T) ([]string, map[string]T) {
	order := make([]string, 0, len(items))
	byName := make(map[string]T, len(items))
	for _, e := range items {
		name := e.Meta().Name
		if _, seen := byName[name]; !seen {
			order = append(order, name)
		}
		byName[name] = e
	}
	return order, byName
}

// Stats summarizes buckets.
type Stats struct {
	Inserts   int
	Updates   int
	Deletes   int
	Unchanged int
}

// Stats returns bucket sizes.
func (b Buckets[T]) Stats() Stats {
	return Stats{
		Inserts:   len(b.OnlyInSource),
		Updates:   len(b.Changed),
		Deletes:   len(b.OnlyInTarget),
		Unchanged: len(b.Unchanged),
	}
}

// Matched returns changed and unchanged pairs, changed first.
func (b Buckets[T]) Matched() []Pair[T] {
	out := make([]Pair[T], 0, len(b.Changed)+len(b.Unchanged))
	out = append(out, b.Changed...)
	return append(out, b.Unchanged...)
}
