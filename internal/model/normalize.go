package model

import (
	"strings"

	"github.com/xtxerr/kepsync/internal/constants"
	"github.com/xtxerr/kepsync/internal/errors"
)

// =============================================================================
// Nested Property Groups
// =============================================================================

// NestedGroup describes an array-of-objects property that the server
// reports in nested form but which is handled as flat "<group>.<KEY>"
// entries inside the engine.
type NestedGroup struct {
	// Key is the property holding the nested array (e.g. "client_interfaces").
	Key string

	// Discriminator names the field in each array element that carries
	// the group name.
	Discriminator string

	// Prefixes are the recognized group namespaces, matched
	// case-insensitively against the part of a key before the first dot.
	Prefixes []string
}

// ClientInterfaces is the project's nested client interface group.
var ClientInterfaces = &NestedGroup{
	Key:           constants.ProjectClientInterfaces,
	Discriminator: constants.PropertyName,
	Prefixes:      constants.ClientInterfacePrefixes,
}

var nestedGroups = map[Kind][]*NestedGroup{
	KindProject: {ClientInterfaces},
}

// HasNestedProperties reports whether entities of kind need normalization.
func HasNestedProperties(kind Kind) bool {
	return len(nestedGroups[kind]) > 0
}

// Prefix returns the canonical group prefix of key, if key belongs to g.
func (g *NestedGroup) Prefix(key string) (string, bool) {
	idx := strings.IndexByte(key, '.')
	if idx <= 0 {
		return "", false
	}
	head := key[:idx]
	for _, p := range g.Prefixes {
		if strings.EqualFold(head, p) {
			return p, true
		}
	}
	return "", false
}

// Flatten merges the nested array held under g.Key into p as flat entries
// and removes g.Key. Nested values overwrite flat entries with the same
// key. Running Flatten on an already flat bag is a no-op.
func (g *NestedGroup) Flatten(p Properties) error {
	raw, ok := p[g.Key]
	if !ok {
		return nil
	}
	if raw.IsNull() {
		delete(p, g.Key)
		return nil
	}
	items, ok := raw.AsArray()
	if !ok {
		return errors.Wrapf(errors.ErrUnsupportedStructure, "%s holds %s, want array", g.Key, raw.Type())
	}

	for _, item := range items {
		obj, ok := item.AsObject()
		if !ok {
			continue
		}
		for k, v := range obj {
			if k == g.Discriminator {
				continue
			}
			p[k] = v
		}
	}
	delete(p, g.Key)
	return nil
}

// Nest returns a copy of p in which every key belonging to g is moved
// into an array of objects under g.Key, one object per prefix in
// registration order. Keys outside the group are copied unchanged.
func (g *NestedGroup) Nest(p Properties) Properties {
	out := make(Properties, len(p))
	groups := make(map[string]map[string]Value)

	for k, v := range p {
		prefix, ok := g.Prefix(k)
		if !ok {
			out[k] = v
			continue
		}
		grp := groups[prefix]
		if grp == nil {
			grp = map[string]Value{g.Discriminator: String(prefix)}
			groups[prefix] = grp
		}
		grp[k] = v
	}

	if len(groups) == 0 {
		return out
	}

	items := make([]Value, 0, len(groups))
	for _, prefix := range g.Prefixes {
		if grp, ok := groups[prefix]; ok {
			items = append(items, Value{typ: TypeObject, obj: grp})
		}
	}
	out[g.Key] = Value{typ: TypeArray, arr: items}
	return out
}

func nestedGroup(kind Kind, key string) *NestedGroup {
	for _, g := range nestedGroups[kind] {
		if g.Key == key {
			return g
		}
	}
	return nil
}

// FlattenKey flattens the nested structure stored under key for kind.
// Only registered groups can be flattened; anything else fails with
// ErrUnsupportedStructure.
func FlattenKey(kind Kind, p Properties, key string) error {
	if g := nestedGroup(kind, key); g != nil {
		return g.Flatten(p)
	}
	return errors.Wrapf(errors.ErrUnsupportedStructure, "%s has no nested group %q", kind, key)
}

// normalize flattens every registered group of kind in place.
func normalize(kind Kind, p Properties) error {
	for _, g := range nestedGroups[kind] {
		if err := g.Flatten(p); err != nil {
			return err
		}
	}
	return nil
}

// denormalize nests every registered group of kind into a copy of p.
func denormalize(kind Kind, p Properties) Properties {
	groups := nestedGroups[kind]
	if len(groups) == 0 {
		return p.Clone()
	}
	out := p
	for _, g := range groups {
		out = g.Nest(out)
	}
	return out
}
