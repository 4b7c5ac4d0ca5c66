package model

import (
	"encoding/json"
	"fmt"

	"github.com/xtxerr/kepsync/internal/constants"
	"github.com/xtxerr/kepsync/internal/errors"
)

// =============================================================================
// Decoding
// =============================================================================

// FromMap builds an entity of kind from a flat wire object. Child
// collections found under their well-known keys are decoded recursively;
// absent child keys leave the collection nil (not loaded).
//
// Nested property groups are kept as received and flattened lazily on
// first access.
func FromMap(kind Kind, m map[string]Value, owners []Ref) (Entity, error) {
	e, err := New(kind, "")
	if err != nil {
		return nil, err
	}
	h := e.Meta()
	h.SetOwners(owners)

	// Children are decoded after the name is known so that their owner
	// chains are complete.
	var children []string
	for k, v := range m {
		if _, ok := childKey(kind, k); ok {
			children = append(children, k)
			continue
		}
		switch k {
		case constants.PropertyName:
			s, ok := v.AsString()
			if !ok {
				return nil, errors.NewTypeMismatch(k, "string", v.Type().String())
			}
			h.Name = s
		case constants.PropertyDescription:
			if s, ok := v.AsString(); ok {
				h.Description = s
			}
		case constants.PropertyProjectID:
			if id, ok := v.AsInt(); ok {
				h.ProjectID = &id
			}
		default:
			h.props[k] = v
		}
	}

	for _, k := range children {
		childKind, _ := childKey(kind, k)
		if err := decodeChildren(e, childKind, m[k]); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
	}
	return e, nil
}

func childKey(parent Kind, key string) (Kind, bool) {
	switch {
	case parent == KindProject && key == constants.ChildChannels:
		return KindChannel, true
	case parent == KindChannel && key == constants.ChildDevices:
		return KindDevice, true
	case (parent == KindDevice || parent == KindTagGroup) && key == constants.ChildTags:
		return KindTag, true
	case (parent == KindDevice || parent == KindTagGroup) && key == constants.ChildTagGroups:
		return KindTagGroup, true
	}
	return "", false
}

func decodeChildren(parent Entity, kind Kind, v Value) error {
	items, ok := v.AsArray()
	if !ok {
		if v.IsNull() {
			items = nil
		} else {
			return errors.NewTypeMismatch(string(kind), "array", v.Type().String())
		}
	}

	owners := ChildOwners(parent)
	children := make([]Entity, 0, len(items))
	for i, item := range items {
		obj, ok := item.AsObject()
		if !ok {
			return fmt.Errorf("[%d]: %w", i, errors.NewTypeMismatch(string(kind), "object", item.Type().String()))
		}
		child, err := FromMap(kind, obj, owners)
		if err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
		children = append(children, child)
	}
	return SetChildren(parent, kind, children)
}

// SetChildren replaces the child collection of kind under parent. The
// collection becomes non-nil even when children is empty.
func SetChildren(parent Entity, kind Kind, children []Entity) error {
	owners := ChildOwners(parent)
	for _, c := range children {
		c.Meta().SetOwners(owners)
	}

	switch p := parent.(type) {
	case *Project:
		if kind == KindChannel {
			p.Channels = collect[*Channel](children)
			return nil
		}
	case *Channel:
		if kind == KindDevice {
			p.Devices = collect[*Device](children)
			return nil
		}
	case *Device:
		switch kind {
		case KindTag:
			p.Tags = collect[*Tag](children)
			return nil
		case KindTagGroup:
			p.TagGroups = collect[*TagGroup](children)
			return nil
		}
	case *TagGroup:
		switch kind {
		case KindTag:
			p.Tags = collect[*Tag](children)
			return nil
		case KindTagGroup:
			p.TagGroups = collect[*TagGroup](children)
			return nil
		}
	}
	return errors.Wrapf(errors.ErrUnsupportedStructure, "%s cannot hold %s children", parent.Kind(), kind)
}

func collect[T Entity](in []Entity) []T {
	out := make([]T, 0, len(in))
	for _, e := range in {
		if t, ok := e.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// DecodeJSON decodes a single wire object.
func DecodeJSON(kind Kind, data []byte, owners []Ref) (Entity, error) {
	var m map[string]Value
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedResponse, "decode %s: %v", kind, err)
	}
	if m == nil {
		return nil, errors.Wrapf(errors.ErrMalformedResponse, "decode %s: null body", kind)
	}
	return FromMap(kind, m, owners)
}

// DecodeJSONList decodes a wire array of objects.
func DecodeJSONList(kind Kind, data []byte, owners []Ref) ([]Entity, error) {
	var items []map[string]Value
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedResponse, "decode %s list: %v", kind, err)
	}
	out := make([]Entity, 0, len(items))
	for i, m := range items {
		e, err := FromMap(kind, m, owners)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", kind, i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// =============================================================================
// Encoding
// =============================================================================

// ToWire returns the wire object for e: name, description, serialized
// properties with nested groups rebuilt and, when withChildren is set,
// every loaded child collection.
func ToWire(e Entity, withChildren bool) (Value, error) {
	h := e.Meta()
	if err := h.Normalize(); err != nil {
		return Value{}, err
	}

	skip := h.skipKeys()
	flat := make(Properties, len(h.props)+2)
	for k, v := range h.props {
		if _, ok := skip[k]; ok {
			continue
		}
		flat[k] = v
	}
	out := denormalize(e.Kind(), flat)
	if e.Kind() != KindProject {
		out[constants.PropertyName] = String(h.Name)
	}
	if h.Description != "" {
		out[constants.PropertyDescription] = String(h.Description)
	}

	if withChildren {
		if err := wireChildren(e, out); err != nil {
			return Value{}, err
		}
	}
	return Value{typ: TypeObject, obj: out}, nil
}

func wireChildren(e Entity, out Properties) error {
	add := func(key string, children []Entity) error {
		arr := make([]Value, 0, len(children))
		for _, c := range children {
			v, err := ToWire(c, true)
			if err != nil {
				return err
			}
			arr = append(arr, v)
		}
		out[key] = Value{typ: TypeArray, arr: arr}
		return nil
	}

	switch p := e.(type) {
	case *Project:
		if p.Channels != nil {
			return add(constants.ChildChannels, Entities(p.Channels))
		}
	case *Channel:
		if p.Devices != nil {
			return add(constants.ChildDevices, Entities(p.Devices))
		}
	case *Device:
		if p.Tags != nil {
			if err := add(constants.ChildTags, Entities(p.Tags)); err != nil {
				return err
			}
		}
		if p.TagGroups != nil {
			return add(constants.ChildTagGroups, Entities(p.TagGroups))
		}
	case *TagGroup:
		if p.Tags != nil {
			if err := add(constants.ChildTags, Entities(p.Tags)); err != nil {
				return err
			}
		}
		if p.TagGroups != nil {
			return add(constants.ChildTagGroups, Entities(p.TagGroups))
		}
	}
	return nil
}

// EncodeJSON encodes entities as a JSON array suitable for a collection
// POST.
func EncodeJSON[T Entity](items []T) ([]byte, error) {
	arr := make([]Value, 0, len(items))
	for _, e := range items {
		v, err := ToWire(e, true)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	return json.Marshal(Value{typ: TypeArray, arr: arr})
}

// EncodeDiff encodes an update diff for kind, rebuilding nested groups.
func EncodeDiff(kind Kind, diff Properties) ([]byte, error) {
	return json.Marshal(Value{typ: TypeObject, obj: denormalize(kind, diff)})
}

// Entities converts a typed slice to []Entity. A nil slice stays nil.
func Entities[T Entity](in []T) []Entity {
	if in == nil {
		return nil
	}
	out := make([]Entity, len(in))
	for i, e := range in {
		out[i] = e
	}
	return out
}
