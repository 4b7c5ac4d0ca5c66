// Package model provides the dynamic entity model of a server project:
// schema-less property bags attached to named nodes of the configuration
// tree (project, channels, devices, tags and tag groups).
//
// Entities carry their ancestry as a copied chain of (kind, name)
// references rather than a pointer to the parent, so the tree never
// contains cycles and each subtree can be handed to its own goroutine.
package model

import (
	"github.com/xtxerr/kepsync/internal/constants"
	"github.com/xtxerr/kepsync/internal/errors"
)

// =============================================================================
// Kinds
// =============================================================================

// Kind identifies an entity variant.
type Kind string

const (
	KindProject  Kind = "project"
	KindChannel  Kind = "channel"
	KindDevice   Kind = "device"
	KindTag      Kind = "tag"
	KindTagGroup Kind = "tag_group"
)

// Kinds lists all entity kinds, parents first.
var Kinds = []Kind{KindProject, KindChannel, KindDevice, KindTagGroup, KindTag}

// Ref names one ancestor in an owner chain.
type Ref struct {
	Kind Kind
	Name string
}

// Entity is implemented by every node of the configuration tree.
type Entity interface {
	Kind() Kind
	Meta() *Header
}

// =============================================================================
// Header
// =============================================================================

// Header holds what every entity has: identity, ancestry and properties.
//
// Header is not safe for concurrent use. During reconciliation each
// entity is reachable from exactly one branch.
type Header struct {
	Name        string
	Description string

	// ProjectID is assigned by the server. It is nil until the entity has
	// been read back from the server.
	ProjectID *int64

	kind   Kind
	owners []Ref
	props  Properties

	normalized bool
	normErr    error

	propsHash uint64
	hashValid bool
}

func newHeader(kind Kind, name string) Header {
	return Header{kind: kind, Name: name, props: make(Properties)}
}

func (h *Header) bind(kind Kind) *Header {
	if h.kind == "" {
		h.kind = kind
	}
	if h.props == nil {
		h.props = make(Properties)
	}
	return h
}

// Owners returns a copy of the ancestor chain, outermost first. The
// project is implicit and never part of the chain.
func (h *Header) Owners() []Ref {
	out := make([]Ref, len(h.owners))
	copy(out, h.owners)
	return out
}

// SetOwners replaces the ancestor chain with a copy of chain.
func (h *Header) SetOwners(chain []Ref) {
	h.owners = make([]Ref, len(chain))
	copy(h.owners, chain)
}

// Parent returns the closest ancestor.
func (h *Header) Parent() (Ref, bool) {
	if len(h.owners) == 0 {
		return Ref{}, false
	}
	return h.owners[len(h.owners)-1], true
}

// Normalize flattens registered nested groups. It runs at most once;
// later calls return the first result.
func (h *Header) Normalize() error {
	if h.normalized {
		return h.normErr
	}
	h.normalized = true
	if h.props == nil {
		h.props = make(Properties)
	}
	if HasNestedProperties(h.kind) {
		h.normErr = normalize(h.kind, h.props)
		h.hashValid = false
	}
	return h.normErr
}

// SetProperty stores a property. Identity keys update the corresponding
// fields instead of the bag. A registered nested group is flattened into
// the bag; a group that cannot be flattened is rejected.
func (h *Header) SetProperty(key string, v Value) error {
	if err := h.Normalize(); err != nil {
		return err
	}
	switch key {
	case constants.PropertyName:
		s, ok := v.AsString()
		if !ok {
			return errors.NewTypeMismatch(key, "string", v.Type().String())
		}
		h.Name = s
		return nil
	case constants.PropertyDescription:
		if v.IsNull() {
			h.Description = ""
			return nil
		}
		s, ok := v.AsString()
		if !ok {
			return errors.NewTypeMismatch(key, "string", v.Type().String())
		}
		h.Description = s
		return nil
	case constants.PropertyProjectID:
		if v.IsNull() {
			h.ProjectID = nil
			return nil
		}
		id, ok := v.AsInt()
		if !ok {
			return errors.NewTypeMismatch(key, "int", v.Type().String())
		}
		h.ProjectID = &id
		return nil
	}

	h.props[key] = v
	h.hashValid = false
	if nestedGroup(h.kind, key) != nil {
		// The bag is already normalized; keep it flat.
		if err := FlattenKey(h.kind, h.props, key); err != nil {
			delete(h.props, key)
			return err
		}
	}
	return nil
}

// Property returns the raw value stored under key.
func (h *Header) Property(key string) (Value, bool, error) {
	if err := h.Normalize(); err != nil {
		return Value{}, false, err
	}
	v, ok := h.props[key]
	return v, ok, nil
}

// Properties returns a copy of the normalized bag.
func (h *Header) Properties() (Properties, error) {
	if err := h.Normalize(); err != nil {
		return nil, err
	}
	return h.props.Clone(), nil
}

// GetProperty returns key converted to T. Structured values fail with
// ErrUnsupportedStructure, other mismatches with ErrTypeMismatch.
func GetProperty[T bool | int64 | float64 | string](e Entity, key string) (T, error) {
	var zero T
	h := e.Meta()
	if err := h.Normalize(); err != nil {
		return zero, err
	}

	var (
		out any
		err error
	)
	switch any(zero).(type) {
	case bool:
		out, err = h.props.GetBool(key)
	case int64:
		out, err = h.props.GetInt(key)
	case float64:
		out, err = h.props.GetFloat(key)
	case string:
		out, err = h.props.GetString(key)
	}
	if err != nil {
		return zero, err
	}
	return out.(T), nil
}

// skipKeys returns the keys that never take part in hashes or payloads.
func (h *Header) skipKeys() map[string]struct{} {
	skip := make(map[string]struct{}, len(constants.NonSerializedProperties))
	for _, k := range constants.NonSerializedProperties {
		skip[k] = struct{}{}
	}
	if h.kind == KindTag {
		if v, ok := h.props[constants.TagScalingType]; ok {
			if i, ok := v.AsInt(); ok && i == constants.TagScalingNone {
				for _, k := range constants.TagScalingProperties {
					skip[k] = struct{}{}
				}
			}
		}
	}
	return skip
}

// Hash returns an order-independent digest over name, description and
// properties. The property part is cached until the bag changes.
//
// A bag that fails to normalize is hashed as decoded. The error is not
// lost: Normalize returns it on every call, and Reconciler normalizes both
// trees before comparing anything.
func (h *Header) Hash() uint64 {
	_ = h.Normalize()
	if !h.hashValid {
		h.propsHash = NewHashBuilder().Properties(h.props, h.skipKeys()).Build()
		h.hashValid = true
	}
	return NewHashBuilder().
		String(h.Name).
		String(h.Description).
		Uint64(h.propsHash).
		Build()
}

// =============================================================================
// Variants
// =============================================================================

// Project is the root of the configuration tree.
type Project struct {
	Header
	Channels []*Channel
}

// Channel is a communication channel under the project.
type Channel struct {
	Header
	Devices []*Device
}

// Device is a device under a channel.
type Device struct {
	Header
	Tags      []*Tag
	TagGroups []*TagGroup
}

// TagGroup groups tags and may nest further tag groups.
type TagGroup struct {
	Header
	Tags      []*Tag
	TagGroups []*TagGroup
}

// Tag is a leaf data point.
type Tag struct {
	Header
}

// NewProject creates an empty project.
func NewProject() *Project { return &Project{Header: newHeader(KindProject, "")} }

// NewChannel creates a channel with no devices loaded.
func NewChannel(name string) *Channel { return &Channel{Header: newHeader(KindChannel, name)} }

// NewDevice creates a device with no children loaded.
func NewDevice(name string) *Device { return &Device{Header: newHeader(KindDevice, name)} }

// NewTagGroup creates a tag group with no children loaded.
func NewTagGroup(name string) *TagGroup { return &TagGroup{Header: newHeader(KindTagGroup, name)} }

// NewTag creates a tag.
func NewTag(name string) *Tag { return &Tag{Header: newHeader(KindTag, name)} }

func (*Project) Kind() Kind  { return KindProject }
func (*Channel) Kind() Kind  { return KindChannel }
func (*Device) Kind() Kind   { return KindDevice }
func (*TagGroup) Kind() Kind { return KindTagGroup }
func (*Tag) Kind() Kind      { return KindTag }

func (p *Project) Meta() *Header  { return p.Header.bind(KindProject) }
func (c *Channel) Meta() *Header  { return c.Header.bind(KindChannel) }
func (d *Device) Meta() *Header   { return d.Header.bind(KindDevice) }
func (g *TagGroup) Meta() *Header { return g.Header.bind(KindTagGroup) }
func (t *Tag) Meta() *Header      { return t.Header.bind(KindTag) }

// New creates an empty entity of kind.
func New(kind Kind, name string) (Entity, error) {
	switch kind {
	case KindProject:
		return NewProject(), nil
	case KindChannel:
		return NewChannel(name), nil
	case KindDevice:
		return NewDevice(name), nil
	case KindTagGroup:
		return NewTagGroup(name), nil
	case KindTag:
		return NewTag(name), nil
	}
	return nil, errors.Wrapf(errors.ErrMissingEndpoint, "unknown kind %q", kind)
}

// =============================================================================
// Ownership
// =============================================================================

// ChildOwners returns the owner chain for a direct child of parent.
// Children of the project get an empty chain.
func ChildOwners(parent Entity) []Ref {
	h := parent.Meta()
	if parent.Kind() == KindProject {
		return []Ref{}
	}
	chain := make([]Ref, 0, len(h.owners)+1)
	chain = append(chain, h.owners...)
	return append(chain, Ref{Kind: parent.Kind(), Name: h.Name})
}

// AddChannel appends c and sets its owner chain.
func (p *Project) AddChannel(c *Channel) {
	c.Meta().SetOwners(ChildOwners(p))
	p.Channels = append(p.Channels, c)
}

// AddDevice appends d and sets its owner chain.
func (c *Channel) AddDevice(d *Device) {
	d.Meta().SetOwners(ChildOwners(c))
	c.Devices = append(c.Devices, d)
}

// AddTag appends t and sets its owner chain.
func (d *Device) AddTag(t *Tag) {
	t.Meta().SetOwners(ChildOwners(d))
	d.Tags = append(d.Tags, t)
}

// AddTagGroup appends g and sets its owner chain.
func (d *Device) AddTagGroup(g *TagGroup) {
	g.Meta().SetOwners(ChildOwners(d))
	d.TagGroups = append(d.TagGroups, g)
}

// AddTag appends t and sets its owner chain.
func (g *TagGroup) AddTag(t *Tag) {
	t.Meta().SetOwners(ChildOwners(g))
	g.Tags = append(g.Tags, t)
}

// AddTagGroup appends child and sets its owner chain.
func (g *TagGroup) AddTagGroup(child *TagGroup) {
	child.Meta().SetOwners(ChildOwners(g))
	g.TagGroups = append(g.TagGroups, child)
}
