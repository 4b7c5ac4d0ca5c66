// Package endpoint resolves REST paths for configuration entities.
//
// Every entity kind has a static Descriptor holding a path template with
// {placeholder} tokens. Placeholders are filled from the entity's owner
// chain, the closest owner filling the last placeholder. Tag groups nest
// without a depth limit, so tags and tag groups use recursive descriptors
// that append one segment per enclosing tag group.
package endpoint

import (
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/xtxerr/kepsync/internal/constants"
	"github.com/xtxerr/kepsync/internal/errors"
	"github.com/xtxerr/kepsync/internal/model"
)

// =============================================================================
// Path Template Parser
// =============================================================================

// Template is a pre-parsed path template.
type Template struct {
	Raw          string
	Parts        []string // Static parts; len(Parts) == len(Placeholders)+1
	Placeholders []string // Placeholder names in order of appearance
}

var placeholderRegex = regexp.MustCompile(`\{([^}]+)\}`)

// ParseTemplate splits a template into static parts and placeholders.
func ParseTemplate(raw string) *Template {
	matches := placeholderRegex.FindAllStringSubmatchIndex(raw, -1)

	t := &Template{Raw: raw}
	lastEnd := 0
	for _, m := range matches {
		t.Parts = append(t.Parts, raw[lastEnd:m[0]])
		t.Placeholders = append(t.Placeholders, raw[m[2]:m[3]])
		lastEnd = m[1]
	}
	t.Parts = append(t.Parts, raw[lastEnd:])
	return t
}

// Expand substitutes values in order. Each value is percent-encoded as a
// single path segment.
func (t *Template) Expand(values []string) (string, error) {
	if len(values) != len(t.Placeholders) {
		return "", errors.Wrapf(errors.ErrUnresolvedPlaceholder,
			"template %q needs %d values, got %d", t.Raw, len(t.Placeholders), len(values))
	}
	var b strings.Builder
	for i, part := range t.Parts {
		b.WriteString(part)
		if i < len(values) {
			b.WriteString(url.PathEscape(values[i]))
		}
	}
	return b.String(), nil
}

// =============================================================================
// Descriptors
// =============================================================================

// Descriptor tells the resolver how to address one entity kind.
type Descriptor struct {
	Kind model.Kind

	// Template is the collection path, or the item path for singletons.
	Template string

	// Singleton marks kinds addressed without a name (the project).
	Singleton bool

	// Recursive descriptors append RecursiveSegment once per enclosing
	// owner of kind RecursiveOwner, then Suffix.
	Recursive        bool
	RecursiveOwner   model.Kind
	RecursiveSegment string
	Suffix           string

	base    *Template
	segment *Template
}

const (
	projectTemplate = constants.PathProject
	channelTemplate = constants.PathProject + "/channels"
	devicesTemplate = constants.PathProject + "/channels/{channelName}/devices"
	deviceTemplate  = constants.PathProject + "/channels/{channelName}/devices/{deviceName}"
	tagGroupSegment = "/tag_groups/{groupName}"
	tagsSuffix      = "/" + constants.ChildTags
	tagGroupsSuffix = "/" + constants.ChildTagGroups
)

// Descriptors returns the built-in descriptors.
func Descriptors() []Descriptor {
	return []Descriptor{
		{Kind: model.KindProject, Template: projectTemplate, Singleton: true},
		{Kind: model.KindChannel, Template: channelTemplate},
		{Kind: model.KindDevice, Template: devicesTemplate},
		{
			Kind:             model.KindTag,
			Template:         deviceTemplate,
			Recursive:        true,
			RecursiveOwner:   model.KindTagGroup,
			RecursiveSegment: tagGroupSegment,
			Suffix:           tagsSuffix,
		},
		{
			Kind:             model.KindTagGroup,
			Template:         deviceTemplate,
			Recursive:        true,
			RecursiveOwner:   model.KindTagGroup,
			RecursiveSegment: tagGroupSegment,
			Suffix:           tagGroupsSuffix,
		},
	}
}

// =============================================================================
// Registry
// =============================================================================

// Registry maps entity kinds to descriptors. It is safe for concurrent
// use.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[model.Kind]*Descriptor
}

// NewRegistry creates a registry holding ds.
func NewRegistry(ds ...Descriptor) *Registry {
	r := &Registry{descriptors: make(map[model.Kind]*Descriptor, len(ds))}
	for _, d := range ds {
		r.Register(d)
	}
	return r
}

// Default is the registry used by the package-level functions.
var Default = NewRegistry(Descriptors()...)

// Register adds or replaces the descriptor for d.Kind.
func (r *Registry) Register(d Descriptor) {
	d.base = ParseTemplate(d.Template)
	if d.Recursive {
		d.segment = ParseTemplate(d.RecursiveSegment)
	}
	r.mu.Lock()
	r.descriptors[d.Kind] = &d
	r.mu.Unlock()
}

// Lookup returns the descriptor for kind.
func (r *Registry) Lookup(kind model.Kind) (*Descriptor, error) {
	r.mu.RLock()
	d, ok := r.descriptors[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(errors.ErrMissingEndpoint, "no endpoint for %q", kind)
	}
	return d, nil
}

// CollectionPath resolves the collection endpoint for children of kind
// owned by the given chain (outermost first, project excluded).
func (r *Registry) CollectionPath(kind model.Kind, owners []model.Ref) (string, error) {
	d, err := r.Lookup(kind)
	if err != nil {
		return "", err
	}
	if !d.Recursive {
		return resolveLinear(d.base, owners)
	}
	return resolveRecursive(d, owners)
}

// ItemPath resolves the endpoint of a single named entity.
func (r *Registry) ItemPath(kind model.Kind, owners []model.Ref, name string) (string, error) {
	d, err := r.Lookup(kind)
	if err != nil {
		return "", err
	}
	collection, err := r.CollectionPath(kind, owners)
	if err != nil {
		return "", err
	}
	if d.Singleton {
		return collection, nil
	}
	return collection + "/" + url.PathEscape(name), nil
}

// resolveLinear fills placeholders right to left from the closest owner.
func resolveLinear(t *Template, owners []model.Ref) (string, error) {
	n := len(t.Placeholders)
	if len(owners) < n {
		return "", errors.Wrapf(errors.ErrUnresolvedPlaceholder,
			"template %q: owner chain has %d entries, need %d", t.Raw, len(owners), n)
	}
	values := make([]string, n)
	for i := 0; i < n; i++ {
		values[n-1-i] = owners[len(owners)-1-i].Name
	}
	return t.Expand(values)
}

// resolveRecursive walks the chain from the closest owner outward while
// owners are of the recursive kind, then resolves the base template
// against whatever terminated the walk.
func resolveRecursive(d *Descriptor, owners []model.Ref) (string, error) {
	var segments []string // innermost first
	i := len(owners) - 1
	for ; i >= 0 && owners[i].Kind == d.RecursiveOwner; i-- {
		seg, err := d.segment.Expand([]string{owners[i].Name})
		if err != nil {
			return "", err
		}
		segments = append(segments, seg)
	}

	base, err := resolveLinear(d.base, owners[:i+1])
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(base)
	for j := len(segments) - 1; j >= 0; j-- {
		b.WriteString(segments[j])
	}
	b.WriteString(d.Suffix)
	return b.String(), nil
}

// =============================================================================
// Package-level helpers
// =============================================================================

// CollectionPath resolves a collection endpoint using the Default registry.
func CollectionPath(kind model.Kind, owners []model.Ref) (string, error) {
	return Default.CollectionPath(kind, owners)
}

// ItemPath resolves an item endpoint using the Default registry.
func ItemPath(kind model.Kind, owners []model.Ref, name string) (string, error) {
	return Default.ItemPath(kind, owners, name)
}

// Of resolves the item endpoint of e from its own owner chain.
func Of(e model.Entity) (string, error) {
	h := e.Meta()
	return Default.ItemPath(e.Kind(), h.Owners(), h.Name)
}
