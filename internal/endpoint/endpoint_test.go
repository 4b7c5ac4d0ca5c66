package endpoint

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xtxerr/kepsync/internal/errors"
	"github.com/xtxerr/kepsync/internal/model"
)

func ref(kind model.Kind, name string) model.Ref { return model.Ref{Kind: kind, Name: name} }

func TestParseTemplate(t *testing.T) {
	tpl := ParseTemplate("/a/{x}/b/{y}")
	if diff := cmp.Diff([]string{"/a/", "/b/", ""}, tpl.Parts); diff != "" {
		t.Errorf("Parts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x", "y"}, tpl.Placeholders); diff != "" {
		t.Errorf("Placeholders mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectionPath(t *testing.T) {
	ch := ref(model.KindChannel, "Ch1")
	dev := ref(model.KindDevice, "Dev1")

	tests := []struct {
		name   string
		kind   model.Kind
		owners []model.Ref
		want   string
	}{
		{"project", model.KindProject, nil, "/config/v1/project"},
		{"channels", model.KindChannel, nil, "/config/v1/project/channels"},
		{"devices", model.KindDevice, []model.Ref{ch}, "/config/v1/project/channels/Ch1/devices"},
		{"device tags", model.KindTag, []model.Ref{ch, dev}, "/config/v1/project/channels/Ch1/devices/Dev1/tags"},
		{"device groups", model.KindTagGroup, []model.Ref{ch, dev}, "/config/v1/project/channels/Ch1/devices/Dev1/tag_groups"},
		{
			"nested 3 deep tags",
			model.KindTag,
			[]model.Ref{ch, dev, ref(model.KindTagGroup, "A"), ref(model.KindTagGroup, "B"), ref(model.KindTagGroup, "C")},
			"/config/v1/project/channels/Ch1/devices/Dev1/tag_groups/A/tag_groups/B/tag_groups/C/tags",
		},
		{
			"nested 2 deep groups",
			model.KindTagGroup,
			[]model.Ref{ch, dev, ref(model.KindTagGroup, "A"), ref(model.KindTagGroup, "B")},
			"/config/v1/project/channels/Ch1/devices/Dev1/tag_groups/A/tag_groups/B/tag_groups",
		},
		{
			"escaping",
			model.KindDevice,
			[]model.Ref{ref(model.KindChannel, "a b/c")},
			"/config/v1/project/channels/a%20b%2Fc/devices",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CollectionPath(tt.kind, tt.owners)
			if err != nil {
				t.Fatalf("CollectionPath: %v", err)
			}
			if got != tt.want {
				t.Errorf("CollectionPath = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestItemPath(t *testing.T) {
	got, err := ItemPath(model.KindChannel, nil, "My Channel")
	if err != nil {
		t.Fatalf("ItemPath: %v", err)
	}
	if want := "/config/v1/project/channels/My%20Channel"; got != want {
		t.Errorf("ItemPath = %q, want %q", got, want)
	}

	got, err = ItemPath(model.KindProject, nil, "ignored")
	if err != nil {
		t.Fatalf("ItemPath(project): %v", err)
	}
	if want := "/config/v1/project"; got != want {
		t.Errorf("ItemPath(project) = %q, want %q", got, want)
	}
}

func TestOf_NestedDepthMatches(t *testing.T) {
	ch := model.NewChannel("C")
	dev := model.NewDevice("D")
	ch.AddDevice(dev)

	var parent interface{ AddTagGroup(*model.TagGroup) } = dev
	names := []string{"A", "B", "C"}
	var last *model.TagGroup
	for _, n := range names {
		g := model.NewTagGroup(n)
		parent.AddTagGroup(g)
		parent, last = g, g
	}
	tag := model.NewTag("T")
	last.AddTag(tag)

	got, err := Of(tag)
	if err != nil {
		t.Fatalf("Of: %v", err)
	}
	want := "/config/v1/project/channels/C/devices/D/tag_groups/A/tag_groups/B/tag_groups/C/tags/T"
	if got != want {
		t.Errorf("Of(tag) = %q, want %q", got, want)
	}
}

func TestUnresolvedPlaceholder(t *testing.T) {
	_, err := CollectionPath(model.KindDevice, nil)
	if !errors.Is(err, errors.ErrUnresolvedPlaceholder) {
		t.Errorf("CollectionPath(device, nil) error = %v, want ErrUnresolvedPlaceholder", err)
	}

	// A tag group chain with no device below it cannot terminate.
	_, err = CollectionPath(model.KindTag, []model.Ref{ref(model.KindTagGroup, "A")})
	if !errors.Is(err, errors.ErrUnresolvedPlaceholder) {
		t.Errorf("CollectionPath(tag, groups only) error = %v, want ErrUnresolvedPlaceholder", err)
	}
}

func TestMissingEndpoint(t *testing.T) {
	r := NewRegistry()
	if _, err := r.CollectionPath(model.KindChannel, nil); !errors.Is(err, errors.ErrMissingEndpoint) {
		t.Errorf("CollectionPath on empty registry error = %v, want ErrMissingEndpoint", err)
	}
}
