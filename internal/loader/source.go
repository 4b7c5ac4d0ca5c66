package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/xtxerr/kepsync/internal/model"
)

// =============================================================================
// Source Project
// =============================================================================

// Format is a source project file format.
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
	FormatJSONC Format = "jsonc"
)

// projectKey wraps the project in server exports: {"project": {...}}.
const projectKey = "project"

// FormatOf derives the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".jsonc":
		return FormatJSONC, nil
	}
	return "", fmt.Errorf("unsupported source format %q (want .yaml, .yml, .json or .jsonc)", filepath.Ext(path))
}

// ReadSource reads a source project file and returns its raw content along
// with the parsed project.
func ReadSource(path string) ([]byte, *model.Project, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read source: %w", err)
	}
	p, err := ParseSource(data, format)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, p, nil
}

// LoadSource reads and parses a source project file.
func LoadSource(path string) (*model.Project, error) {
	_, p, err := ReadSource(path)
	return p, err
}

// ParseSource parses a project in the wire layout: namespaced properties
// plus "channels", "devices", "tags" and "tag_groups" child arrays. The
// document may be the project object itself or a server export that wraps
// it under "project".
//
// Child collections the document omits stay unloaded, so reconciliation
// leaves the matching remote collections untouched. An empty array means
// the remote collection must be emptied.
func ParseSource(data []byte, format Format) (*model.Project, error) {
	var doc map[string]model.Value

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatJSON, FormatJSONC:
		if format == FormatJSONC {
			data = jsonc.ToJSON(data)
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported source format %q", format)
	}

	if doc == nil {
		doc = map[string]model.Value{}
	}
	if wrapped, ok := doc[projectKey]; ok && len(doc) == 1 {
		obj, ok := wrapped.AsObject()
		if !ok {
			return nil, fmt.Errorf("%q must be an object, got %s", projectKey, wrapped.Type())
		}
		doc = obj
	}

	e, err := model.FromMap(model.KindProject, doc, nil)
	if err != nil {
		return nil, err
	}
	p := e.(*model.Project)
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	return p, nil
}
