// Package validation checks source projects before they are reconciled:
// entity name rules and sibling name uniqueness.
package validation

import (
	"fmt"
	"strings"

	"github.com/xtxerr/kepsync/internal/errors"
	"github.com/xtxerr/kepsync/internal/model"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for entity names.
type NameRules struct {
	MinLength       int
	MaxLength       int
	ForbiddenPrefix string
	ForbiddenChars  string
}

// DefaultNameRules returns the server's rules for channel, device, tag
// and tag group names.
func DefaultNameRules() NameRules {
	return NameRules{
		MinLength:       1,
		MaxLength:       256,
		ForbiddenPrefix: "_",
		ForbiddenChars:  `."`,
	}
}

// ValidateName validates a name according to the given rules. Errors
// wrap ErrInvalidName.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return invalidName(name, "too short: minimum %d characters required", rules.MinLength)
	}
	if rules.MaxLength > 0 && len(name) > rules.MaxLength {
		return invalidName(name, "too long: maximum %d characters allowed", rules.MaxLength)
	}
	if rules.ForbiddenPrefix != "" && strings.HasPrefix(name, rules.ForbiddenPrefix) {
		return invalidName(name, "cannot start with %q", rules.ForbiddenPrefix)
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return invalidName(name, "control character at position %d", i)
		}
		if strings.ContainsRune(rules.ForbiddenChars, r) {
			return invalidName(name, "invalid character '%c' at position %d", r, i)
		}
	}
	return nil
}

// ValidateEntityName validates an entity name with default rules.
func ValidateEntityName(name string) error {
	return ValidateName(name, DefaultNameRules())
}

func invalidName(name, format string, args ...any) error {
	return fmt.Errorf("name %q %s: %w", name, fmt.Sprintf(format, args...), errors.ErrInvalidName)
}

// =============================================================================
// Project Validation
// =============================================================================

// ValidateProject checks every loaded entity below p. It reports invalid
// names and duplicate names within one collection; all problems are
// collected into a single ValidationErrors.
//
// Duplicates do not stop reconciliation, where the last entity with a
// given name wins, so callers may choose to only log them.
func ValidateProject(p *model.Project) error {
	errs := errors.NewValidationErrors()

	checkCollection(errs, "", model.KindChannel, names(p.Channels))
	for _, c := range p.Channels {
		cPath := c.Name
		checkCollection(errs, cPath, model.KindDevice, names(c.Devices))
		for _, d := range c.Devices {
			validateContainer(errs, cPath+"."+d.Name, d.Tags, d.TagGroups)
		}
	}

	return errs.ErrOrNil()
}

func validateContainer(errs *errors.ValidationErrors, path string, tags []*model.Tag, groups []*model.TagGroup) {
	checkCollection(errs, path, model.KindTag, names(tags))
	checkCollection(errs, path, model.KindTagGroup, names(groups))
	for _, g := range groups {
		validateContainer(errs, path+"."+g.Name, g.Tags, g.TagGroups)
	}
}

func checkCollection(errs *errors.ValidationErrors, path string, kind model.Kind, list []string) {
	seen := make(map[string]struct{}, len(list))
	for _, name := range list {
		if err := ValidateEntityName(name); err != nil {
			errs.Add(fmt.Errorf("%s %s: %w", kind, qualify(path, name), err))
		}
		if _, dup := seen[name]; dup {
			errs.Add(fmt.Errorf("%s %s: %w", kind, qualify(path, name), errors.ErrDuplicateName))
			continue
		}
		seen[name] = struct{}{}
	}
}

func qualify(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func names[T model.Entity](list []T) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.Meta().Name
	}
	return out
}
