package model

import (
	"github.com/xtxerr/kepsync/internal/constants"
)

// UpdateDiff returns the properties of target whose values differ from
// current, plus the description when it differs. Keys present only on
// current are not included: an update never removes remote properties.
// Identity and server-maintained keys are never part of the diff.
func UpdateDiff(target, current Entity) (Properties, error) {
	th, ch := target.Meta(), current.Meta()
	if err := th.Normalize(); err != nil {
		return nil, err
	}
	if err := ch.Normalize(); err != nil {
		return nil, err
	}

	skip := th.skipKeys()
	diff := make(Properties)
	for k, v := range th.props {
		if _, ok := skip[k]; ok {
			continue
		}
		if cur, ok := ch.props[k]; ok && cur.Equal(v) {
			continue
		}
		diff[k] = v
	}
	if th.Description != ch.Description {
		diff[constants.PropertyDescription] = String(th.Description)
	}
	return diff, nil
}

// StripDefaults removes from e every property that is absent from
// reference and whose value equals the given default. It reports how
// many properties were removed.
func StripDefaults(e, reference Entity, defaults Properties) (int, error) {
	eh, rh := e.Meta(), reference.Meta()
	if err := eh.Normalize(); err != nil {
		return 0, err
	}
	if err := rh.Normalize(); err != nil {
		return 0, err
	}

	removed := 0
	for k, v := range eh.props {
		if _, inRef := rh.props[k]; inRef {
			continue
		}
		def, ok := defaults[k]
		if !ok || !def.Equal(v) {
			continue
		}
		delete(eh.props, k)
		removed++
	}
	if removed > 0 {
		eh.hashValid = false
	}
	return removed, nil
}
