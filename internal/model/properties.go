package model

import (
	"sort"

	"github.com/xtxerr/kepsync/internal/errors"
)

// Properties is an order-irrelevant bag of namespaced settings.
type Properties map[string]Value

// Clone returns a shallow copy. Values are immutable, so this is a full
// copy for all practical purposes.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	cp := make(Properties, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// Keys returns the keys in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether both bags hold the same keys with equal values.
func (p Properties) Equal(o Properties) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// lookup fetches key and rejects structured values, which only the
// normalizer may interpret.
func (p Properties) lookup(key string) (Value, error) {
	v, ok := p[key]
	if !ok {
		return Value{}, errors.Wrapf(errors.ErrPropertyNotFound, "property %q", key)
	}
	if v.IsStructured() {
		return Value{}, errors.Wrapf(errors.ErrUnsupportedStructure, "property %q holds %s", key, v.Type())
	}
	return v, nil
}

// GetString returns key as a string.
func (p Properties) GetString(key string) (string, error) {
	v, err := p.lookup(key)
	if err != nil {
		return "", err
	}
	s, ok := v.AsString()
	if !ok {
		return "", errors.NewTypeMismatch(key, "string", v.Type().String())
	}
	return s, nil
}

// GetInt returns key as an int64.
func (p Properties) GetInt(key string) (int64, error) {
	v, err := p.lookup(key)
	if err != nil {
		return 0, err
	}
	i, ok := v.AsInt()
	if !ok {
		return 0, errors.NewTypeMismatch(key, "int", v.Type().String())
	}
	return i, nil
}

// GetFloat returns key as a float64.
func (p Properties) GetFloat(key string) (float64, error) {
	v, err := p.lookup(key)
	if err != nil {
		return 0, err
	}
	f, ok := v.AsFloat()
	if !ok {
		return 0, errors.NewTypeMismatch(key, "float", v.Type().String())
	}
	return f, nil
}

// GetBool returns key as a bool.
func (p Properties) GetBool(key string) (bool, error) {
	v, err := p.lookup(key)
	if err != nil {
		return false, err
	}
	b, ok := v.AsBool()
	if !ok {
		return false, errors.NewTypeMismatch(key, "bool", v.Type().String())
	}
	return b, nil
}
