package model

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"
	"sort"
)

// =============================================================================
// Hash Builder
// =============================================================================

// HashBuilder provides a fluent API for building content hashes.
//
// Usage:
//
//	hash := NewHashBuilder().
//	    String(entity.Name).
//	    String(entity.Description).
//	    Properties(props, skip).
//	    Build()
//
// The hash is deterministic - same inputs always produce the same output.
// Order of operations matters; order of map keys does not.
type HashBuilder struct {
	h   hash.Hash64
	buf [8]byte
}

// NewHashBuilder creates a new hash builder.
func NewHashBuilder() *HashBuilder {
	return &HashBuilder{h: fnv.New64a()}
}

// String adds a string value to the hash.
func (b *HashBuilder) String(s string) *HashBuilder {
	b.h.Write([]byte(s))
	b.h.Write([]byte{0}) // Separator to avoid collisions
	return b
}

// Int adds an integer to the hash.
func (b *HashBuilder) Int(i int) *HashBuilder {
	return b.Uint64(uint64(i))
}

// Int64 adds an int64 to the hash.
func (b *HashBuilder) Int64(i int64) *HashBuilder {
	return b.Uint64(uint64(i))
}

// Uint64 adds a uint64 to the hash.
func (b *HashBuilder) Uint64(i uint64) *HashBuilder {
	binary.LittleEndian.PutUint64(b.buf[:], i)
	b.h.Write(b.buf[:])
	return b
}

// Bool adds a boolean to the hash.
func (b *HashBuilder) Bool(v bool) *HashBuilder {
	if v {
		b.h.Write([]byte{1})
	} else {
		b.h.Write([]byte{0})
	}
	return b
}

// Value adds a tagged property value to the hash. Numbers with an exact
// integer value hash as integers, matching Value.Equal.
func (b *HashBuilder) Value(v Value) *HashBuilder {
	switch v.typ {
	case TypeNull:
		b.h.Write([]byte{byte(TypeNull)})
	case TypeBool:
		b.h.Write([]byte{byte(TypeBool)})
		b.Bool(v.b)
	case TypeInt:
		b.h.Write([]byte{byte(TypeInt)})
		b.Int64(v.i)
	case TypeFloat:
		if i, ok := exactInt(v.f); ok {
			b.h.Write([]byte{byte(TypeInt)})
			b.Int64(i)
		} else {
			b.h.Write([]byte{byte(TypeFloat)})
			b.Uint64(math.Float64bits(v.f))
		}
	case TypeString:
		b.h.Write([]byte{byte(TypeString)})
		b.String(v.s)
	case TypeObject:
		b.h.Write([]byte{byte(TypeObject)})
		b.valueMap(v.obj, nil)
	case TypeArray:
		b.h.Write([]byte{byte(TypeArray)})
		b.Int(len(v.arr))
		for _, e := range v.arr {
			b.Value(e)
		}
	}
	return b
}

// Properties adds a property bag to the hash. Keys are sorted for
// deterministic ordering; keys in skip are left out.
func (b *HashBuilder) Properties(p Properties, skip map[string]struct{}) *HashBuilder {
	return b.valueMap(p, skip)
}

func (b *HashBuilder) valueMap(m map[string]Value, skip map[string]struct{}) *HashBuilder {
	keys := make([]string, 0, len(m))
	for k := range m {
		if _, ok := skip[k]; ok {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.Int(len(keys))
	for _, k := range keys {
		b.String(k)
		b.Value(m[k])
	}
	return b
}

// Build returns the final hash value.
func (b *HashBuilder) Build() uint64 {
	return b.h.Sum64()
}
