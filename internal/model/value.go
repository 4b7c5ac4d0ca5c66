package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Value Types
// =============================================================================

// ValueType tags the variant held by a Value.
type ValueType uint8

const (
	TypeNull ValueType = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeObject
	TypeArray
)

// String returns the type name used in error messages.
func (t ValueType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	case TypeArray:
		return "array"
	default:
		return fmt.Sprintf("ValueType(%d)", t)
	}
}

// =============================================================================
// Value
// =============================================================================

// Value is a loosely typed property value: null, bool, int64, float64,
// string, nested object or nested array.
//
// The zero Value is null. Values are immutable once built; object and
// array constructors copy their input.
type Value struct {
	typ ValueType
	b   bool
	i   int64
	f   float64
	s   string
	obj map[string]Value
	arr []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{typ: TypeBool, b: b} }

// Int returns an integer value.
func Int(i int64) Value { return Value{typ: TypeInt, i: i} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{typ: TypeFloat, f: f} }

// String returns a string value.
func String(s string) Value { return Value{typ: TypeString, s: s} }

// Object returns an object value holding a copy of m.
func Object(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{typ: TypeObject, obj: cp}
}

// Array returns an array value holding a copy of vs.
func Array(vs ...Value) Value {
	cp := make([]Value, len(vs))
	copy(cp, vs)
	return Value{typ: TypeArray, arr: cp}
}

// Type returns the variant tag.
func (v Value) Type() ValueType { return v.typ }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.typ == TypeNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.typ == TypeBool }

// AsInt returns the integer held by v. Floats with an exact integer value
// convert.
func (v Value) AsInt() (int64, bool) {
	switch v.typ {
	case TypeInt:
		return v.i, true
	case TypeFloat:
		if i, ok := exactInt(v.f); ok {
			return i, true
		}
	}
	return 0, false
}

// AsFloat returns the number held by v as a float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.typ {
	case TypeFloat:
		return v.f, true
	case TypeInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.typ == TypeString }

// AsObject returns a copy of the object held by v.
func (v Value) AsObject() (map[string]Value, bool) {
	if v.typ != TypeObject {
		return nil, false
	}
	cp := make(map[string]Value, len(v.obj))
	for k, e := range v.obj {
		cp[k] = e
	}
	return cp, true
}

// AsArray returns a copy of the array held by v.
func (v Value) AsArray() ([]Value, bool) {
	if v.typ != TypeArray {
		return nil, false
	}
	cp := make([]Value, len(v.arr))
	copy(cp, v.arr)
	return cp, true
}

// IsStructured reports whether v is an object or array.
func (v Value) IsStructured() bool {
	return v.typ == TypeObject || v.typ == TypeArray
}

// Equal reports deep equality. Integers and floats compare numerically so
// that 1 and 1.0 are the same setting.
func (v Value) Equal(o Value) bool {
	if isNumber(v.typ) && isNumber(o.typ) {
		// Same rule as HashBuilder.Value: integral floats compare as ints,
		// everything else by bits.
		a, aInt := v.AsInt()
		b, bInt := o.AsInt()
		if aInt || bInt {
			return aInt && bInt && a == b
		}
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	}
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeNull:
		return true
	case TypeBool:
		return v.b == o.b
	case TypeString:
		return v.s == o.s
	case TypeObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, a := range v.obj {
			b, ok := o.obj[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	case TypeArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// GoString renders v for debugging and test failure output.
func (v Value) GoString() string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%s>", v.typ)
	}
	return string(b)
}

func isNumber(t ValueType) bool { return t == TypeInt || t == TypeFloat }

func exactInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// =============================================================================
// Conversion
// =============================================================================

// FromAny converts a decoded JSON or YAML tree into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Float(float64(t)), nil
		}
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("number %q: %w", t, err)
		}
		return Float(f), nil
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Null(), fmt.Errorf("%s: %w", k, err)
			}
			obj[k] = v
		}
		return Value{typ: TypeObject, obj: obj}, nil
	case map[any]any:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			key := fmt.Sprint(k)
			v, err := FromAny(e)
			if err != nil {
				return Null(), fmt.Errorf("%s: %w", key, err)
			}
			obj[key] = v
		}
		return Value{typ: TypeObject, obj: obj}, nil
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Null(), fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = v
		}
		return Value{typ: TypeArray, arr: arr}, nil
	default:
		return Null(), fmt.Errorf("unsupported value type %T", x)
	}
}

// ToAny converts v into plain Go values: nil, bool, int64, float64,
// string, map[string]any or []any.
func (v Value) ToAny() any {
	switch v.typ {
	case TypeBool:
		return v.b
	case TypeInt:
		return v.i
	case TypeFloat:
		return v.f
	case TypeString:
		return v.s
	case TypeObject:
		m := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			m[k] = e.ToAny()
		}
		return m
	case TypeArray:
		a := make([]any, len(v.arr))
		for i, e := range v.arr {
			a[i] = e.ToAny()
		}
		return a
	default:
		return nil
	}
}

// =============================================================================
// JSON / YAML
// =============================================================================

// MarshalJSON implements json.Marshaler. Object keys are emitted sorted.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.typ {
	case TypeNull:
		buf.WriteString("null")
	case TypeBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case TypeInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case TypeFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return fmt.Errorf("cannot encode %v as JSON", v.f)
		}
		buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case TypeString:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case TypeObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.obj[k].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case TypeArray:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Integer literals decode as
// int64, everything else numeric as float64.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return err
	}
	out, err := FromAny(x)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (v Value) MarshalYAML() (any, error) {
	return v.ToAny(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var x any
	if err := node.Decode(&x); err != nil {
		return err
	}
	out, err := FromAny(x)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*v = out
	return nil
}
