// Package schema defines the typed attribute model for indexed records.
//
// Each index namespace declares its attribute fields up front; adds are
// validated against the declaration so type mismatches fail at write time
// instead of being silently stringified.
package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FieldType defines the data type of an attribute field.
type FieldType uint8

const (
	// FieldTypeString is a UTF-8 string field.
	FieldTypeString FieldType = iota + 1
	// FieldTypeFloat is a 64-bit float field.
	FieldTypeFloat
	// FieldTypeInt is a 64-bit integer field.
	FieldTypeInt
)

// String returns the string representation of the FieldType.
func (t FieldType) String() string {
	switch t {
	case FieldTypeString:
		return "String"
	case FieldTypeFloat:
		return "Float"
	case FieldTypeInt:
		return "Int"
	default:
		return "Unknown"
	}
}

// Fields declares the attribute fields of a namespace.
type Fields map[string]FieldType

// Validate checks that attrs conforms to the declaration: every attribute
// must be declared and carry the declared type. Ints are accepted where
// floats are declared.
func (f Fields) Validate(attrs Attributes) error {
	for k, v := range attrs {
		expected, ok := f[k]
		if !ok {
			return fmt.Errorf("undeclared attribute field %q", k)
		}

		if !kindMatches(v.Kind, expected) {
			return fmt.Errorf("attribute field %q has type %s, expected %s", k, v.Kind, expected)
		}
	}

	return nil
}

// Equal reports whether two declarations are identical.
func (f Fields) Equal(other Fields) bool {
	if len(f) != len(other) {
		return false
	}
	for k, t := range f {
		if other[k] != t {
			return false
		}
	}

	return true
}

// String returns a stable, sorted rendering of the declaration.
func (f Fields) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte(':')
		sb.WriteString(f[k].String())
	}

	return sb.String()
}

func kindMatches(k Kind, expected FieldType) bool {
	switch expected {
	case FieldTypeString:
		return k == KindString
	case FieldTypeFloat:
		return k == KindFloat || k == KindInt
	case FieldTypeInt:
		return k == KindInt
	default:
		return false
	}
}

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindString represents a string value.
	KindString
	// KindFloat represents a float value.
	KindFloat
	// KindInt represents an integer value.
	KindInt
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindFloat:
		return "Float"
	case KindInt:
		return "Int"
	default:
		return "Invalid"
	}
}

// Value is a small typed attribute value. The representation avoids
// reflection and fmt-based stringification.
//
// NOTE: This is also used for persistence; keep it stable.
type Value struct {
	Kind Kind    `json:"k"`
	S    string  `json:"s,omitempty"`
	F    float64 `json:"f,omitempty"`
	I    int64   `json:"i,omitempty"`
}

// String constructs a string Value.
func String(s string) Value { return Value{Kind: KindString, S: s} }

// Float constructs a float Value.
func Float(f float64) Value { return Value{Kind: KindFloat, F: f} }

// Int constructs an integer Value.
func Int(i int64) Value { return Value{Kind: KindInt, I: i} }

// StringValue returns the string value if Kind is KindString, otherwise "".
func (v Value) StringValue() string {
	if v.Kind == KindString {
		return v.S
	}

	return ""
}

// FloatValue returns the numeric value for float and int kinds, otherwise 0.
func (v Value) FloatValue() float64 {
	switch v.Kind {
	case KindFloat:
		return v.F
	case KindInt:
		return float64(v.I)
	default:
		return 0
	}
}

// IntValue returns the int value if Kind is KindInt, otherwise 0.
func (v Value) IntValue() int64 {
	if v.Kind == KindInt {
		return v.I
	}

	return 0
}

// Key returns a stable string representation for use in posting-list maps.
// It must remain stable across versions for persisted usage.
func (v Value) Key() string {
	switch v.Kind {
	case KindString:
		return "s:" + v.S
	case KindFloat:
		return "f:" + strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindInt:
		return "i:" + strconv.FormatInt(v.I, 10)
	default:
		return "invalid"
	}
}

// Attributes is the typed attribute map attached to an indexed record.
type Attributes map[string]Value

// Clone returns a shallow copy; values are immutable so this is a full copy.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}

	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}

	return out
}
