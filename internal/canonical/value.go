// Package canonical implements the deterministic encoding that content
// digests are computed over. The encoded form is a compact JSON subset:
// object keys sorted by the byte value of their UTF-8 encoding, no
// insignificant whitespace, integers in minimal form, mathematically
// integral floats encoded as integers, and all text normalized to Unicode
// NFC before encoding. Array order is preserved; it is semantic.
//
// Canonicalization is a choke point: every byte sequence admitted by Decode
// re-encodes to itself, so a digest computed anywhere round-trips
// everywhere.
package canonical

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Kind discriminates the variants of a Value.
type Kind int

const (
	NullKind Kind = iota
	BoolKind
	IntKind
	FloatKind
	StringKind
	ArrayKind
	MapKind
)

func (k Kind) String() string {
	switch k {
	case NullKind:
		return "null"
	case BoolKind:
		return "bool"
	case IntKind:
		return "int"
	case FloatKind:
		return "float"
	case StringKind:
		return "string"
	case ArrayKind:
		return "array"
	case MapKind:
		return "map"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Field is one key/value pair of a map value.
type Field struct {
	Key   string
	Value Value
}

// Value is a tree-structured dynamic value. Payloads are trees, not graphs;
// cross-references between records go through provenance, never through
// structural embedding.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	m    []Field
}

// Null returns the null value.
func Null() Value { return Value{kind: NullKind} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: BoolKind, b: b} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: IntKind, i: i} }

// Float returns a floating-point value. Integral floats encode as integers.
func Float(f float64) Value { return Value{kind: FloatKind, f: f} }

// String returns a text value. NFC normalization happens at encode time.
func String(s string) Value { return Value{kind: StringKind, s: s} }

// Array returns an array value preserving the given order.
func Array(vs ...Value) Value { return Value{kind: ArrayKind, arr: vs} }

// MapOf returns a map value. Fields may be given in any order; encoding
// sorts keys by UTF-8 byte value.
func MapOf(fields ...Field) Value { return Value{kind: MapKind, m: fields} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == NullKind }

// AsBool returns the boolean value, if v holds one.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == BoolKind }

// AsInt returns the integer value, if v holds one.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == IntKind }

// AsString returns the text value, if v holds one.
func (v Value) AsString() (string, bool) { return v.s, v.kind == StringKind }

// AsNumber returns v as a float64 if it holds an int or a float. Integral
// floats decay to ints during canonicalization, so numeric consumers must
// accept both.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case IntKind:
		return float64(v.i), true
	case FloatKind:
		return v.f, true
	default:
		return 0, false
	}
}

// AsArray returns the element slice, if v holds an array.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != ArrayKind {
		return nil, false
	}
	return v.arr, true
}

// Fields returns the field slice, if v holds a map.
func (v Value) Fields() ([]Field, bool) {
	if v.kind != MapKind {
		return nil, false
	}
	return v.m, true
}

// Get looks up a map field by key. Lookup uses the NFC-normalized key, the
// same form the encoding sorts and emits.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != MapKind {
		return Value{}, false
	}
	key = norm.NFC.String(key)
	for _, f := range v.m {
		if norm.NFC.String(f.Key) == key {
			return f.Value, true
		}
	}
	return Value{}, false
}
