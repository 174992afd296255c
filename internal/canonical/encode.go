package canonical

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// EncodingError reports a value that cannot be canonically serialized.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string {
	return "canonical: " + e.Reason
}

func encErrf(format string, args ...interface{}) error {
	return &EncodingError{Reason: fmt.Sprintf(format, args...)}
}

// MaxDepth bounds container nesting in both directions. Decode runs on
// bytes read off the network, so without a bound a deeply nested frame
// could exhaust the goroutine stack before any content check runs.
const MaxDepth = 1000

// Encode serializes v into its unique canonical byte form.
//
// NaN and infinities fail with an EncodingError: a digest over an
// unrepresentable number would not round-trip.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v Value, depth int) error {
	switch v.kind {
	case NullKind:
		buf.WriteString("null")
	case BoolKind:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case IntKind:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case FloatKind:
		return encodeFloat(buf, v.f)
	case StringKind:
		encodeString(buf, v.s)
	case ArrayKind:
		if depth >= MaxDepth {
			return encErrf("nesting exceeds %d levels", MaxDepth)
		}
		buf.WriteByte('[')
		for i, el := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, el, depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case MapKind:
		return encodeMap(buf, v.m, depth)
	default:
		return encErrf("unknown kind %v", v.kind)
	}
	return nil
}

func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return encErrf("cannot encode %v", f)
	}
	// Integral floats collapse to integers so that 2 and 2.0 digest
	// identically.
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

const hexDigits = "0123456789abcdef"

func encodeString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			buf.WriteString(`\"`)
		case c == '\\':
			buf.WriteString(`\\`)
		case c < 0x20:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xf])
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
}

func encodeMap(buf *bytes.Buffer, fields []Field, depth int) error {
	if depth >= MaxDepth {
		return encErrf("nesting exceeds %d levels", MaxDepth)
	}
	// Keys sort by the byte value of their NFC UTF-8 encoding. Go string
	// comparison is bytewise, which is exactly that order.
	sorted := make([]Field, len(fields))
	for i, f := range fields {
		sorted[i] = Field{Key: norm.NFC.String(f.Key), Value: f.Value}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	buf.WriteByte('{')
	for i, f := range sorted {
		if i > 0 {
			if f.Key == sorted[i-1].Key {
				return encErrf("duplicate map key %q", f.Key)
			}
			buf.WriteByte(',')
		}
		encodeString(buf, f.Key)
		buf.WriteByte(':')
		if err := encodeValue(buf, f.Value, depth+1); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// FromInterface converts a dynamically-typed payload into a Value, failing
// with an EncodingError on cyclic structures, non-finite floats, or
// unsupported types.
func FromInterface(x interface{}) (Value, error) {
	return fromInterface(x, make(map[uintptr]bool), 0)
}

func fromInterface(x interface{}, seen map[uintptr]bool, depth int) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, encErrf("integer %d overflows int64", t)
		}
		return Int(int64(t)), nil
	case float32:
		return checkedFloat(float64(t))
	case float64:
		return checkedFloat(t)
	case string:
		return String(t), nil
	case []interface{}:
		if depth >= MaxDepth {
			return Value{}, encErrf("nesting exceeds %d levels", MaxDepth)
		}
		ptr := reflect.ValueOf(t).Pointer()
		if seen[ptr] {
			return Value{}, encErrf("cyclic structure")
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		elems := make([]Value, len(t))
		for i, el := range t {
			v, err := fromInterface(el, seen, depth+1)
			if err != nil {
				return Value{}, err
			}
			elems[i] = v
		}
		return Array(elems...), nil
	case map[string]interface{}:
		if depth >= MaxDepth {
			return Value{}, encErrf("nesting exceeds %d levels", MaxDepth)
		}
		ptr := reflect.ValueOf(t).Pointer()
		if seen[ptr] {
			return Value{}, encErrf("cyclic structure")
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		fields := make([]Field, 0, len(t))
		for k, el := range t {
			v, err := fromInterface(el, seen, depth+1)
			if err != nil {
				return Value{}, err
			}
			fields = append(fields, Field{Key: k, Value: v})
		}
		return MapOf(fields...), nil
	case Value:
		return t, nil
	default:
		return Value{}, encErrf("unsupported type %T", x)
	}
}

func checkedFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, encErrf("cannot encode %v", f)
	}
	return Float(f), nil
}
