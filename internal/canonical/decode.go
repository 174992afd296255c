package canonical

import (
	"bytes"
	"strconv"
)

// Decode parses canonical bytes back into a Value. Only canonical input is
// accepted: anything that would not re-encode to the identical bytes is
// rejected with an EncodingError. This makes Decode∘Encode the identity and
// keeps digests stable across store and wire.
func Decode(bz []byte) (Value, error) {
	d := &decoder{in: bz}
	v, err := d.value()
	if err != nil {
		return Value{}, err
	}
	if d.pos != len(d.in) {
		return Value{}, encErrf("trailing bytes at offset %d", d.pos)
	}
	// Reject non-canonical spellings (unsorted keys, padded numbers,
	// unnormalized text) by round-tripping.
	re, err := Encode(v)
	if err != nil {
		return Value{}, err
	}
	if !bytes.Equal(re, bz) {
		return Value{}, encErrf("input is not in canonical form")
	}
	return v, nil
}

type decoder struct {
	in    []byte
	pos   int
	depth int
}

// enter guards container recursion against adversarially nested input.
func (d *decoder) enter() error {
	if d.depth >= MaxDepth {
		return encErrf("nesting exceeds %d levels", MaxDepth)
	}
	d.depth++
	return nil
}

func (d *decoder) leave() { d.depth-- }

func (d *decoder) peek() (byte, bool) {
	if d.pos >= len(d.in) {
		return 0, false
	}
	return d.in[d.pos], true
}

func (d *decoder) literal(lit string, v Value) (Value, error) {
	if d.pos+len(lit) > len(d.in) || string(d.in[d.pos:d.pos+len(lit)]) != lit {
		return Value{}, encErrf("malformed input at offset %d", d.pos)
	}
	d.pos += len(lit)
	return v, nil
}

func (d *decoder) value() (Value, error) {
	c, ok := d.peek()
	if !ok {
		return Value{}, encErrf("unexpected end of input")
	}
	switch {
	case c == 'n':
		return d.literal("null", Null())
	case c == 't':
		return d.literal("true", Bool(true))
	case c == 'f':
		return d.literal("false", Bool(false))
	case c == '"':
		s, err := d.string()
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case c == '[':
		return d.array()
	case c == '{':
		return d.object()
	case c == '-' || (c >= '0' && c <= '9'):
		return d.number()
	default:
		return Value{}, encErrf("unexpected byte %q at offset %d", c, d.pos)
	}
}

func (d *decoder) number() (Value, error) {
	start := d.pos
	isFloat := false
	for d.pos < len(d.in) {
		c := d.in[d.pos]
		if c == '.' || c == 'e' || c == 'E' || c == '+' {
			isFloat = true
		} else if c != '-' && (c < '0' || c > '9') {
			break
		}
		d.pos++
	}
	tok := string(d.in[start:d.pos])
	if isFloat {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return Value{}, encErrf("malformed number %q", tok)
		}
		return Float(f), nil
	}
	i, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return Value{}, encErrf("malformed number %q", tok)
	}
	return Int(i), nil
}

func (d *decoder) string() (string, error) {
	if c, ok := d.peek(); !ok || c != '"' {
		return "", encErrf("expected string at offset %d", d.pos)
	}
	d.pos++
	var sb bytes.Buffer
	for {
		if d.pos >= len(d.in) {
			return "", encErrf("unterminated string")
		}
		c := d.in[d.pos]
		switch c {
		case '"':
			d.pos++
			return sb.String(), nil
		case '\\':
			if d.pos+1 >= len(d.in) {
				return "", encErrf("unterminated escape")
			}
			switch d.in[d.pos+1] {
			case '"':
				sb.WriteByte('"')
				d.pos += 2
			case '\\':
				sb.WriteByte('\\')
				d.pos += 2
			case 'u':
				if d.pos+6 > len(d.in) {
					return "", encErrf("unterminated escape")
				}
				n, err := strconv.ParseUint(string(d.in[d.pos+2:d.pos+6]), 16, 16)
				if err != nil || n >= 0x20 {
					// Canonical form only escapes control characters.
					return "", encErrf("non-canonical escape at offset %d", d.pos)
				}
				sb.WriteByte(byte(n))
				d.pos += 6
			default:
				return "", encErrf("non-canonical escape at offset %d", d.pos)
			}
		default:
			if c < 0x20 {
				return "", encErrf("raw control byte in string at offset %d", d.pos)
			}
			sb.WriteByte(c)
			d.pos++
		}
	}
}

func (d *decoder) array() (Value, error) {
	if err := d.enter(); err != nil {
		return Value{}, err
	}
	defer d.leave()
	d.pos++ // '['
	var elems []Value
	if c, ok := d.peek(); ok && c == ']' {
		d.pos++
		return Array(), nil
	}
	for {
		v, err := d.value()
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, v)
		c, ok := d.peek()
		if !ok {
			return Value{}, encErrf("unterminated array")
		}
		switch c {
		case ',':
			d.pos++
		case ']':
			d.pos++
			return Array(elems...), nil
		default:
			return Value{}, encErrf("unexpected byte %q in array at offset %d", c, d.pos)
		}
	}
}

func (d *decoder) object() (Value, error) {
	if err := d.enter(); err != nil {
		return Value{}, err
	}
	defer d.leave()
	d.pos++ // '{'
	var fields []Field
	if c, ok := d.peek(); ok && c == '}' {
		d.pos++
		return MapOf(), nil
	}
	for {
		k, err := d.string()
		if err != nil {
			return Value{}, err
		}
		if c, ok := d.peek(); !ok || c != ':' {
			return Value{}, encErrf("expected ':' at offset %d", d.pos)
		}
		d.pos++
		v, err := d.value()
		if err != nil {
			return Value{}, err
		}
		fields = append(fields, Field{Key: k, Value: v})
		c, ok := d.peek()
		if !ok {
			return Value{}, encErrf("unterminated object")
		}
		switch c {
		case ',':
			d.pos++
		case '}':
			d.pos++
			return MapOf(fields...), nil
		default:
			return Value{}, encErrf("unexpected byte %q in object at offset %d", c, d.pos)
		}
	}
}
