package fingerprint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

const hexDigits = "0123456789abcdef"

// Canonical serializes v with sorted object keys in the same text form as
// Python's json.dumps(v, sort_keys=True). Snapshots written by either tool
// therefore hash identically.
//
// Supported values: nil, bool, string, int, int64, json.Number,
// []interface{} and map[string]interface{}.
func Canonical(v interface{}) ([]byte, error) {
	enc := &encoder{}

	if err := enc.value(v, 0); err != nil {
		return nil, err
	}

	return enc.buf.Bytes(), nil
}

// CanonicalIndent is Canonical with one member per line, the layout of
// json.dump(v, indent=4, sort_keys=True).
func CanonicalIndent(v interface{}, indent string) ([]byte, error) {
	enc := &encoder{indent: indent}

	if err := enc.value(v, 0); err != nil {
		return nil, err
	}

	return enc.buf.Bytes(), nil
}

type encoder struct {
	buf    bytes.Buffer
	indent string
}

func (e *encoder) value(v interface{}, depth int) error {
	switch val := v.(type) {
	case nil:
		e.buf.WriteString("null")
	case bool:
		e.buf.WriteString(strconv.FormatBool(val))
	case string:
		e.string(val)
	case json.Number:
		e.buf.WriteString(val.String())
	case int:
		e.buf.WriteString(strconv.Itoa(val))
	case int64:
		e.buf.WriteString(strconv.FormatInt(val, 10))
	case []interface{}:
		return e.array(val, depth)
	case map[string]interface{}:
		return e.object(val, depth)
	default:
		return fmt.Errorf("unsupported value of type %T", v)
	}

	return nil
}

func (e *encoder) array(values []interface{}, depth int) error {
	if len(values) == 0 {
		e.buf.WriteString("[]")

		return nil
	}

	e.buf.WriteByte('[')

	for i, item := range values {
		e.member(i, depth)

		if err := e.value(item, depth+1); err != nil {
			return err
		}
	}

	e.newline(depth)
	e.buf.WriteByte(']')

	return nil
}

func (e *encoder) object(fields map[string]interface{}, depth int) error {
	if len(fields) == 0 {
		e.buf.WriteString("{}")

		return nil
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}

	// byte order of UTF-8 equals code point order
	sort.Strings(keys)

	e.buf.WriteByte('{')

	for i, key := range keys {
		e.member(i, depth)
		e.string(key)
		e.buf.WriteString(": ")

		if err := e.value(fields[key], depth+1); err != nil {
			return err
		}
	}

	e.newline(depth)
	e.buf.WriteByte('}')

	return nil
}

// member writes what goes in front of the i-th element of a container.
func (e *encoder) member(i, depth int) {
	if i > 0 {
		if e.indent == "" {
			e.buf.WriteString(", ")
		} else {
			e.buf.WriteByte(',')
		}
	}

	e.newline(depth + 1)
}

func (e *encoder) newline(depth int) {
	if e.indent == "" {
		return
	}

	e.buf.WriteByte('\n')

	for i := 0; i < depth; i++ {
		e.buf.WriteString(e.indent)
	}
}

// string quotes s with ASCII-only output: everything outside printable ASCII
// becomes \uXXXX, astral code points become surrogate pairs.
func (e *encoder) string(s string) {
	e.buf.WriteByte('"')

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size

		switch r {
		case '"':
			e.buf.WriteString(`\"`)
		case '\\':
			e.buf.WriteString(`\\`)
		case '\n':
			e.buf.WriteString(`\n`)
		case '\r':
			e.buf.WriteString(`\r`)
		case '\t':
			e.buf.WriteString(`\t`)
		case '\b':
			e.buf.WriteString(`\b`)
		case '\f':
			e.buf.WriteString(`\f`)
		default:
			switch {
			case r >= 0x20 && r < 0x7f:
				e.buf.WriteRune(r)
			case r > 0xffff:
				hi, lo := utf16.EncodeRune(r)
				e.unicodeEscape(hi)
				e.unicodeEscape(lo)
			default:
				e.unicodeEscape(r)
			}
		}
	}

	e.buf.WriteByte('"')
}

func (e *encoder) unicodeEscape(r rune) {
	e.buf.WriteString(`\u`)
	e.buf.WriteByte(hexDigits[(r>>12)&0xf])
	e.buf.WriteByte(hexDigits[(r>>8)&0xf])
	e.buf.WriteByte(hexDigits[(r>>4)&0xf])
	e.buf.WriteByte(hexDigits[r&0xf])
}
