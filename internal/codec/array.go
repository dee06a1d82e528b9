package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/tspg/pgcore/internal/catalog"
)

// decodeArray decodes a binary-format PostgreSQL array value into nested
// []any slices, per spec.md §4.6: a header of
// [dim_count][has_nulls][element_oid], then per-dimension [size][lower
// bound], then elements each [length][bytes] (length -1 = null). Dimension
// arrays are allocated up front once their size is known so that
// multi-dimensional arrays require no further resizing while decoding.
func decodeArray(elementOID uint32, raw []byte, format Format, encoding string, registry *catalog.Registry) (any, error) {
	if format == Text {
		return decodeArrayText(elementOID, raw, encoding, registry)
	}

	pos := 0
	need := func(n int) error {
		if pos+n > len(raw) {
			return fmt.Errorf("codec: truncated array header")
		}
		return nil
	}

	if err := need(12); err != nil {
		return nil, err
	}

	dimCount := int(int32(binary.BigEndian.Uint32(raw[pos:])))
	pos += 4
	_ = binary.BigEndian.Uint32(raw[pos:]) // has_nulls, informational only
	pos += 4
	wireElementOID := binary.BigEndian.Uint32(raw[pos:])
	pos += 4

	if dimCount == 0 {
		return []any{}, nil
	}

	if wireElementOID != elementOID && wireElementOID != 0 {
		elementOID = wireElementOID
	}

	sizes := make([]int, dimCount)
	for d := 0; d < dimCount; d++ {
		if err := need(8); err != nil {
			return nil, err
		}

		sizes[d] = int(int32(binary.BigEndian.Uint32(raw[pos:])))
		pos += 4
		pos += 4 // lower bound, not surfaced
	}

	values := make([]any, product(sizes))
	for i := range values {
		if pos+4 > len(raw) {
			return nil, fmt.Errorf("codec: truncated array element length")
		}

		length := int32(binary.BigEndian.Uint32(raw[pos:]))
		pos += 4

		if length == -1 {
			values[i] = nil
			continue
		}

		if pos+int(length) > len(raw) {
			return nil, fmt.Errorf("codec: truncated array element body")
		}

		el, err := Decode(elementOID, raw[pos:pos+int(length)], format, encoding, registry)
		if err != nil {
			return nil, err
		}

		values[i] = el
		pos += int(length)
	}

	return reshape(values, sizes), nil
}

func product(sizes []int) int {
	n := 1
	for _, s := range sizes {
		n *= s
	}
	return n
}

// reshape reinterprets a flat, row-major slice of values as a nested
// []any structure with the given per-dimension sizes.
func reshape(flat []any, sizes []int) []any {
	if len(sizes) == 1 {
		return flat
	}

	innerSize := product(sizes[1:])
	out := make([]any, sizes[0])
	for i := range out {
		out[i] = reshape(flat[i*innerSize:(i+1)*innerSize], sizes[1:])
	}

	return out
}

// encodeArray encodes a (possibly nested) Go slice into PostgreSQL's
// binary array wire format. has_nulls is always written as 1, per
// spec.md §4.6's "Arrays are encoded with has_nulls=1 by convention".
func encodeArray(elementOID uint32, v any, format Format, encoding string) ([]byte, error) {
	if format == Text {
		elems, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("codec: expected []any for array value")
		}
		return []byte(encodeArrayLiteral(elems)), nil
	}

	top, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("codec: expected []any for array value")
	}

	sizes := arrayShape(top)
	flat := make([]any, 0, product(sizes))
	flatten(top, &flat)

	out := make([]byte, 0, 20+len(sizes)*8)
	out = appendInt32(out, int32(len(sizes)))
	out = appendInt32(out, 1) // has_nulls
	out = appendUint32(out, elementOID)

	for _, s := range sizes {
		out = appendInt32(out, int32(s))
		out = appendInt32(out, 1) // lower bound
	}

	for _, el := range flat {
		body, err := Encode(elementOID, el, format, encoding)
		if err != nil {
			return nil, err
		}

		if body == nil {
			out = appendInt32(out, -1)
			continue
		}

		out = appendInt32(out, int32(len(body)))
		out = append(out, body...)
	}

	return out, nil
}

func arrayShape(v []any) []int {
	sizes := []int{len(v)}
	if len(v) > 0 {
		if nested, ok := v[0].([]any); ok {
			sizes = append(sizes, arrayShape(nested)...)
		}
	}

	return sizes
}

func flatten(v []any, out *[]any) {
	for _, el := range v {
		if nested, ok := el.([]any); ok {
			flatten(nested, out)
			continue
		}

		*out = append(*out, el)
	}
}

func appendInt32(b []byte, v int32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	return append(b, tmp[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

// decodeArrayText parses PostgreSQL's "{...}" text array grammar,
// unescaping \\, \", and \, inside quoted elements, per spec.md §4.6.
func decodeArrayText(elementOID uint32, raw []byte, encoding string, registry *catalog.Registry) (any, error) {
	s := string(raw)
	pos := 0

	var parseLevel func() ([]any, error)
	parseLevel = func() ([]any, error) {
		if pos >= len(s) || s[pos] != '{' {
			return nil, fmt.Errorf("codec: malformed array literal")
		}
		pos++ // consume '{'

		var out []any
		for {
			if pos >= len(s) {
				return nil, fmt.Errorf("codec: unterminated array literal")
			}

			switch s[pos] {
			case '}':
				pos++
				return out, nil
			case ',':
				pos++
			case '{':
				nested, err := parseLevel()
				if err != nil {
					return nil, err
				}
				out = append(out, nested)
			case '"':
				pos++
				var b []byte
				for pos < len(s) && s[pos] != '"' {
					if s[pos] == '\\' && pos+1 < len(s) {
						pos++
					}
					b = append(b, s[pos])
					pos++
				}
				pos++ // consume closing quote

				el, err := Decode(elementOID, b, Text, encoding, registry)
				if err != nil {
					return nil, err
				}
				out = append(out, el)
			default:
				start := pos
				for pos < len(s) && s[pos] != ',' && s[pos] != '}' {
					pos++
				}

				token := s[start:pos]
				if token == "null" {
					out = append(out, nil)
					break
				}

				el, err := Decode(elementOID, []byte(token), Text, encoding, registry)
				if err != nil {
					return nil, err
				}
				out = append(out, el)
			}
		}
	}

	return parseLevel()
}
