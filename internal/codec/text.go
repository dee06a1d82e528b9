package codec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// decodeText parses a column value encoded in PostgreSQL's text format,
// per spec.md §4.6's "Text encoding" paragraph.
func decodeText(oid uint32, raw []byte, encoding string) (any, error) {
	s := string(raw)

	switch oid {
	case oidChar, oidText, oidVarchar, oidBPChar, oidName:
		return s, nil

	case oidBytea:
		// text-format bytea arrives as a caller-provided buffer per
		// spec.md §4.6 ("Caller-provided buffers are passed through
		// unchanged for text-family and bytea OIDs"); here we simply hand
		// back the raw textual encoding (e.g. "\x..." hex form) as bytes.
		return []byte(s), nil

	case oidBool:
		return s == "t", nil

	case oidInt2:
		n, err := strconv.ParseInt(s, 10, 16)
		if err != nil {
			return nil, err
		}
		return int16(n), nil

	case oidInt4:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, err
		}
		return int32(n), nil

	case oidInt8:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return n, nil

	case oidOID:
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, err
		}
		return uint32(n), nil

	case oidFloat4:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, err
		}
		return float32(f), nil

	case oidFloat8:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return f, nil

	case oidUUID:
		return uuid.Parse(s)

	case oidJSON:
		return decodeJSON(raw)

	case oidJSONB:
		return decodeJSON(raw)

	case oidNumeric:
		return decimal.NewFromString(s)

	case oidDate:
		return parseISODate(s)

	case oidTimestamp, oidTimestamptz:
		return parseISOTimestamp(s)

	case oidPoint:
		return parsePointLiteral(s)

	default:
		return nil, unsupportedType(oid)
	}
}

// encodeText stringifies v into PostgreSQL's text wire format.
func encodeText(oid uint32, v any, encoding string) ([]byte, error) {
	return []byte(stringifyScalar(oid, v)), nil
}

// stringifyScalar renders a single Go value as PostgreSQL text, including
// the "BC" suffix for negative years and ISO-8601 formatting for
// date/timestamp values, per spec.md §4.6.
func stringifyScalar(oid uint32, v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		if x {
			return "t"
		}
		return "f"
	case string:
		return x
	case []byte:
		return string(x)
	case int:
		return strconv.Itoa(x)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case decimal.Decimal:
		return x.String()
	case uuid.UUID:
		return x.String()
	case Point:
		return fmt.Sprintf("(%s,%s)", strconv.FormatFloat(x.X, 'g', -1, 64), strconv.FormatFloat(x.Y, 'g', -1, 64))
	case time.Time:
		if oid == oidDate {
			return formatISODate(x)
		}
		return formatISOTimestamp(x)
	case []any:
		return encodeArrayLiteral(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// formatISODate renders t as PostgreSQL's "YYYY-MM-DD" text date,
// appending " BC" for years before 1 AD.
func formatISODate(t time.Time) string {
	y := t.Year()
	if y <= 0 {
		return fmt.Sprintf("%04d-%02d-%02d BC", 1-y, t.Month(), t.Day())
	}

	return t.Format("2006-01-02")
}

// formatISOTimestamp renders t as PostgreSQL's text timestamp, appending
// " BC" for years before 1 AD.
func formatISOTimestamp(t time.Time) string {
	y := t.Year()
	if y <= 0 {
		adjusted := time.Date(1-y, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
		return adjusted.Format("2006-01-02 15:04:05.999999999") + " BC"
	}

	return t.Format("2006-01-02 15:04:05.999999999Z07:00")
}

func parseISODate(s string) (time.Time, error) {
	bc := strings.HasSuffix(s, " BC")
	s = strings.TrimSuffix(s, " BC")

	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}

	if bc {
		t = time.Date(1-t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}

	return t, nil
}

func parseISOTimestamp(s string) (time.Time, error) {
	bc := strings.HasSuffix(s, " BC")
	s = strings.TrimSuffix(s, " BC")

	layouts := []string{
		"2006-01-02 15:04:05.999999999Z07:00:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
	}

	var t time.Time
	var err error
	for _, layout := range layouts {
		t, err = time.Parse(layout, s)
		if err == nil {
			break
		}
	}

	if err != nil {
		return time.Time{}, err
	}

	if bc {
		t = time.Date(1-t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	}

	return t.UTC(), nil
}

func parsePointLiteral(s string) (Point, error) {
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("codec: malformed point literal %q", s)
	}

	x, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Point{}, err
	}

	y, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Point{}, err
	}

	return Point{X: x, Y: y}, nil
}

// encodeArrayLiteral renders a Go slice as PostgreSQL's "{...}" array text
// grammar, escaping backslash, double-quote, and comma inside elements,
// per spec.md §4.6.
func encodeArrayLiteral(elems []any) string {
	var b strings.Builder
	b.WriteByte('{')

	for i, el := range elems {
		if i > 0 {
			b.WriteByte(',')
		}

		switch v := el.(type) {
		case nil:
			b.WriteString("null")
		case []any:
			b.WriteString(encodeArrayLiteral(v))
		case string:
			b.WriteByte('"')
			b.WriteString(escapeArrayElement(v))
			b.WriteByte('"')
		default:
			b.WriteString(escapeArrayElement(stringifyScalar(0, v)))
		}
	}

	b.WriteByte('}')
	return b.String()
}

func escapeArrayElement(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `,`, `\,`)
	return r.Replace(s)
}
