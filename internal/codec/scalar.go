package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tspg/pgcore/internal/catalog"
)

// pgEpochMillis is the PostgreSQL reference epoch (2000-01-01 UTC) as a Unix-
// epoch millisecond offset, used by date/timestamp conversions per
// spec.md §4.6.
const pgEpochMillis int64 = 946684800000

const (
	dateInfinity    = int32(0x7FFFFFFF)
	dateNegInfinity = int32(-0x80000000)
)

const (
	tsInfinity    = int64(0x7FFFFFFFFFFFFFFF)
	tsNegInfinity = int64(-0x8000000000000000)
)

// PostgreSQL's own timestamp/date range is bounded to 4713 BC .. 294276 AD;
// 'infinity' and '-infinity' decode to these limits rather than to an
// unrepresentable sentinel, so the result stays an ordinary comparable
// time.Time.
var (
	timeInfinity    = time.Date(294276, time.December, 31, 23, 59, 59, 0, time.UTC)
	timeNegInfinity = time.Date(-4713, time.January, 1, 0, 0, 0, 0, time.UTC)
)

func decodeBinaryScalar(oid uint32, raw []byte, encoding string) (any, error) {
	switch oid {
	case oidBool:
		if len(raw) < 1 {
			return nil, fmt.Errorf("codec: short bool value")
		}
		return raw[0] != 0, nil

	case oidInt2:
		return int16(binary.BigEndian.Uint16(raw)), nil

	case oidInt4:
		return int32(binary.BigEndian.Uint32(raw)), nil

	case oidInt8:
		return int64(binary.BigEndian.Uint64(raw)), nil

	case oidOID:
		return binary.BigEndian.Uint32(raw), nil

	case oidFloat4:
		return math.Float32frombits(binary.BigEndian.Uint32(raw)), nil

	case oidFloat8:
		return math.Float64frombits(binary.BigEndian.Uint64(raw)), nil

	case oidChar, oidText, oidVarchar, oidBPChar, oidName:
		return decodeText(oid, raw, encoding)

	case oidBytea:
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil

	case oidDate:
		return decodeDate(raw)

	case oidTimestamp, oidTimestamptz:
		return decodeTimestamp(raw)

	case oidPoint:
		return decodePoint(raw)

	case oidUUID:
		if len(raw) != 16 {
			return nil, fmt.Errorf("codec: uuid value must be 16 bytes, got %d", len(raw))
		}
		id, err := uuid.FromBytes(raw)
		if err != nil {
			return nil, err
		}
		return id, nil

	case oidJSON:
		return decodeJSON(raw)

	case oidJSONB:
		return decodeJSONB(raw)

	case oidNumeric:
		return decodeNumeric(raw)

	default:
		return nil, unsupportedType(oid)
	}
}

// numeric sign field values, per PostgreSQL's src/backend/utils/adt/numeric.c.
const (
	numericPositive = uint16(0x0000)
	numericNegative = uint16(0x4000)
	numericNaN      = uint16(0xC000)
)

// nbase is the radix PostgreSQL's binary numeric format groups decimal
// digits into: each wire "digit" covers 4 decimal digits.
var nbase = big.NewInt(10000)

// decodeNumeric converts PostgreSQL's binary numeric wire format (a
// variable-length array of base-10000 digit groups plus weight/sign/
// dscale header) into a decimal.Decimal, grounded on the teacher's
// examples/numeric/main.go use of the jackc/pgtype shopspring-numeric
// extension — that extension targets pgtype v1's Numeric type rather than
// the pgx/v5 pgtype already wired into this module, so the digit-group
// math below reimplements the same wire contract directly against
// decimal.Decimal (see DESIGN.md).
func decodeNumeric(raw []byte) (any, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("codec: short numeric value")
	}

	ndigits := int(binary.BigEndian.Uint16(raw[0:2]))
	weight := int(int16(binary.BigEndian.Uint16(raw[2:4])))
	sign := binary.BigEndian.Uint16(raw[4:6])
	dscale := int(binary.BigEndian.Uint16(raw[6:8]))

	switch sign {
	case numericPositive, numericNegative:
	case numericNaN:
		return nil, fmt.Errorf("codec: NaN numeric value has no decimal.Decimal representation")
	default:
		return nil, fmt.Errorf("codec: invalid numeric sign %#x", sign)
	}

	if len(raw) < 8+ndigits*2 {
		return nil, fmt.Errorf("codec: truncated numeric digits")
	}

	coeff := new(big.Int)
	for i := 0; i < ndigits; i++ {
		digit := binary.BigEndian.Uint16(raw[8+i*2 : 10+i*2])
		coeff.Mul(coeff, nbase)
		coeff.Add(coeff, big.NewInt(int64(digit)))
	}

	// value = coeff * 10^exp4, where exp4 is the base-10 exponent implied
	// by the digit groups' weight. Rescale so the result's exponent
	// matches dscale exactly (postgres pads the last digit group to a
	// 4-digit boundary, which can leave more trailing zeros than dscale
	// calls for).
	exp4 := 4 * (weight - ndigits + 1)
	rescale := exp4 + dscale

	switch {
	case rescale > 0:
		coeff.Mul(coeff, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(rescale)), nil))
	case rescale < 0:
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-rescale)), nil)
		coeff.Quo(coeff, div)
	}

	if sign == numericNegative && coeff.Sign() != 0 {
		coeff.Neg(coeff)
	}

	return decimal.NewFromBigInt(coeff, int32(-dscale)), nil
}

// encodeNumeric converts a decimal.Decimal into PostgreSQL's binary numeric
// wire format, the inverse of decodeNumeric.
func encodeNumeric(v any) ([]byte, error) {
	d, ok := v.(decimal.Decimal)
	if !ok {
		return nil, fmt.Errorf("codec: expected decimal.Decimal for numeric")
	}

	coeff := new(big.Int).Set(d.Coefficient())
	exp := int(d.Exponent())

	sign := numericPositive
	if coeff.Sign() < 0 {
		sign = numericNegative
		coeff.Neg(coeff)
	}

	dscale := 0
	if exp < 0 {
		dscale = -exp
	}

	// Align exp to a 4-digit group boundary (floor division toward -inf)
	// so the coefficient can be split into NBASE digits cleanly.
	m := floorDiv(exp, 4)
	if shift := exp - m*4; shift > 0 {
		coeff.Mul(coeff, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(shift)), nil))
	}

	digits := splitBase10000(coeff)
	weight := m + len(digits) - 1

	for len(digits) > 1 && digits[len(digits)-1] == 0 {
		digits = digits[:len(digits)-1]
	}
	for len(digits) > 1 && digits[0] == 0 {
		digits = digits[1:]
		weight--
	}
	if len(digits) == 1 && digits[0] == 0 {
		weight = 0
		digits = nil
	}

	out := make([]byte, 8+2*len(digits))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(digits)))
	binary.BigEndian.PutUint16(out[2:4], uint16(int16(weight)))
	binary.BigEndian.PutUint16(out[4:6], sign)
	binary.BigEndian.PutUint16(out[6:8], uint16(dscale))
	for i, dg := range digits {
		binary.BigEndian.PutUint16(out[8+2*i:10+2*i], dg)
	}

	return out, nil
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// splitBase10000 decomposes n (n >= 0) into base-10000 digit groups,
// most-significant group first. The zero value decomposes to a single
// zero group.
func splitBase10000(n *big.Int) []uint16 {
	if n.Sign() == 0 {
		return []uint16{0}
	}

	rem := new(big.Int).Set(n)
	var digits []uint16
	for rem.Sign() > 0 {
		q, r := new(big.Int), new(big.Int)
		q.QuoRem(rem, nbase, r)
		digits = append(digits, uint16(r.Int64()))
		rem = q
	}

	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}

	return digits
}

func decodeDate(raw []byte) (any, error) {
	days := int32(binary.BigEndian.Uint32(raw))
	switch days {
	case dateInfinity:
		return timeInfinity, nil
	case dateNegInfinity:
		return timeNegInfinity, nil
	}

	ms := pgEpochMillis + int64(days)*86400000
	return time.UnixMilli(ms).UTC(), nil
}

func decodeTimestamp(raw []byte) (any, error) {
	micros := int64(binary.BigEndian.Uint64(raw))
	switch micros {
	case tsInfinity:
		return timeInfinity, nil
	case tsNegInfinity:
		return timeNegInfinity, nil
	}

	ms := micros/1000 + pgEpochMillis
	return time.UnixMilli(ms).UTC(), nil
}

// Point is the Go representation of PostgreSQL's geometric point type.
type Point struct {
	X, Y float64
}

func decodePoint(raw []byte) (any, error) {
	if len(raw) < 16 {
		return nil, fmt.Errorf("codec: short point value")
	}

	x := math.Float64frombits(binary.BigEndian.Uint64(raw[0:8]))
	y := math.Float64frombits(binary.BigEndian.Uint64(raw[8:16]))
	return Point{X: x, Y: y}, nil
}

func decodeJSON(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("codec: invalid json: %w", err)
	}

	return v, nil
}

func decodeJSONB(raw []byte) (any, error) {
	if len(raw) < 1 {
		return nil, fmt.Errorf("codec: short jsonb value")
	}

	if raw[0] != 1 {
		// unsupported jsonb version: decode as null per spec.md §4.6.
		return nil, nil
	}

	return decodeJSON(raw[1:])
}

func encodeBinaryScalar(oid uint32, v any, encoding string) ([]byte, error) {
	switch oid {
	case oidBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("codec: expected bool for %s", catalog.TypeName(oid))
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case oidInt2:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 2)
		binary.BigEndian.PutUint16(out, uint16(n))
		return out, nil

	case oidInt4:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, uint32(n))
		return out, nil

	case oidInt8:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, uint64(n))
		return out, nil

	case oidOID:
		n, err := asUint32(v)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, n)
		return out, nil

	case oidFloat4:
		f, err := asFloat64(v)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, math.Float32bits(float32(f)))
		return out, nil

	case oidFloat8:
		f, err := asFloat64(v)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, math.Float64bits(f))
		return out, nil

	case oidChar, oidText, oidVarchar, oidBPChar, oidName, oidBytea:
		// text-family and bytea parameters are passed through unchanged,
		// per spec.md §4.6.
		switch s := v.(type) {
		case string:
			return []byte(s), nil
		case []byte:
			return s, nil
		default:
			return nil, fmt.Errorf("codec: expected string or []byte for %s", catalog.TypeName(oid))
		}

	case oidDate:
		return encodeDate(v)

	case oidTimestamp, oidTimestamptz:
		return encodeTimestamp(v)

	case oidPoint:
		p, ok := v.(Point)
		if !ok {
			return nil, fmt.Errorf("codec: expected codec.Point for point")
		}
		out := make([]byte, 16)
		binary.BigEndian.PutUint64(out[0:8], math.Float64bits(p.X))
		binary.BigEndian.PutUint64(out[8:16], math.Float64bits(p.Y))
		return out, nil

	case oidUUID:
		id, ok := v.(uuid.UUID)
		if !ok {
			return nil, fmt.Errorf("codec: expected uuid.UUID for uuid")
		}
		out := make([]byte, 16)
		copy(out, id[:])
		return out, nil

	case oidJSON, oidJSONB:
		body, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("codec: invalid json value: %w", err)
		}

		if oid == oidJSONB {
			return append([]byte{1}, body...), nil
		}

		return body, nil

	case oidNumeric:
		return encodeNumeric(v)

	default:
		return nil, unsupportedType(oid)
	}
}

func encodeDate(v any) ([]byte, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("codec: expected time.Time for date")
	}

	out := make([]byte, 4)
	days := int32((t.UTC().UnixMilli() - pgEpochMillis) / 86400000)
	binary.BigEndian.PutUint32(out, uint32(days))
	return out, nil
}

func encodeTimestamp(v any) ([]byte, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("codec: expected time.Time for timestamp")
	}

	out := make([]byte, 8)
	micros := (t.UTC().UnixMilli() - pgEpochMillis) * 1000
	binary.BigEndian.PutUint64(out, uint64(micros))
	return out, nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("codec: expected integer value, got %T", v)
	}
}

func asUint32(v any) (uint32, error) {
	n, err := asInt64(v)
	if err != nil {
		return 0, err
	}

	return uint32(n), nil
}

func asFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("codec: expected float value, got %T", v)
	}
}
