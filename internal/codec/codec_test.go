package codec

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tspg/pgcore/internal/catalog"
)

func roundTrip(t *testing.T, oid uint32, v any, format Format) any {
	t.Helper()
	registry := catalog.NewRegistry()

	encoded, err := Encode(oid, v, format, "UTF8")
	require.NoError(t, err)

	decoded, err := Decode(oid, encoded, format, "UTF8", registry)
	require.NoError(t, err)
	return decoded
}

func TestRoundTripScalarsBinary(t *testing.T) {
	require.Equal(t, true, roundTrip(t, oidBool, true, Binary))
	require.Equal(t, int16(7), roundTrip(t, oidInt2, int16(7), Binary))
	require.Equal(t, int32(-42), roundTrip(t, oidInt4, int32(-42), Binary))
	require.Equal(t, int64(9001), roundTrip(t, oidInt8, int64(9001), Binary))
	require.Equal(t, float32(1.5), roundTrip(t, oidFloat4, float32(1.5), Binary))
	require.Equal(t, 3.14159, roundTrip(t, oidFloat8, 3.14159, Binary))
	require.Equal(t, "hello", roundTrip(t, oidText, "hello", Binary))

	id := uuid.New()
	require.Equal(t, id, roundTrip(t, oidUUID, id, Binary))

	p := Point{X: 1.5, Y: -2.25}
	require.Equal(t, p, roundTrip(t, oidPoint, p, Binary))
}

func TestRoundTripDateTimestampBinary(t *testing.T) {
	ts := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	got := roundTrip(t, oidTimestamp, ts, Binary).(time.Time)
	require.True(t, ts.Equal(got))

	d := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	gotD := roundTrip(t, oidDate, d, Binary).(time.Time)
	require.True(t, d.Equal(gotD))
}

func TestDecodeNullIsNilRegardlessOfOID(t *testing.T) {
	registry := catalog.NewRegistry()
	v, err := Decode(oidInt4, nil, Binary, "UTF8", registry)
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestDecodeUserOIDWithoutReaderIsNull(t *testing.T) {
	registry := catalog.NewRegistry()
	v, err := Decode(20000, []byte{1, 2, 3}, Binary, "UTF8", registry)
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestDecodeUserOIDWithRegisteredReader(t *testing.T) {
	registry := catalog.NewRegistry()
	registry.Register(20000, func(raw []byte, format Format, encoding string) (any, error) {
		return string(raw) + "!", nil
	})

	v, err := Decode(20000, []byte("hi"), Binary, "UTF8", registry)
	require.NoError(t, err)
	require.Equal(t, "hi!", v)
}

func TestArrayRoundTripBinary3D(t *testing.T) {
	registry := catalog.NewRegistry()
	value := []any{
		[]any{
			[]any{int32(1), int32(2)},
			[]any{int32(3), int32(4)},
		},
		[]any{
			[]any{int32(5), int32(6)},
			[]any{int32(7), int32(8)},
		},
	}

	encoded, err := Encode(pgtypeInt4ArrayOID, value, Binary, "UTF8")
	require.NoError(t, err)

	decoded, err := Decode(pgtypeInt4ArrayOID, encoded, Binary, "UTF8", registry)
	require.NoError(t, err)
	require.Equal(t, value, decoded)
}

func TestArrayTextLiteral3D(t *testing.T) {
	registry := catalog.NewRegistry()
	raw := []byte("{{{1,2},{3,4}},{{5,6},{7,8}}}")

	decoded, err := Decode(pgtypeInt4ArrayOID, raw, Text, "UTF8", registry)
	require.NoError(t, err)

	expect := []any{
		[]any{
			[]any{int32(1), int32(2)},
			[]any{int32(3), int32(4)},
		},
		[]any{
			[]any{int32(5), int32(6)},
			[]any{int32(7), int32(8)},
		},
	}
	require.Equal(t, expect, decoded)
}

func TestArrayWithNullElement(t *testing.T) {
	registry := catalog.NewRegistry()
	value := []any{int32(1), nil, int32(3)}

	encoded, err := Encode(pgtypeInt4ArrayOID, value, Binary, "UTF8")
	require.NoError(t, err)

	decoded, err := Decode(pgtypeInt4ArrayOID, encoded, Binary, "UTF8", registry)
	require.NoError(t, err)
	require.Equal(t, value, decoded)
}

func TestHistoricalTimestamptzSubMinuteOffset(t *testing.T) {
	// 1893-03-31 22:46:55+00:53:27 -> 1893-03-31T21:53:28Z, per spec.md §8
	// scenario 10. Binary wire micros are computed directly here rather
	// than parsed, since the offset itself is stripped by the server
	// before the value ever reaches the wire in binary format.
	want := time.Date(1893, 3, 31, 21, 53, 28, 0, time.UTC)
	micros := (want.UnixMilli() - pgEpochMillis) * 1000

	raw := make([]byte, 8)
	for i := 0; i < 8; i++ {
		raw[7-i] = byte(micros >> (8 * i))
	}

	got, err := decodeTimestamp(raw)
	require.NoError(t, err)
	require.True(t, want.Equal(got.(time.Time)))
}

func TestRoundTripNumericBinary(t *testing.T) {
	cases := []string{"0", "1.50", "-1.5", "123456789012345.6789", "0.0001", "-0.0001", "100"}
	for _, s := range cases {
		d, err := decimal.NewFromString(s)
		require.NoError(t, err)

		got := roundTrip(t, oidNumeric, d, Binary).(decimal.Decimal)
		require.Truef(t, d.Equal(got), "round trip of %s: got %s", s, got)
	}
}

func TestDecodeNumericKnownWireBytes(t *testing.T) {
	// 1.50: ndigits=2, weight=0, sign=positive, dscale=2, digits=[1,5000].
	raw := []byte{
		0, 2, // ndigits
		0, 0, // weight
		0, 0, // sign
		0, 2, // dscale
		0, 1, // digit[0] = 1
		0x13, 0x88, // digit[1] = 5000
	}

	registry := catalog.NewRegistry()
	v, err := Decode(oidNumeric, raw, Binary, "UTF8", registry)
	require.NoError(t, err)

	d := v.(decimal.Decimal)
	require.True(t, decimal.RequireFromString("1.50").Equal(d))
	require.Equal(t, "1.50", d.StringFixed(-d.Exponent()))
}

func TestEncodeNumericZero(t *testing.T) {
	encoded, err := Encode(oidNumeric, decimal.NewFromInt(0), Binary, "UTF8")
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, encoded)
}

const pgtypeInt4ArrayOID = 1007
