package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestElementOIDKnownArray(t *testing.T) {
	el, ok := ElementOID(1007) // _int4
	require.True(t, ok)
	require.EqualValues(t, 23, el) // int4
}

func TestElementOIDUnknownIsNotArray(t *testing.T) {
	_, ok := ElementOID(23) // int4 itself is not an array OID
	require.False(t, ok)
	require.False(t, IsArray(23))
}

func TestTypeNameKnownAndFallback(t *testing.T) {
	require.Equal(t, "int4", TypeName(23))
	require.Equal(t, "oid(987654321)", TypeName(987654321))
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.False(t, r.Has(20000))

	r.Register(20000, func(raw []byte, format FormatCode, encoding string) (any, error) {
		return string(raw), nil
	})

	require.True(t, r.Has(20000))
	reader, ok := r.Lookup(20000)
	require.True(t, ok)

	v, err := reader([]byte("hi"), FormatText, "UTF8")
	require.NoError(t, err)
	require.Equal(t, "hi", v)
}

func TestPackedColumnRoundTripScalar(t *testing.T) {
	r := NewRegistry()
	packed := r.PackedColumn(23) // int4, not an array, no reader

	effective, isArray, hasReader := UnpackColumn(packed)
	require.EqualValues(t, 23, effective)
	require.False(t, isArray)
	require.False(t, hasReader)
}

func TestPackedColumnRoundTripArrayWithReader(t *testing.T) {
	r := NewRegistry()
	r.Register(23, func(raw []byte, format FormatCode, encoding string) (any, error) {
		return nil, nil
	})

	packed := r.PackedColumn(1007) // _int4, element 23, reader registered on 23

	effective, isArray, hasReader := UnpackColumn(packed)
	require.EqualValues(t, 23, effective)
	require.True(t, isArray)
	require.True(t, hasReader)
}

func TestUserOIDCutoffConstant(t *testing.T) {
	require.Equal(t, 16384, UserOIDCutoff)
}
