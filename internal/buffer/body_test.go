package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBodyAccessors(t *testing.T) {
	raw := []byte("name\x00")
	raw = append(raw, 0, 0, 0, 42)
	raw = append(raw, 0, 7)
	raw = append(raw, 1, 2, 3)

	b := NewBody(raw)

	s, err := b.CString()
	require.NoError(t, err)
	require.Equal(t, "name", s)

	i32, err := b.Int32()
	require.NoError(t, err)
	require.Equal(t, int32(42), i32)

	u16, err := b.Uint16()
	require.NoError(t, err)
	require.Equal(t, uint16(7), u16)

	rest, err := b.Bytes(3)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, rest)
	require.Equal(t, 0, b.Len())
}

func TestBodyMissingNullTerminator(t *testing.T) {
	b := NewBody([]byte{1, 2, 3})
	_, err := b.CString()
	require.Error(t, err)
}

func TestBodyInsufficientData(t *testing.T) {
	b := NewBody([]byte{1})
	_, err := b.Int32()
	require.Error(t, err)
}
