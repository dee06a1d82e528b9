package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tspg/pgcore/internal/wiremsg"
)

func TestElasticGrowsByDoubling(t *testing.T) {
	e := NewElastic()
	b := e.Reserve(10)
	require.Len(t, b, 10)
	e.Advance(10)
	require.Equal(t, 10, e.Len())

	b2 := e.Reserve(100)
	require.Len(t, b2, 100)
	e.Advance(100)
	require.Equal(t, 110, e.Len())
}

func TestElasticConsumeResetsAndShrinks(t *testing.T) {
	e := NewElastic()
	b := e.Reserve(1 << 20)
	for i := range b {
		b[i] = byte(i)
	}
	e.Advance(len(b))

	out := e.Consume()
	require.Len(t, out, 1<<20)
	require.True(t, e.Empty())

	// next allocation should not retain the oversized capacity forever
	e.Reserve(1)
	require.Less(t, cap(e.buf), 1<<20)
}

func TestEncoderStartEndPatchesLength(t *testing.T) {
	out := NewElastic()
	enc := NewEncoder(nil, out)

	enc.Start(wiremsg.FrontendParse)
	enc.CString("")
	enc.CString("select 1")
	enc.Int16BE(0)
	require.NoError(t, enc.End())

	msg := enc.Consume()
	require.Equal(t, byte('P'), msg[0])

	length := int(msg[1])<<24 | int(msg[2])<<16 | int(msg[3])<<8 | int(msg[4])
	require.Equal(t, len(msg)-1, length)
}

func TestEncoderUntypedStartupMessage(t *testing.T) {
	out := NewElastic()
	enc := NewEncoder(nil, out)

	enc.StartUntyped()
	enc.Int32BE(wiremsg.ProtocolVersion30)
	enc.CString("user")
	enc.CString("alice")
	enc.Int8(0)
	require.NoError(t, enc.End())

	msg := enc.Consume()
	length := int(msg[0])<<24 | int(msg[1])<<16 | int(msg[2])<<8 | int(msg[3])
	require.Equal(t, len(msg), length)
}
