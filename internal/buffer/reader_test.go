package buffer

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tspg/pgcore/internal/wiremsg"
)

func frame(t byte, body []byte) []byte {
	out := make([]byte, 0, 5+len(body))
	out = append(out, t)
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(body)+4))
	out = append(out, length...)
	out = append(out, body...)
	return out
}

func TestDecoderNextSingleMessage(t *testing.T) {
	raw := frame('Z', []byte{'I'})
	d := NewDecoder(bytes.NewReader(raw))

	msg, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, wiremsg.BackendReadyForQuery, msg.Type)
	require.Equal(t, []byte{'I'}, msg.Body)
}

func TestDecoderNextAcrossMultipleMessages(t *testing.T) {
	var raw []byte
	raw = append(raw, frame('1', nil)...)
	raw = append(raw, frame('C', []byte("SELECT 1\x00"))...)
	d := NewDecoder(bytes.NewReader(raw))

	m1, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, wiremsg.BackendParseComplete, m1.Type)

	m2, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, wiremsg.BackendCommandComplete, m2.Type)
	require.Equal(t, "SELECT 1\x00", string(m2.Body))
}

// TestDecoderNextOnPartialReader exercises the partial-frame path: a reader
// that trickles bytes one at a time still yields a correctly framed
// message, which is the behavior spec.md's "retains the tail and requests
// more bytes" describes, achieved here via io.ReadFull over bufio.Reader.
func TestDecoderNextOnPartialReader(t *testing.T) {
	raw := frame('D', []byte{0, 1, 1, 2, 3, 4})
	d := NewDecoder(&stutterReader{data: raw})

	msg, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, wiremsg.BackendDataRow, msg.Type)
	require.Equal(t, []byte{0, 1, 1, 2, 3, 4}, msg.Body)
}

type stutterReader struct {
	data []byte
	pos  int
}

func (s *stutterReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}

	n := copy(p[:1], s.data[s.pos:])
	s.pos += n
	return n, nil
}

func TestDecoderCopyBodyStreamsWithoutBuffering(t *testing.T) {
	payload := bytes.Repeat([]byte{'x'}, 1<<20)
	raw := frame('d', payload)
	d := NewDecoder(bytes.NewReader(raw))

	// consume the 5-byte header manually to exercise CopyBody directly.
	header := make([]byte, 5)
	_, err := io.ReadFull(d.r, header)
	require.NoError(t, err)

	var out bytes.Buffer
	n, err := d.CopyBody(&out, int64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)
	require.Equal(t, payload, out.Bytes())
}

func TestDecoderRejectsOversizedMessage(t *testing.T) {
	header := make([]byte, 5)
	header[0] = 'D'
	binary.BigEndian.PutUint32(header[1:], uint32(MaxMessageSize)+5)
	d := NewDecoder(bytes.NewReader(header))

	_, err := d.Next()
	require.Error(t, err)
	var tooLarge *ErrMessageTooLarge
	require.ErrorAs(t, err, &tooLarge)
}
