package buffer

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Body is a cursor over a decoded message body, providing the same
// incremental Get* accessors as psql-wire's buffer.Reader but over an
// in-memory slice rather than a live stream (the stream framing already
// happened in Decoder.Next).
type Body struct {
	b []byte
}

// NewBody wraps msg for incremental parsing.
func NewBody(msg []byte) *Body { return &Body{b: msg} }

// Remaining returns the unconsumed tail of the body.
func (r *Body) Remaining() []byte { return r.b }

// Len reports how many bytes are left.
func (r *Body) Len() int { return len(r.b) }

// CString reads a null-terminated string and advances past it.
func (r *Body) CString() (string, error) {
	pos := bytes.IndexByte(r.b, 0)
	if pos == -1 {
		return "", fmt.Errorf("buffer: missing null terminator")
	}

	s := string(r.b[:pos])
	r.b = r.b[pos+1:]
	return s, nil
}

// Bytes returns the next n bytes and advances past them.
func (r *Body) Bytes(n int) ([]byte, error) {
	if len(r.b) < n {
		return nil, fmt.Errorf("buffer: insufficient data, need %d have %d", n, len(r.b))
	}

	v := r.b[:n]
	r.b = r.b[n:]
	return v, nil
}

// Byte reads a single byte.
func (r *Body) Byte() (byte, error) {
	v, err := r.Bytes(1)
	if err != nil {
		return 0, err
	}

	return v[0], nil
}

// Int16 reads a big-endian int16.
func (r *Body) Int16() (int16, error) {
	v, err := r.Bytes(2)
	if err != nil {
		return 0, err
	}

	return int16(binary.BigEndian.Uint16(v)), nil
}

// Uint16 reads a big-endian uint16.
func (r *Body) Uint16() (uint16, error) {
	v, err := r.Bytes(2)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(v), nil
}

// Int32 reads a big-endian int32.
func (r *Body) Int32() (int32, error) {
	v, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}

	return int32(binary.BigEndian.Uint32(v)), nil
}

// Uint32 reads a big-endian uint32.
func (r *Body) Uint32() (uint32, error) {
	v, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(v), nil
}

// Int64 reads a big-endian int64.
func (r *Body) Int64() (int64, error) {
	v, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}

	return int64(binary.BigEndian.Uint64(v)), nil
}
