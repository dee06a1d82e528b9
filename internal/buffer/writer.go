// Package buffer implements the frontend message encoder (C1 elastic output
// buffer + C4 wire encoder) and the backend message decoder (C5) used by the
// pipeline engine. It mirrors the Start/Add.../End message-building idiom of
// jeroenrinzema/psql-wire's pkg/buffer.Writer, generalized from building
// server (backend) messages to building client (frontend) messages, and
// backed by a hand-rolled elastic buffer instead of bytes.Buffer so the
// grow/shrink heuristics named by the wire-protocol specification are
// explicit and independently testable.
package buffer

import (
	"encoding/binary"
	"log/slog"

	"github.com/tspg/pgcore/internal/wiremsg"
)

// Elastic is a grow-on-demand contiguous byte buffer (C1). It hands out
// writable slices via Reserve/Advance, yields the written prefix via
// Consume, and never shrinks below a floor derived from the previous
// cycle's usage.
type Elastic struct {
	buf  []byte
	used int
}

const elasticMinAlloc = 4096

// NewElastic constructs an empty elastic buffer.
func NewElastic() *Elastic {
	return &Elastic{}
}

// Empty reports whether anything has been written since the last Consume.
func (e *Elastic) Empty() bool { return e.used == 0 }

// Len returns the number of bytes written since the last Consume.
func (e *Elastic) Len() int { return e.used }

// Reserve returns a writable slice of length n starting at the current
// write offset, growing the backing array (doubling until it fits) when
// there isn't enough spare capacity. The slice aliases the backing array;
// callers must Advance by however much of it they actually fill.
func (e *Elastic) Reserve(n int) []byte {
	needed := e.used + n
	if cap(e.buf) < needed {
		newCap := cap(e.buf)
		if newCap == 0 {
			newCap = elasticMinAlloc
		}

		for newCap < needed {
			newCap *= 2
		}

		nb := make([]byte, newCap)
		copy(nb, e.buf[:e.used])
		e.buf = nb
	} else if len(e.buf) < needed {
		e.buf = e.buf[:cap(e.buf)]
	}

	return e.buf[e.used:needed]
}

// Advance marks n bytes (previously handed out by Reserve) as written.
func (e *Elastic) Advance(n int) { e.used += n }

// Consume returns the contiguous slice of everything written and resets the
// buffer for the next message cycle. The next allocation floor shrinks to
// half of whatever was used this cycle, counting a cycle that used less
// than elasticMinAlloc as elasticMinAlloc, so a buffer that served one
// oversized message doesn't keep that capacity forever.
func (e *Elastic) Consume() []byte {
	out := e.buf[:e.used]

	shrinkFloor := e.used
	if shrinkFloor < elasticMinAlloc {
		shrinkFloor = elasticMinAlloc
	}
	shrinkFloor /= 2

	e.used = 0
	if cap(e.buf) >= shrinkFloor*2 {
		e.buf = make([]byte, 0, shrinkFloor)
	}

	return out
}

// Encoder builds frontend (client-to-server) wire messages directly into an
// Elastic buffer, avoiding the intermediate copy a bytes.Buffer-based
// builder would need. One Encoder is owned exclusively by the connection's
// pipeline engine.
type Encoder struct {
	logger *slog.Logger
	out    *Elastic
	start  int // offset of the current message's length field, -1 if none open
	err    error
}

// NewEncoder constructs an Encoder writing into out.
func NewEncoder(logger *slog.Logger, out *Elastic) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Encoder{logger: logger, out: out, start: -1}
}

// Start begins a new message of the given frontend type. Startup and
// SSLRequest messages have no leading type byte; use StartUntyped for
// those instead.
func (enc *Encoder) Start(t wiremsg.Frontend) {
	enc.err = nil
	b := enc.out.Reserve(5)
	b[0] = byte(t)
	enc.out.Advance(1)
	enc.start = enc.out.Len()
	enc.out.Advance(4) // length placeholder, patched in End
}

// StartUntyped begins a length-prefixed message without a leading type
// byte (Startup, SSLRequest, CancelRequest).
func (enc *Encoder) StartUntyped() {
	enc.err = nil
	enc.out.Reserve(4)
	enc.start = enc.out.Len()
	enc.out.Advance(4)
}

// Int8 writes a single byte.
func (enc *Encoder) Int8(v int8) {
	b := enc.out.Reserve(1)
	b[0] = byte(v)
	enc.out.Advance(1)
}

// Int16BE writes a big-endian int16.
func (enc *Encoder) Int16BE(v int16) {
	b := enc.out.Reserve(2)
	binary.BigEndian.PutUint16(b, uint16(v))
	enc.out.Advance(2)
}

// Int32BE writes a big-endian int32.
func (enc *Encoder) Int32BE(v int32) {
	b := enc.out.Reserve(4)
	binary.BigEndian.PutUint32(b, uint32(v))
	enc.out.Advance(4)
}

// UInt32BE writes a big-endian uint32.
func (enc *Encoder) UInt32BE(v uint32) {
	b := enc.out.Reserve(4)
	binary.BigEndian.PutUint32(b, v)
	enc.out.Advance(4)
}

// Int64BE writes a big-endian int64.
func (enc *Encoder) Int64BE(v int64) {
	b := enc.out.Reserve(8)
	binary.BigEndian.PutUint64(b, uint64(v))
	enc.out.Advance(8)
}

// Float4 writes a big-endian IEEE-754 single precision float.
func (enc *Encoder) Float4(v uint32) { enc.UInt32BE(v) }

// Float8 writes a big-endian IEEE-754 double precision float.
func (enc *Encoder) Float8(v uint64) {
	b := enc.out.Reserve(8)
	binary.BigEndian.PutUint64(b, v)
	enc.out.Advance(8)
}

// Buffer writes a raw byte slice.
func (enc *Encoder) Buffer(p []byte) {
	b := enc.out.Reserve(len(p))
	copy(b, p)
	enc.out.Advance(len(p))
}

// CString writes a null-terminated string.
func (enc *Encoder) CString(s string) {
	b := enc.out.Reserve(len(s) + 1)
	copy(b, s)
	b[len(s)] = 0
	enc.out.Advance(len(s) + 1)
}

// String writes a string without a terminator (use when a length prefix
// precedes it, e.g. a Bind parameter value).
func (enc *Encoder) String(s string) {
	b := enc.out.Reserve(len(s))
	copy(b, s)
	enc.out.Advance(len(s))
}

// End patches in the accumulated message length (inclusive of the length
// field itself, exclusive of any leading type byte) and returns any error
// raised while writing the message body.
func (enc *Encoder) End() error {
	if enc.err != nil {
		err := enc.err
		enc.err = nil
		return err
	}

	length := enc.out.Len() - enc.start
	raw := enc.out.buf[enc.start : enc.start+4]
	binary.BigEndian.PutUint32(raw, uint32(length))
	enc.start = -1
	return nil
}

// Consume flushes the accumulated message(s) as a single contiguous byte
// slice and resets the output buffer for the next cycle.
func (enc *Encoder) Consume() []byte { return enc.out.Consume() }

// Pending reports whether the output buffer holds unflushed bytes.
func (enc *Encoder) Pending() bool { return !enc.out.Empty() }
