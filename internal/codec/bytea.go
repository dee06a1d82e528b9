package codec

import "io"

// Sink is a column-value destination a caller may supply for a bytea
// column instead of receiving the whole value as a single []byte; the
// pipeline engine streams column bytes into it directly as they arrive
// off the wire (spec.md §4.6 "Bytea streaming"), bounding memory use for
// arbitrarily large values. It is satisfied by any io.Writer.
type Sink = io.Writer

// IsByteaOID reports whether oid identifies the bytea scalar type, used by
// the engine to route a column into its caller-provided sink only when the
// column is bytea (a sink named for any other column is ignored).
func IsByteaOID(oid uint32) bool { return oid == oidBytea }

// IsInt8OID reports whether oid identifies the int8/bigint scalar type,
// used by the engine to honor Config.Bigints=false by re-rendering a
// decoded int64 as a string instead.
func IsInt8OID(oid uint32) bool { return oid == oidInt8 }
