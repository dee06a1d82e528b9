// Package catalog implements the type registry (C3): the static OID table,
// the array-OID to element-OID map, and the caller-registered per-OID
// reader extension point. It is grounded on jeroenrinzema/psql-wire's
// wire.go, which keeps a *pgtype.Map alongside the server's type-aware
// encoding; here the built-in array-OID/element-OID pairs are a literal
// table written with pgtype's OID constants, and github.com/lib/pq/oid
// supplies the human-readable type names used in "unsupported type" error
// messages.
package catalog

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lib/pq/oid"
)

// UserOIDCutoff is the first OID reserved for user-defined (non-built-in)
// types. Per spec.md §1's Non-goals, composite/enum OIDs at or above this
// cutoff decode as null unless a reader has been registered for them.
const UserOIDCutoff = 16384

// FormatCode selects between PostgreSQL's binary (1) and text (0) wire
// representations for a single column or parameter.
type FormatCode int16

const (
	FormatText   FormatCode = 0
	FormatBinary FormatCode = 1
)

// Reader decodes a single column's raw wire bytes into a Go value. Callers
// register one per custom OID via Registry.Register; it is the sole
// extension point for OIDs at or above UserOIDCutoff.
type Reader func(raw []byte, format FormatCode, encoding string) (any, error)

// arrayElement maps a PostgreSQL array type's OID to the OID of its
// element type, written with pgtype's built-in OID constants.
var arrayElement = map[uint32]uint32{
	pgtype.BoolArrayOID:        pgtype.BoolOID,
	pgtype.ByteaArrayOID:       pgtype.ByteaOID,
	pgtype.QCharArrayOID:       pgtype.QCharOID,
	pgtype.NameArrayOID:        pgtype.NameOID,
	pgtype.Int8ArrayOID:        pgtype.Int8OID,
	pgtype.Int2ArrayOID:        pgtype.Int2OID,
	pgtype.Int4ArrayOID:        pgtype.Int4OID,
	pgtype.TextArrayOID:        pgtype.TextOID,
	pgtype.OIDArrayOID:         pgtype.OIDOID,
	pgtype.JSONArrayOID:        pgtype.JSONOID,
	pgtype.Float4ArrayOID:      pgtype.Float4OID,
	pgtype.Float8ArrayOID:      pgtype.Float8OID,
	pgtype.BPCharArrayOID:      pgtype.BPCharOID,
	pgtype.VarcharArrayOID:     pgtype.VarcharOID,
	pgtype.DateArrayOID:        pgtype.DateOID,
	pgtype.TimestampArrayOID:   pgtype.TimestampOID,
	pgtype.TimestamptzArrayOID: pgtype.TimestamptzOID,
	pgtype.PointArrayOID:       pgtype.PointOID,
	pgtype.UUIDArrayOID:        pgtype.UUIDOID,
	pgtype.JSONBArrayOID:       pgtype.JSONBOID,
	pgtype.NumericArrayOID:     pgtype.NumericOID,
}

// ElementOID returns the element OID of arrayOID and true if arrayOID names
// a known built-in array type.
func ElementOID(arrayOID uint32) (uint32, bool) {
	el, ok := arrayElement[arrayOID]
	return el, ok
}

// IsArray reports whether oid is one of the built-in array types.
func IsArray(o uint32) bool {
	_, ok := arrayElement[o]
	return ok
}

// TypeName returns the catalog name for oid (e.g. "int4"), falling back to
// a numeric placeholder for unrecognized or user-defined OIDs.
func TypeName(o uint32) string {
	if name, ok := oid.TypeName[oid.Oid(o)]; ok {
		return strings.ToLower(name)
	}

	return fmt.Sprintf("oid(%d)", o)
}

// Registry holds caller-registered per-OID readers (C3's extension point
// for OIDs at or above UserOIDCutoff, and for overriding a built-in OID's
// default decoding).
type Registry struct {
	mu      sync.RWMutex
	readers map[uint32]Reader
}

// NewRegistry constructs an empty reader registry.
func NewRegistry() *Registry {
	return &Registry{readers: make(map[uint32]Reader)}
}

// Register installs reader as the decoder for values of the given OID.
func (r *Registry) Register(o uint32, reader Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[o] = reader
}

// Lookup returns the registered reader for o, if any.
func (r *Registry) Lookup(o uint32) (Reader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reader, ok := r.readers[o]
	return reader, ok
}

// Has reports whether a reader is registered for the given element OID,
// used to set the "user reader registered" bit (bit 29) in a packed column
// descriptor (spec.md §3).
func (r *Registry) Has(o uint32) bool {
	_, ok := r.Lookup(o)
	return ok
}

// PackedColumn builds the 32-bit packed column descriptor from spec.md §3:
// the effective OID (element OID for arrays) with bit 31 set if the column
// is an array and bit 29 set if a user reader is registered for the
// effective OID.
func (r *Registry) PackedColumn(columnOID uint32) uint32 {
	effective := columnOID
	isArray := false
	if el, ok := ElementOID(columnOID); ok {
		effective = el
		isArray = true
	}

	packed := effective
	if isArray {
		packed |= 1 << 31
	}

	if r.Has(effective) {
		packed |= 1 << 29
	}

	return packed
}

// UnpackColumn reverses PackedColumn, returning the effective OID, whether
// the column is an array, and whether a user reader is registered.
func UnpackColumn(packed uint32) (effectiveOID uint32, isArray bool, hasUserReader bool) {
	isArray = packed&(1<<31) != 0
	hasUserReader = packed&(1<<29) != 0
	effectiveOID = packed &^ (1<<31 | 1<<29)
	return effectiveOID, isArray, hasUserReader
}
