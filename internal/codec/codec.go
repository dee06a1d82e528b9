// Package codec implements the binary and text value codec (C6): scalar
// and N-dimensional array encode/decode for PostgreSQL's built-in types,
// plus the streaming path for large bytea columns. It is grounded on
// jeroenrinzema/psql-wire's row.go/format.go (the Column.Write
// format-dispatch idiom, generalized from encoding server responses to
// decoding client-observed rows) and on the OID constants of
// github.com/jackc/pgx/v5/pgtype.
package codec

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/tspg/pgcore/internal/catalog"
)

// Format mirrors catalog.FormatCode locally so callers of this package
// don't need to import catalog just to pick text vs binary.
type Format = catalog.FormatCode

const (
	Text   = catalog.FormatText
	Binary = catalog.FormatBinary
)

// Decode converts the raw wire bytes for a column of the given OID into a
// Go value. raw == nil represents SQL NULL and always decodes to nil
// regardless of format or OID. OIDs at or above catalog.UserOIDCutoff
// without a registered reader decode as null, per spec.md §1's Non-goals.
func Decode(oid uint32, raw []byte, format Format, encoding string, registry *catalog.Registry) (any, error) {
	if raw == nil {
		return nil, nil
	}

	if reader, ok := registry.Lookup(oid); ok {
		return reader(raw, format, encoding)
	}

	if oid >= catalog.UserOIDCutoff {
		return nil, nil
	}

	if el, isArray := catalog.ElementOID(oid); isArray {
		return decodeArray(el, raw, format, encoding, registry)
	}

	if format == Text {
		return decodeText(oid, raw, encoding)
	}

	return decodeBinaryScalar(oid, raw, encoding)
}

// Encode converts a Go value into the wire bytes for a parameter of the
// given OID and format. A nil value always encodes to a nil slice (SQL
// NULL) regardless of OID.
func Encode(oid uint32, v any, format Format, encoding string) ([]byte, error) {
	if v == nil {
		return nil, nil
	}

	if el, isArray := catalog.ElementOID(oid); isArray {
		return encodeArray(el, v, format, encoding)
	}

	if format == Text {
		return encodeText(oid, v, encoding)
	}

	return encodeBinaryScalar(oid, v, encoding)
}

// InferOID returns the built-in OID matching v's concrete Go type, or 0 if
// none is known. A parameter sent with OID 0 in Parse lets the server
// infer its type from how it's used in the query, the same fallback
// lib/pq uses for untyped query parameters.
func InferOID(v any) uint32 {
	switch v.(type) {
	case bool:
		return oidBool
	case int16:
		return oidInt2
	case int32:
		return oidInt4
	case int, int64:
		return oidInt8
	case uint32:
		return oidOID
	case float32:
		return oidFloat4
	case float64:
		return oidFloat8
	case string:
		return oidText
	case []byte:
		return oidBytea
	case Point:
		return oidPoint
	case decimal.Decimal:
		return oidNumeric
	default:
		return 0
	}
}

// EncodeParamText renders v as a text-format parameter value, inferring
// its OID along the way. It is the fallback path used when a query
// parameter's binary OID isn't known ahead of Bind time.
func EncodeParamText(v any) ([]byte, uint32, error) {
	if v == nil {
		return nil, 0, nil
	}

	oid := InferOID(v)
	return []byte(stringifyScalar(oid, v)), oid, nil
}

func unsupportedType(oid uint32) error {
	return fmt.Errorf("codec: unsupported type %s for binary encoding", catalog.TypeName(oid))
}

// builtin OID shorthands used across this package, re-exported from pgtype
// so call sites read as type names rather than magic numbers.
const (
	oidBool        = pgtype.BoolOID
	oidBytea       = pgtype.ByteaOID
	oidChar        = pgtype.QCharOID
	oidName        = pgtype.NameOID
	oidInt8        = pgtype.Int8OID
	oidInt2        = pgtype.Int2OID
	oidInt4        = pgtype.Int4OID
	oidText        = pgtype.TextOID
	oidOID         = pgtype.OIDOID
	oidJSON        = pgtype.JSONOID
	oidFloat4      = pgtype.Float4OID
	oidFloat8      = pgtype.Float8OID
	oidBPChar      = pgtype.BPCharOID
	oidVarchar     = pgtype.VarcharOID
	oidDate        = pgtype.DateOID
	oidTimestamp   = pgtype.TimestampOID
	oidTimestamptz = pgtype.TimestamptzOID
	oidPoint       = pgtype.PointOID
	oidUUID        = pgtype.UUIDOID
	oidJSONB       = pgtype.JSONBOID
	oidNumeric     = pgtype.NumericOID
)
