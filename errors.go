package pgcore

import (
	"fmt"

	"github.com/tspg/pgcore/codes"
)

// Severity is a PostgreSQL error/notice severity level. It reuses the
// values jeroenrinzema/psql-wire's errors/levels.go defines for the server
// side of the same protocol field.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityFatal   Severity = "FATAL"
	SeverityPanic   Severity = "PANIC"
	SeverityWarning Severity = "WARNING"
	SeverityNotice  Severity = "NOTICE"
	SeverityDebug   Severity = "DEBUG"
	SeverityInfo    Severity = "INFO"
	SeverityLog     Severity = "LOG"
)

// ConfigurationError reports an invalid caller-supplied configuration: an
// Option given an invalid value (port, connect timeout, client encoding,
// statement prefix, logger or warn callback), SSLRequire against a server
// that refuses TLS, or a failure to create the SCRAM client nonce. A
// parameter value that does not fit its type (e.g. a malformed UUID
// string) is not reported here: it is sent in text format instead and
// the server decides whether to accept it.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return "pgcore: configuration error: " + e.Message }

// TransportError wraps a socket-level failure: a dial error, a write to a
// closed connection, or an unexpected stream destruction (spec.md §7).
type TransportError struct {
	Message string
	Cause   error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("pgcore: transport error: %s: %s", e.Message, e.Cause)
	}

	return "pgcore: transport error: " + e.Message
}

func (e *TransportError) Unwrap() error { return e.Cause }

// ProtocolError reports a violation of the wire protocol itself: an
// unexpected message type, an unparseable ErrorResponse, an unsupported
// authentication scheme, a SASL mechanism/nonce mismatch, or a malformed
// backend message (spec.md §7). Bytea sinks never raise one.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return "pgcore: protocol error: " + e.Message }

// DatabaseError is a structured ErrorResponse received from the server,
// parsed per spec.md §6's field table: severity, SQLSTATE code, and
// message (with detail appended when present). It carries the call-site
// descriptor captured when the failing query/prepare was submitted, so a
// caller inspecting a rejected result stream can see where it originated
// even though the error itself surfaced asynchronously.
type DatabaseError struct {
	Severity Severity
	Code     codes.Code
	Message  string
	Detail   string
	Hint     string
	CallSite string
}

func (e *DatabaseError) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}

	return fmt.Sprintf("pgcore: %s (%s): %s", e.Severity, e.Code, msg)
}

// TimeoutError reports that the configured connect timeout elapsed before
// the connection finished establishing (spec.md §8).
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string { return "pgcore: " + e.Message }

// parseErrorFields turns the raw {tag: value} fields of an ErrorResponse
// or NoticeResponse (spec.md §6) into a DatabaseError. callSite is the
// descriptor captured at the submission site of the request this error
// belongs to, or "" for errors not tied to a specific request (e.g. a
// NoticeResponse).
func parseErrorFields(fields map[byte]string, callSite string) *DatabaseError {
	severity := Severity(fields['V'])
	if severity == "" {
		severity = Severity(fields['S'])
	}

	return &DatabaseError{
		Severity: severity,
		Code:     codes.Code(fields['C']),
		Message:  fields['M'],
		Detail:   fields['D'],
		Hint:     fields['H'],
		CallSite: callSite,
	}
}
