// Package wiremsg names the PostgreSQL frontend/backend protocol v3.0
// message type codes, mirroring the layout of
// jeroenrinzema/psql-wire's pkg/types package but from the client's
// perspective: Frontend is what we send, Backend is what we parse.
package wiremsg

// Frontend represents a client-to-server message type code.
type Frontend byte

// Backend represents a server-to-client message type code.
type Backend byte

// http://www.postgresql.org/docs/current/static/protocol-message-formats.html
const (
	FrontendBind            Frontend = 'B'
	FrontendClose           Frontend = 'C'
	FrontendCopyData        Frontend = 'd'
	FrontendCopyDone        Frontend = 'c'
	FrontendCopyFail        Frontend = 'f'
	FrontendDescribe        Frontend = 'D'
	FrontendExecute         Frontend = 'E'
	FrontendFlush           Frontend = 'H'
	FrontendParse           Frontend = 'P'
	FrontendPassword        Frontend = 'p'
	FrontendSimpleQuery     Frontend = 'Q'
	FrontendSync            Frontend = 'S'
	FrontendTerminate       Frontend = 'X'
	FrontendSASLInitial     Frontend = 'p' // PasswordMessage type code is reused for SASL responses
	FrontendSASLResponse    Frontend = 'p'

	BackendAuth                 Backend = 'R'
	BackendBackendKeyData       Backend = 'K'
	BackendBindComplete         Backend = '2'
	BackendCommandComplete      Backend = 'C'
	BackendCloseComplete        Backend = '3'
	BackendCopyInResponse       Backend = 'G'
	BackendCopyOutResponse      Backend = 'H'
	BackendDataRow              Backend = 'D'
	BackendEmptyQueryResponse   Backend = 'I'
	BackendErrorResponse        Backend = 'E'
	BackendNoticeResponse       Backend = 'N'
	BackendNotificationResponse Backend = 'A'
	BackendNoData               Backend = 'n'
	BackendParameterDescription Backend = 't'
	BackendParameterStatus      Backend = 'S'
	BackendParseComplete        Backend = '1'
	BackendPortalSuspended      Backend = 's'
	BackendReadyForQuery        Backend = 'Z'
	BackendRowDescription       Backend = 'T'
)

// DescribeTarget is the second byte of a Describe/Close message body.
type DescribeTarget byte

const (
	DescribePortal    DescribeTarget = 'P'
	DescribeStatement DescribeTarget = 'S'
)

// TransactionStatus is the single status byte carried by ReadyForQuery.
type TransactionStatus byte

const (
	TxIdle          TransactionStatus = 'I'
	TxInTransaction TransactionStatus = 'T'
	TxInError       TransactionStatus = 'E'
)

// ProtocolVersion30 is the only frontend/backend protocol version this core
// speaks: major 3, minor 0.
const ProtocolVersion30 = 3<<16 | 0

// SSLRequestCode is the magic number sent in place of a protocol version to
// request a TLS upgrade before Startup.
const SSLRequestCode = 1234<<16 | 5679

func (m Frontend) String() string {
	switch m {
	case FrontendBind:
		return "Bind"
	case FrontendClose:
		return "Close"
	case FrontendCopyData:
		return "CopyData"
	case FrontendCopyDone:
		return "CopyDone"
	case FrontendCopyFail:
		return "CopyFail"
	case FrontendDescribe:
		return "Describe"
	case FrontendExecute:
		return "Execute"
	case FrontendFlush:
		return "Flush"
	case FrontendParse:
		return "Parse"
	case FrontendPassword:
		return "Password"
	case FrontendSimpleQuery:
		return "SimpleQuery"
	case FrontendSync:
		return "Sync"
	case FrontendTerminate:
		return "Terminate"
	default:
		return "Unknown"
	}
}

func (m Backend) String() string {
	switch m {
	case BackendAuth:
		return "Authentication"
	case BackendBackendKeyData:
		return "BackendKeyData"
	case BackendBindComplete:
		return "BindComplete"
	case BackendCommandComplete:
		return "CommandComplete"
	case BackendCloseComplete:
		return "CloseComplete"
	case BackendCopyInResponse:
		return "CopyInResponse"
	case BackendCopyOutResponse:
		return "CopyOutResponse"
	case BackendDataRow:
		return "DataRow"
	case BackendEmptyQueryResponse:
		return "EmptyQueryResponse"
	case BackendErrorResponse:
		return "ErrorResponse"
	case BackendNoticeResponse:
		return "NoticeResponse"
	case BackendNotificationResponse:
		return "NotificationResponse"
	case BackendNoData:
		return "NoData"
	case BackendParameterDescription:
		return "ParameterDescription"
	case BackendParameterStatus:
		return "ParameterStatus"
	case BackendParseComplete:
		return "ParseComplete"
	case BackendPortalSuspended:
		return "PortalSuspended"
	case BackendReadyForQuery:
		return "ReadyForQuery"
	case BackendRowDescription:
		return "RowDescription"
	default:
		return "Unknown"
	}
}
