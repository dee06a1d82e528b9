// Package testserver implements a minimal fake PostgreSQL backend driven
// over a net.Conn (a TCP loopback connection in the tests), grounded on jeroenrinzema/psql-wire's internal/mock
// package: the same Reader/Writer split over a raw net.Conn, but playing
// the opposite role this time (a scripted server responding to a real
// pgcore.Conn rather than a test client driving psql-wire's listener).
// It exists so the connection lifecycle and pipeline engine can be
// exercised end-to-end without a real postgres server.
package testserver

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// Frame is one type-prefixed backend or frontend message as read directly
// off the wire, type == 0 for the untyped Startup/SSLRequest preamble.
type Frame struct {
	Type byte
	Body []byte
}

// Server is the fake backend end of a connection. Tests drive it by calling
// its Read*/Send* helpers in the same order the real protocol exchange
// would happen.
type Server struct {
	conn net.Conn
}

// New wraps conn (the server's end of a connection whose other end belongs
// to the Conn under test).
func New(conn net.Conn) *Server { return &Server{conn: conn} }

// Close closes the server's end of the connection.
func (s *Server) Close() error { return s.conn.Close() }

// ReadStartup reads the untyped length-prefixed Startup (or SSLRequest)
// message and returns its body (the 4-byte protocol/SSL code followed by
// any parameters).
func (s *Server) ReadStartup() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(s.conn, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("testserver: reading startup length: %w", err)
	}

	size := int(binary.BigEndian.Uint32(lenBuf[:])) - 4
	body := make([]byte, size)
	if _, err := io.ReadFull(s.conn, body); err != nil {
		return nil, fmt.Errorf("testserver: reading startup body: %w", err)
	}

	return body, nil
}

// ReadFrame reads one type-prefixed frontend message.
func (s *Server) ReadFrame() (Frame, error) {
	var header [5]byte
	if _, err := io.ReadFull(s.conn, header[:]); err != nil {
		return Frame{}, err
	}

	size := int(binary.BigEndian.Uint32(header[1:5])) - 4
	body := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(s.conn, body); err != nil {
			return Frame{}, err
		}
	}

	return Frame{Type: header[0], Body: body}, nil
}

// SendRaw writes type-prefixed bytes as-is: a 1-byte type code, a 4-byte
// big-endian length (inclusive of itself), then body.
func (s *Server) SendRaw(typ byte, body []byte) error {
	header := make([]byte, 5)
	header[0] = typ
	binary.BigEndian.PutUint32(header[1:], uint32(len(body)+4))

	if _, err := s.conn.Write(header); err != nil {
		return err
	}

	if len(body) == 0 {
		return nil
	}

	_, err := s.conn.Write(body)
	return err
}

// SendAuthenticationOK writes AuthenticationOk (R, status 0).
func (s *Server) SendAuthenticationOK() error {
	body := make([]byte, 4)
	return s.SendRaw('R', body)
}

// SendAuthenticationCleartext writes AuthenticationCleartextPassword.
func (s *Server) SendAuthenticationCleartext() error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, 3)
	return s.SendRaw('R', body)
}

// SendAuthenticationMD5 writes AuthenticationMD5Password with the given
// 4-byte salt.
func (s *Server) SendAuthenticationMD5(salt [4]byte) error {
	body := make([]byte, 8)
	binary.BigEndian.PutUint32(body, 5)
	copy(body[4:], salt[:])
	return s.SendRaw('R', body)
}

// SendParameterStatus writes a ParameterStatus message.
func (s *Server) SendParameterStatus(name, value string) error {
	body := append(append([]byte(name), 0), append([]byte(value), 0)...)
	return s.SendRaw('S', body)
}

// SendBackendKeyData writes BackendKeyData.
func (s *Server) SendBackendKeyData(pid, secret int32) error {
	body := make([]byte, 8)
	binary.BigEndian.PutUint32(body[0:4], uint32(pid))
	binary.BigEndian.PutUint32(body[4:8], uint32(secret))
	return s.SendRaw('K', body)
}

// SendReadyForQuery writes ReadyForQuery with the given transaction status
// byte ('I', 'T', or 'E').
func (s *Server) SendReadyForQuery(status byte) error {
	return s.SendRaw('Z', []byte{status})
}

// SendErrorResponse writes an ErrorResponse built from the given
// severity/code/message fields.
func (s *Server) SendErrorResponse(severity, code, message string) error {
	var body []byte
	body = append(body, 'S')
	body = append(body, severity...)
	body = append(body, 0)
	body = append(body, 'V')
	body = append(body, severity...)
	body = append(body, 0)
	body = append(body, 'C')
	body = append(body, code...)
	body = append(body, 0)
	body = append(body, 'M')
	body = append(body, message...)
	body = append(body, 0)
	body = append(body, 0) // terminator
	return s.SendRaw('E', body)
}

// SendRowDescription writes a RowDescription naming the given columns, all
// typed with the given OID and the given format code.
func (s *Server) SendRowDescription(names []string, oid uint32, format int16) error {
	body := make([]byte, 2)
	binary.BigEndian.PutUint16(body, uint16(len(names)))

	for _, name := range names {
		field := make([]byte, 0, len(name)+1+18)
		field = append(field, name...)
		field = append(field, 0)
		field = append(field, 0, 0, 0, 0) // table OID
		field = append(field, 0, 0)       // column attr number
		tmp := make([]byte, 4)
		binary.BigEndian.PutUint32(tmp, oid)
		field = append(field, tmp...)
		field = append(field, 0xFF, 0xFF) // type size (-1, variable)
		field = append(field, 0, 0, 0, 0) // type modifier
		fmtBytes := make([]byte, 2)
		binary.BigEndian.PutUint16(fmtBytes, uint16(format))
		field = append(field, fmtBytes...)

		body = append(body, field...)
	}

	return s.SendRaw('T', body)
}

// SendDataRow writes a DataRow whose column values are the given raw
// binary-format byte slices (nil means SQL NULL).
func (s *Server) SendDataRow(values [][]byte) error {
	body := make([]byte, 2)
	binary.BigEndian.PutUint16(body, uint16(len(values)))

	for _, v := range values {
		lenBuf := make([]byte, 4)
		if v == nil {
			binary.BigEndian.PutUint32(lenBuf, uint32(0xFFFFFFFF))
			body = append(body, lenBuf...)
			continue
		}

		binary.BigEndian.PutUint32(lenBuf, uint32(len(v)))
		body = append(body, lenBuf...)
		body = append(body, v...)
	}

	return s.SendRaw('D', body)
}

// SendCommandComplete writes CommandComplete with the given command tag.
func (s *Server) SendCommandComplete(tag string) error {
	return s.SendRaw('C', append([]byte(tag), 0))
}

// SendParseComplete writes ParseComplete ('1', empty body).
func (s *Server) SendParseComplete() error { return s.SendRaw('1', nil) }

// SendBindComplete writes BindComplete ('2', empty body).
func (s *Server) SendBindComplete() error { return s.SendRaw('2', nil) }

// SendParameterDescription writes ParameterDescription naming the given
// parameter OIDs.
func (s *Server) SendParameterDescription(oids []uint32) error {
	body := make([]byte, 2)
	binary.BigEndian.PutUint16(body, uint16(len(oids)))

	for _, oid := range oids {
		tmp := make([]byte, 4)
		binary.BigEndian.PutUint32(tmp, oid)
		body = append(body, tmp...)
	}

	return s.SendRaw('t', body)
}

// SendNoticeResponse writes a NoticeResponse carrying the given message.
func (s *Server) SendNoticeResponse(severity, code, message string) error {
	var body []byte
	body = append(body, 'S')
	body = append(body, severity...)
	body = append(body, 0)
	body = append(body, 'C')
	body = append(body, code...)
	body = append(body, 0)
	body = append(body, 'M')
	body = append(body, message...)
	body = append(body, 0)
	body = append(body, 0)
	return s.SendRaw('N', body)
}

// SendNotificationResponse writes a NotificationResponse for LISTEN/NOTIFY
// delivery.
func (s *Server) SendNotificationResponse(pid int32, channel, payload string) error {
	var body []byte
	tmp := make([]byte, 4)
	binary.BigEndian.PutUint32(tmp, uint32(pid))
	body = append(body, tmp...)
	body = append(body, channel...)
	body = append(body, 0)
	body = append(body, payload...)
	body = append(body, 0)
	return s.SendRaw('A', body)
}

// Handshake performs the standard unauthenticated handshake: read Startup,
// send AuthenticationOk, a couple of ParameterStatus messages, then
// BackendKeyData and ReadyForQuery(idle).
func (s *Server) Handshake() error {
	if _, err := s.ReadStartup(); err != nil {
		return err
	}

	if err := s.SendAuthenticationOK(); err != nil {
		return err
	}

	if err := s.SendParameterStatus("server_version", "16.0"); err != nil {
		return err
	}

	if err := s.SendParameterStatus("client_encoding", "UTF8"); err != nil {
		return err
	}

	if err := s.SendBackendKeyData(1234, 5678); err != nil {
		return err
	}

	return s.SendReadyForQuery('I')
}
