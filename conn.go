package pgcore

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/tspg/pgcore/internal/auth"
	"github.com/tspg/pgcore/internal/buffer"
	"github.com/tspg/pgcore/internal/catalog"
	"github.com/tspg/pgcore/internal/codec"
	"github.com/tspg/pgcore/internal/wiremsg"
)

type connPhase int

const (
	phaseConnecting connPhase = iota
	phaseReady
	phaseClosed
	phaseErrored
)

// Notification is one LISTEN/NOTIFY delivery (spec.md §4 supplement).
type Notification struct {
	ProcessID int32
	Channel   string
	Payload   string
}

// Conn is a single PostgreSQL connection speaking the pipelined extended
// query protocol (C9/C10). One Conn is not meant to be shared across many
// concurrent high-level operations the way a pool would be, but its
// internal engine does allow several Query/Prepare calls to be in flight
// on it at once: each call's Parse/Bind/Describe/Execute/Sync group is
// written and queued atomically under mu, and the dedicated receive loop
// goroutine takes the same mu to dispatch each response against the
// engine state, so submission order and response order stay in lock-step.
type Conn struct {
	cfg      Config
	registry *catalog.Registry

	netConn net.Conn
	enc     *buffer.Encoder
	out     *buffer.Elastic
	dec     *buffer.Decoder

	mu  sync.Mutex
	eng *engine

	parameters        map[string]string
	processID         int32
	secretKey         int32
	transactionStatus wiremsg.TransactionStatus
	phase             connPhase

	readyCh      chan struct{}
	readLoopDone chan struct{}
	readLoopErr  error
	closeOnce    sync.Once

	preparedCounter int64

	onError        func(*DatabaseError)
	onNotice       func(*DatabaseError)
	onNotification func(Notification)
}

// Connect dials, optionally negotiates TLS, performs the Startup/auth
// handshake, and blocks until the server's first ReadyForQuery — mirroring
// the synchronous "connect resolves once ready" contract of spec.md §4.1.
func Connect(ctx context.Context, cfg *Config) (*Conn, error) {
	dialer := net.Dialer{}
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	netConn, err := dialer.DialContext(ctx, "tcp", cfg.address())
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TimeoutError{Message: "connect timed out dialing " + cfg.address()}
		}
		return nil, &TransportError{Message: "dialing " + cfg.address(), Cause: err}
	}

	if tcp, ok := netConn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(cfg.KeepAlive)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
		defer netConn.SetDeadline(time.Time{})
	}

	c := &Conn{
		cfg:        *cfg,
		registry:   catalog.NewRegistry(),
		netConn:    netConn,
		out:        buffer.NewElastic(),
		eng:        newEngine(),
		parameters: make(map[string]string),
		readyCh:    make(chan struct{}),
		phase:      phaseConnecting,
	}
	c.enc = buffer.NewEncoder(c.cfg.Logger, c.out)

	if err := c.negotiate(ctx); err != nil {
		netConn.Close()
		return nil, timeoutOr(ctx, cfg.address(), err)
	}

	c.dec = buffer.NewDecoder(c.netConn)

	if err := c.startup(); err != nil {
		netConn.Close()
		return nil, timeoutOr(ctx, cfg.address(), err)
	}

	if err := c.authenticate(); err != nil {
		netConn.Close()
		return nil, timeoutOr(ctx, cfg.address(), err)
	}

	c.readLoopDone = make(chan struct{})
	go c.readLoop()

	select {
	case <-c.readyCh:
	case <-ctx.Done():
		c.netConn.Close()
		return nil, &TimeoutError{Message: "connect timed out waiting for ready-for-query"}
	case <-c.readLoopDone:
		if c.readLoopErr != nil {
			return nil, c.readLoopErr
		}
		return nil, &TransportError{Message: "connection closed before ready-for-query"}
	}

	return c, nil
}

// negotiate performs the optional SSLRequest preamble per Config.SSL.
func (c *Conn) negotiate(ctx context.Context) error {
	if c.cfg.SSL == SSLDisable {
		return nil
	}

	c.enc.StartUntyped()
	c.enc.Int32BE(int32(wiremsg.SSLRequestCode))
	if err := c.enc.End(); err != nil {
		return &ProtocolError{Message: err.Error()}
	}

	if _, err := c.netConn.Write(c.enc.Consume()); err != nil {
		return &TransportError{Message: "writing SSLRequest", Cause: err}
	}

	reply := make([]byte, 1)
	if _, err := c.netConn.Read(reply); err != nil {
		return &TransportError{Message: "reading SSLRequest reply", Cause: err}
	}

	switch reply[0] {
	case 'S':
		tlsCfg := c.cfg.TLS
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: c.cfg.Host}
		}
		tlsConn := tls.Client(c.netConn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return &TransportError{Message: "TLS handshake", Cause: err}
		}
		c.netConn = tlsConn
		return nil

	case 'N':
		if c.cfg.SSL == SSLRequire {
			return &ConfigurationError{Message: "server does not support SSL and SSLRequire was set"}
		}
		return nil

	default:
		return &ProtocolError{Message: fmt.Sprintf("unexpected SSLRequest reply byte %q", reply[0])}
	}
}

func (c *Conn) startup() error {
	c.enc.StartUntyped()
	c.enc.Int32BE(int32(wiremsg.ProtocolVersion30))
	c.enc.CString("user")
	c.enc.CString(c.cfg.User)
	c.enc.CString("database")
	c.enc.CString(c.cfg.Database)
	c.enc.CString("client_encoding")
	c.enc.CString(c.cfg.ClientEncoding)

	for k, v := range c.cfg.RuntimeParameters {
		c.enc.CString(k)
		c.enc.CString(v)
	}

	c.enc.Buffer([]byte{0})
	if err := c.enc.End(); err != nil {
		return &ProtocolError{Message: err.Error()}
	}

	_, err := c.netConn.Write(c.enc.Consume())
	if err != nil {
		return &TransportError{Message: "writing Startup message", Cause: err}
	}

	return nil
}

// authenticate consumes AuthenticationXxx messages up to and including
// AuthenticationOk, responding to MD5/SCRAM challenges along the way
// (spec.md §4.7).
func (c *Conn) authenticate() error {
	for {
		msg, err := c.dec.Next()
		if err != nil {
			return &TransportError{Message: "reading authentication response", Cause: err}
		}

		if msg.Type != wiremsg.BackendAuth {
			if msg.Type == wiremsg.BackendErrorResponse {
				fields, ferr := parseFieldedMessage(buffer.NewBody(msg.Body))
				if ferr != nil {
					return ferr
				}
				return parseErrorFields(fields, "")
			}
			return &ProtocolError{Message: fmt.Sprintf("unexpected message %s during authentication", msg.Type)}
		}

		body := buffer.NewBody(msg.Body)
		status, err := body.Int32()
		if err != nil {
			return &ProtocolError{Message: "malformed Authentication message: " + err.Error()}
		}

		switch status {
		case 0: // AuthenticationOk
			return nil

		case 3: // AuthenticationCleartextPassword
			if err := c.sendPasswordMessage(c.cfg.Password); err != nil {
				return err
			}

		case 5: // AuthenticationMD5Password
			saltBytes, err := body.Bytes(4)
			if err != nil {
				return &ProtocolError{Message: "malformed AuthenticationMD5Password: " + err.Error()}
			}
			var salt [4]byte
			copy(salt[:], saltBytes)

			response := auth.MD5Password(c.cfg.User, c.cfg.Password, salt)
			if err := c.sendPasswordMessage(response); err != nil {
				return err
			}

		case 10: // AuthenticationSASL
			mechanisms, err := readSASLMechanisms(body)
			if err != nil {
				return err
			}
			if !auth.SupportsMechanism(mechanisms) {
				return &ProtocolError{Message: "server does not offer SCRAM-SHA-256"}
			}

			if err := c.performSCRAM(); err != nil {
				return err
			}
			return nil

		default:
			return &ProtocolError{Message: fmt.Sprintf("unsupported authentication method %d", status)}
		}
	}
}

func readSASLMechanisms(body *buffer.Body) ([]string, error) {
	var mechanisms []string
	for {
		m, err := body.CString()
		if err != nil {
			return nil, &ProtocolError{Message: "malformed AuthenticationSASL: " + err.Error()}
		}
		if m == "" {
			return mechanisms, nil
		}
		mechanisms = append(mechanisms, m)
	}
}

func (c *Conn) performSCRAM() error {
	clientNonce, err := auth.NewClientNonce()
	if err != nil {
		return &ConfigurationError{Message: err.Error()}
	}

	first := auth.ClientFirstMessage(clientNonce)

	c.enc.Start(wiremsg.FrontendSASLInitial)
	c.enc.CString(auth.SCRAMMechanism)
	c.enc.Int32BE(int32(len(first)))
	c.enc.String(first)
	if err := c.enc.End(); err != nil {
		return &ProtocolError{Message: err.Error()}
	}
	if _, err := c.netConn.Write(c.enc.Consume()); err != nil {
		return &TransportError{Message: "writing SASLInitialResponse", Cause: err}
	}

	msg, err := c.dec.Next()
	if err != nil {
		return &TransportError{Message: "reading SASLContinue", Cause: err}
	}
	if msg.Type != wiremsg.BackendAuth {
		return &ProtocolError{Message: "expected AuthenticationSASLContinue"}
	}

	body := buffer.NewBody(msg.Body)
	status, err := body.Int32()
	if err != nil || status != 11 {
		return &ProtocolError{Message: "expected AuthenticationSASLContinue"}
	}

	serverFirstMsg := string(body.Remaining())
	serverFirst, err := auth.ParseServerFirst(serverFirstMsg, clientNonce)
	if err != nil {
		return &ProtocolError{Message: err.Error()}
	}

	final := auth.ComputeClientFinal(c.cfg.Password, clientNonce, serverFirstMsg, serverFirst)

	c.enc.Start(wiremsg.FrontendSASLResponse)
	c.enc.String(final.Message)
	if err := c.enc.End(); err != nil {
		return &ProtocolError{Message: err.Error()}
	}
	if _, err := c.netConn.Write(c.enc.Consume()); err != nil {
		return &TransportError{Message: "writing SASLResponse", Cause: err}
	}

	msg, err = c.dec.Next()
	if err != nil {
		return &TransportError{Message: "reading SASLFinal", Cause: err}
	}
	if msg.Type != wiremsg.BackendAuth {
		return &ProtocolError{Message: "expected AuthenticationSASLFinal"}
	}

	body = buffer.NewBody(msg.Body)
	status, err = body.Int32()
	if err != nil || status != 12 {
		return &ProtocolError{Message: "expected AuthenticationSASLFinal"}
	}

	if err := auth.VerifyServerFinal(string(body.Remaining()), final.ServerSignature); err != nil {
		return &ProtocolError{Message: err.Error()}
	}

	msg, err = c.dec.Next()
	if err != nil {
		return &TransportError{Message: "reading AuthenticationOk", Cause: err}
	}
	if msg.Type != wiremsg.BackendAuth {
		return &ProtocolError{Message: "expected AuthenticationOk"}
	}

	body = buffer.NewBody(msg.Body)
	status, err = body.Int32()
	if err != nil || status != 0 {
		return &ProtocolError{Message: "expected AuthenticationOk after SCRAM"}
	}

	return nil
}

func (c *Conn) sendPasswordMessage(s string) error {
	c.enc.Start(wiremsg.FrontendPassword)
	c.enc.CString(s)
	if err := c.enc.End(); err != nil {
		return &ProtocolError{Message: err.Error()}
	}

	if _, err := c.netConn.Write(c.enc.Consume()); err != nil {
		return &TransportError{Message: "writing PasswordMessage", Cause: err}
	}

	return nil
}

// readLoop is the sole reader of c.netConn once the connection is
// established and dispatches every backend message to the engine under
// c.mu; it runs for the lifetime of the Conn.
func (c *Conn) readLoop() {
	defer close(c.readLoopDone)

	for {
		typ, size, err := c.dec.ReadHeader()
		if err != nil {
			c.handleReadLoopError(err)
			return
		}

		if typ == wiremsg.BackendDataRow && c.hasActiveSink() {
			if err := c.readDataRowStreaming(); err != nil {
				if isTransportFailure(err) {
					c.handleReadLoopError(err)
					return
				}
				c.warn("pgcore: dispatch error", "error", err)
			}
			continue
		}

		body, err := c.dec.ReadBody(size)
		if err != nil {
			c.handleReadLoopError(err)
			return
		}

		c.mu.Lock()
		if err := c.dispatch(buffer.Message{Type: typ, Body: body}); err != nil {
			c.mu.Unlock()
			c.warn("pgcore: dispatch error", "error", err)
			continue
		}
		c.mu.Unlock()
	}
}

// handleReadLoopError classifies a socket-read failure as either the
// expected result of a graceful End() (suppressed, mirroring spec.md §4.10's
// "ECONNRESET during intentional end is suppressed") or an unexpected
// transport failure that must fail every in-flight request.
func (c *Conn) handleReadLoopError(err error) {
	c.mu.Lock()
	intentional := c.phase == phaseClosed
	c.mu.Unlock()

	if !intentional {
		c.readLoopErr = &TransportError{Message: "connection closed unexpectedly", Cause: err}
		c.failAllInFlight(c.readLoopErr)
	}
}

// warn logs msg at Warn level through cfg.Logger and, if the caller has
// registered one, also flattens msg plus args into a plain string for
// cfg.Warn — the callback collaborator for callers who don't want to wire
// slog.
func (c *Conn) warn(msg string, args ...any) {
	c.cfg.Logger.Warn(msg, args...)
	if c.cfg.Warn == nil {
		return
	}

	s := msg
	for i := 0; i+1 < len(args); i += 2 {
		s += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	c.cfg.Warn(s)
}

// isTransportFailure reports whether err came from the underlying socket
// (as opposed to a protocol-level decode failure for one column), so the
// streaming DataRow path can distinguish "give up on the connection" from
// "skip this malformed message and keep reading".
func isTransportFailure(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// hasActiveSink reports whether the request currently receiving DataRow
// messages has at least one caller-registered bytea sink attached, in which
// case the next DataRow must be read column-by-column off the wire
// (readDataRowStreaming) instead of buffered whole.
func (c *Conn) hasActiveSink() bool {
	req, ok := c.eng.executionQueue.Peek()
	return ok && len(req.sinks) > 0
}

// readDataRowStreaming reads one DataRow message directly off the wire,
// streaming any column with a caller-registered sink straight into that
// sink via Decoder.CopyBody instead of buffering the whole value, per
// spec.md §4.6's "Bytea streaming" — memory use stays bounded by bufio's
// internal buffer regardless of column size. Columns without a sink are
// read into the decoder's small reusable scratch buffer and decoded the
// same way the ordinary buffered path (handleDataRow) does.
func (c *Conn) readDataRowStreaming() error {
	req, ok := c.eng.executionQueue.Peek()
	if !ok {
		return &ProtocolError{Message: "unexpected DataRow with no active request"}
	}

	countRaw, err := c.dec.ReadExact(2)
	if err != nil {
		return &TransportError{Message: "reading DataRow column count", Cause: err}
	}
	n := int(binary.BigEndian.Uint16(countRaw))

	if n != len(req.columns) {
		return &ProtocolError{Message: fmt.Sprintf("DataRow column count %d does not match RowDescription %d", n, len(req.columns))}
	}

	values := make([]any, n)
	for i := 0; i < n; i++ {
		lenRaw, err := c.dec.ReadExact(4)
		if err != nil {
			return &TransportError{Message: "reading DataRow column length", Cause: err}
		}
		length := int32(binary.BigEndian.Uint32(lenRaw))

		col := req.columns[i]

		if length < 0 {
			values[i] = nil
			continue
		}

		if sink, ok := req.sinks[col.name]; ok && codec.IsByteaOID(col.oid) {
			if _, err := c.dec.CopyBody(sink, int64(length)); err != nil {
				return &TransportError{Message: "streaming bytea column into caller sink", Cause: err}
			}
			values[i] = nil
			continue
		}

		raw, err := c.dec.ReadExact(int(length))
		if err != nil {
			return &TransportError{Message: "reading DataRow column body", Cause: err}
		}

		v, err := decodeColumnValue(col, raw, req.bigints, c.cfg.ClientEncoding, c.registry)
		if err != nil {
			return err
		}

		values[i] = v
	}

	if req.stream != nil {
		req.stream.pushRow(values)
	}

	return nil
}

// failAllInFlight delivers a FATAL *DatabaseError carrying err's message to
// every request still awaiting a response, used when the transport dies
// mid-pipeline.
func (c *Conn) failAllInFlight(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dbErr := &DatabaseError{Severity: SeverityFatal, Message: err.Error()}

	drain := func(q interface{ ShiftMaybe() (*pipelineRequest, bool) }) {
		for {
			req, ok := q.ShiftMaybe()
			if !ok {
				return
			}
			if req.prepare != nil {
				req.prepare.err = dbErr
				select {
				case <-req.prepare.done:
				default:
					close(req.prepare.done)
				}
			}
			if req.closeDone != nil {
				req.closeErr = dbErr
				select {
				case <-req.closeDone:
				default:
					close(req.closeDone)
				}
			}
			if req.stream != nil {
				req.stream.fail(dbErr)
			}
		}
	}

	drain(c.eng.parseQueue)
	drain(c.eng.bindQueue)
	drain(c.eng.parameterDescriptionQueue)
	drain(c.eng.rowDescriptionQueue)
	drain(c.eng.closeQueue)
	drain(c.eng.executionQueue)
	drain(c.eng.cleanupQueue)
}

// On registers a callback for one of "error", "notice", or "notification".
// Only one callback may be registered per event; a later call replaces an
// earlier one.
func (c *Conn) On(event string, cb func(any)) {
	switch event {
	case "error":
		c.onError = func(e *DatabaseError) { cb(e) }
	case "notice":
		c.onNotice = func(e *DatabaseError) { cb(e) }
	case "notification":
		c.onNotification = func(n Notification) { cb(n) }
	}
}

// ProcessID returns the backend process ID reported by BackendKeyData,
// usable as the target of a CancelRequest on a separate connection.
func (c *Conn) ProcessID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processID
}

// Parameter returns the last reported value of a GUC named by
// ParameterStatus (e.g. "server_version", "TimeZone").
func (c *Conn) Parameter(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.parameters[name]
	return v, ok
}

// Registry exposes the type registry so callers can register a Reader for
// a custom/user-defined OID before querying it.
func (c *Conn) Registry() *catalog.Registry { return c.registry }

// End gracefully closes the connection: sends Terminate, closes the
// socket, and waits for the receive loop to exit. It is safe to call more
// than once.
func (c *Conn) End() error {
	var sendErr error

	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.phase = phaseClosed
		c.enc.Start(wiremsg.FrontendTerminate)
		_ = c.enc.End()
		bytes := c.enc.Consume()
		c.mu.Unlock()

		if _, err := c.netConn.Write(bytes); err != nil && !isClosedConnError(err) {
			sendErr = &TransportError{Message: "writing Terminate", Cause: err}
		}

		c.netConn.Close()
	})

	if c.readLoopDone != nil {
		<-c.readLoopDone
	}

	return sendErr
}

func isClosedConnError(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}

// timeoutOr rewrites err as a *TimeoutError when ctx's deadline is what
// actually caused it (the SetDeadline call in Connect surfaces as a plain
// i/o timeout on the read, not as ctx.Err() directly, since the
// handshake reads are synchronous and never select on ctx).
func timeoutOr(ctx context.Context, addr string, err error) error {
	if ctx.Err() == nil {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Message: "connect timed out negotiating with " + addr}
	}

	return err
}
