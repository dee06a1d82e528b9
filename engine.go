package pgcore

import (
	"fmt"

	"github.com/tspg/pgcore/internal/buffer"
	"github.com/tspg/pgcore/internal/catalog"
	"github.com/tspg/pgcore/internal/codec"
	"github.com/tspg/pgcore/internal/fifo"
	"github.com/tspg/pgcore/internal/wiremsg"
)

// queueKind names one of the per-stage FIFOs the pipeline engine keeps,
// each holding exactly one entry per in-flight request currently awaiting
// that stage's acknowledgement message.
type queueKind int

const (
	qParse queueKind = iota
	qBind
	qParameterDescription
	qRowDescription
	qClose
)

func (k queueKind) String() string {
	switch k {
	case qParse:
		return "parse"
	case qBind:
		return "bind"
	case qParameterDescription:
		return "parameterDescription"
	case qRowDescription:
		return "rowDescription"
	case qClose:
		return "close"
	default:
		return "unknown"
	}
}

// columnMeta describes one result column as learned from a RowDescription
// (or carried over from a cached Statement's own Describe).
type columnMeta struct {
	name          string
	oid           uint32
	isArray       bool
	hasUserReader bool
	format        catalog.FormatCode
}

// pipelineRequest tracks one submitted request (a one-shot Query, a cached
// Statement.Execute, or a Prepare) across the several backend messages
// that answer it. remaining lists the per-kind queues that still hold a
// live entry for this request; the engine pops entries off remaining as
// each stage's ack naturally arrives, and drains whatever is left in one
// shot if an ErrorResponse aborts the request early (spec.md §4.9's error
// unwind protocol).
type pipelineRequest struct {
	remaining []queueKind
	callSite  string

	stream  *ResultStream // nil for a Prepare-only request
	prepare *preparing    // non-nil for a Prepare-only request

	columns     []columnMeta
	inExecution bool // true once pushed onto the engine's executionQueue

	bigints       bool
	nameTransform func(string) string
	sinks         map[string]codec.Sink

	closeDone chan struct{} // non-nil for a Close(Statement) request
	closeErr  error
}

// consume removes the first outstanding entry of kind from req.remaining,
// if there is one.
func (req *pipelineRequest) consume(kind queueKind) {
	for i, k := range req.remaining {
		if k == kind {
			req.remaining = append(req.remaining[:i], req.remaining[i+1:]...)
			return
		}
	}
}

// preparing is the in-flight state of a Prepare call, resolved as soon as
// its Describe response (ParameterDescription + RowDescription/NoData)
// has fully arrived — there is no need to wait for the terminating
// ReadyForQuery, since by that point the server has already answered
// everything the Describe asked for.
type preparing struct {
	name      string
	paramOIDs []uint32
	columns   []columnMeta
	done      chan struct{}
	err       error
}

// engine holds all pipeline correlation state. It is embedded in Conn and
// guarded by Conn.mu: the receive loop and every submitting goroutine
// serialize through the same mutex, so a request's "encode, write, push
// onto the stage queues" sequence is atomic with respect to dispatch,
// which is what keeps submission order and response order in lock-step
// without needing the spec's single-threaded-cooperative-scheduler
// framing — Go gives us that serialization via a real mutex instead.
type engine struct {
	parseQueue                *fifo.Queue[*pipelineRequest]
	bindQueue                 *fifo.Queue[*pipelineRequest]
	parameterDescriptionQueue *fifo.Queue[*pipelineRequest]
	rowDescriptionQueue       *fifo.Queue[*pipelineRequest]
	closeQueue                *fifo.Queue[*pipelineRequest]

	// executionQueue holds requests that have a RowDescription/NoData
	// behind them and are now receiving zero or more DataRow messages
	// followed by CommandComplete/EmptyQueryResponse/PortalSuspended.
	executionQueue *fifo.Queue[*pipelineRequest]

	// cleanupQueue holds one entry per submitted request, in submission
	// order, popped exactly once per ReadyForQuery. Its front is also
	// where an ErrorResponse looks to find which request just aborted,
	// since the server always finishes the oldest outstanding request
	// before any later one.
	cleanupQueue *fifo.Queue[*pipelineRequest]
}

func newEngine() *engine {
	return &engine{
		parseQueue:                fifo.New[*pipelineRequest](),
		bindQueue:                 fifo.New[*pipelineRequest](),
		parameterDescriptionQueue: fifo.New[*pipelineRequest](),
		rowDescriptionQueue:       fifo.New[*pipelineRequest](),
		closeQueue:                fifo.New[*pipelineRequest](),
		executionQueue:            fifo.New[*pipelineRequest](),
		cleanupQueue:              fifo.New[*pipelineRequest](),
	}
}

func (e *engine) queueFor(kind queueKind) *fifo.Queue[*pipelineRequest] {
	switch kind {
	case qParse:
		return e.parseQueue
	case qBind:
		return e.bindQueue
	case qParameterDescription:
		return e.parameterDescriptionQueue
	case qRowDescription:
		return e.rowDescriptionQueue
	case qClose:
		return e.closeQueue
	default:
		return nil
	}
}

// dispatch handles one decoded backend message. It is always called with
// c.mu held.
func (c *Conn) dispatch(msg buffer.Message) error {
	body := buffer.NewBody(msg.Body)

	switch msg.Type {
	case wiremsg.BackendParameterStatus:
		return c.handleParameterStatus(body)

	case wiremsg.BackendBackendKeyData:
		return c.handleBackendKeyData(body)

	case wiremsg.BackendParseComplete:
		req, ok := c.eng.parseQueue.ShiftMaybe()
		if ok {
			req.consume(qParse)
		}
		return nil

	case wiremsg.BackendBindComplete:
		req, ok := c.eng.bindQueue.ShiftMaybe()
		if ok {
			req.consume(qBind)
		}
		return nil

	case wiremsg.BackendParameterDescription:
		req, ok := c.eng.parameterDescriptionQueue.ShiftMaybe()
		if !ok {
			return nil
		}
		req.consume(qParameterDescription)
		return c.handleParameterDescription(req, body)

	case wiremsg.BackendRowDescription:
		req, ok := c.eng.rowDescriptionQueue.ShiftMaybe()
		if !ok {
			return nil
		}
		req.consume(qRowDescription)
		return c.handleRowDescription(req, body)

	case wiremsg.BackendNoData:
		req, ok := c.eng.rowDescriptionQueue.ShiftMaybe()
		if !ok {
			return nil
		}
		req.consume(qRowDescription)
		return c.handleRowDescription(req, nil)

	case wiremsg.BackendDataRow:
		return c.handleDataRow(body)

	case wiremsg.BackendCommandComplete:
		return c.handleCommandComplete(body)

	case wiremsg.BackendCloseComplete:
		req, ok := c.eng.closeQueue.ShiftMaybe()
		if ok {
			req.consume(qClose)
			if req.closeDone != nil {
				close(req.closeDone)
			}
		}
		return nil

	case wiremsg.BackendEmptyQueryResponse:
		req, ok := c.eng.executionQueue.ShiftMaybe()
		if ok && req.stream != nil {
			req.stream.complete("")
		}
		return nil

	case wiremsg.BackendPortalSuspended:
		// this core always sends Execute with max rows = 0 (no row limit),
		// so PortalSuspended should never occur; handled defensively.
		return nil

	case wiremsg.BackendErrorResponse:
		return c.handleErrorResponse(body)

	case wiremsg.BackendNoticeResponse:
		return c.handleNoticeResponse(body)

	case wiremsg.BackendNotificationResponse:
		return c.handleNotificationResponse(body)

	case wiremsg.BackendReadyForQuery:
		return c.handleReadyForQuery(body)

	case wiremsg.BackendAuth:
		// an Authentication* message arriving after the startup handshake
		// has completed is not meaningful for this protocol version.
		return nil

	default:
		c.warn("pgcore: unhandled backend message", "type", msg.Type.String())
		return nil
	}
}

func (c *Conn) handleParameterStatus(body *buffer.Body) error {
	name, err := body.CString()
	if err != nil {
		return &ProtocolError{Message: "malformed ParameterStatus: " + err.Error()}
	}

	value, err := body.CString()
	if err != nil {
		return &ProtocolError{Message: "malformed ParameterStatus: " + err.Error()}
	}

	c.parameters[name] = value
	return nil
}

func (c *Conn) handleBackendKeyData(body *buffer.Body) error {
	pid, err := body.Int32()
	if err != nil {
		return &ProtocolError{Message: "malformed BackendKeyData: " + err.Error()}
	}

	secret, err := body.Int32()
	if err != nil {
		return &ProtocolError{Message: "malformed BackendKeyData: " + err.Error()}
	}

	c.processID, c.secretKey = pid, secret
	return nil
}

func (c *Conn) handleParameterDescription(req *pipelineRequest, body *buffer.Body) error {
	n, err := body.Uint16()
	if err != nil {
		return &ProtocolError{Message: "malformed ParameterDescription: " + err.Error()}
	}

	oids := make([]uint32, n)
	for i := range oids {
		oid, err := body.Uint32()
		if err != nil {
			return &ProtocolError{Message: "malformed ParameterDescription: " + err.Error()}
		}
		oids[i] = oid
	}

	if req.prepare != nil {
		req.prepare.paramOIDs = oids
	}

	return nil
}

func (c *Conn) handleRowDescription(req *pipelineRequest, body *buffer.Body) error {
	var columns []columnMeta

	if body != nil {
		n, err := body.Uint16()
		if err != nil {
			return &ProtocolError{Message: "malformed RowDescription: " + err.Error()}
		}

		columns = make([]columnMeta, n)
		for i := range columns {
			name, err := body.CString()
			if err != nil {
				return &ProtocolError{Message: "malformed RowDescription: " + err.Error()}
			}

			if _, err := body.Uint32(); err != nil { // table OID
				return &ProtocolError{Message: "malformed RowDescription: " + err.Error()}
			}
			if _, err := body.Uint16(); err != nil { // column attr number
				return &ProtocolError{Message: "malformed RowDescription: " + err.Error()}
			}

			oid, err := body.Uint32()
			if err != nil {
				return &ProtocolError{Message: "malformed RowDescription: " + err.Error()}
			}
			if _, err := body.Int16(); err != nil { // type size
				return &ProtocolError{Message: "malformed RowDescription: " + err.Error()}
			}
			if _, err := body.Int32(); err != nil { // type modifier
				return &ProtocolError{Message: "malformed RowDescription: " + err.Error()}
			}

			formatCode, err := body.Int16()
			if err != nil {
				return &ProtocolError{Message: "malformed RowDescription: " + err.Error()}
			}

			effective, isArray, hasReader := catalog.UnpackColumn(c.registry.PackedColumn(oid))
			if transform := req.nameTransform; transform != nil {
				name = transform(name)
			}

			columns[i] = columnMeta{
				name:          name,
				oid:           effective,
				isArray:       isArray,
				hasUserReader: hasReader,
				format:        catalog.FormatCode(formatCode),
			}
		}
	}

	req.columns = columns

	if req.prepare != nil {
		req.prepare.columns = columns
		close(req.prepare.done)
		return nil
	}

	if req.stream != nil {
		names := make([]string, len(columns))
		for i, col := range columns {
			names[i] = col.name
		}
		req.stream.setColumns(names)
		req.inExecution = true
		c.eng.executionQueue.Push(req)
	}

	return nil
}

func (c *Conn) handleDataRow(body *buffer.Body) error {
	req, ok := c.eng.executionQueue.Peek()
	if !ok {
		return &ProtocolError{Message: "unexpected DataRow with no active request"}
	}

	n, err := body.Uint16()
	if err != nil {
		return &ProtocolError{Message: "malformed DataRow: " + err.Error()}
	}

	if int(n) != len(req.columns) {
		return &ProtocolError{Message: fmt.Sprintf("DataRow column count %d does not match RowDescription %d", n, len(req.columns))}
	}

	values := make([]any, n)
	for i := 0; i < int(n); i++ {
		length, err := body.Int32()
		if err != nil {
			return &ProtocolError{Message: "malformed DataRow: " + err.Error()}
		}

		col := req.columns[i]

		var raw []byte
		if length >= 0 {
			raw, err = body.Bytes(int(length))
			if err != nil {
				return &ProtocolError{Message: "malformed DataRow: " + err.Error()}
			}
		}

		if raw != nil && codec.IsByteaOID(col.oid) {
			if sink, ok := req.sinks[col.name]; ok {
				if _, err := sink.Write(raw); err != nil {
					return &TransportError{Message: "writing to caller bytea sink", Cause: err}
				}
				values[i] = nil
				continue
			}
		}

		if raw == nil {
			values[i] = nil
			continue
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

// decodeColumnValue decodes one column's raw wire bytes, applying the
// Config.Bigints=false int8-as-string coercion. Shared by the ordinary
// fully-buffered DataRow path (handleDataRow) and the streaming path
// (Conn.readDataRowStreaming) used when a caller-provided bytea sink is
// active for the request.
func decodeColumnValue(col columnMeta, raw []byte, bigints bool, encoding string, registry *catalog.Registry) (any, error) {
	v, err := codec.Decode(col.oid, raw, col.format, encoding, registry)
	if err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("decoding column %q: %s", col.name, err)}
	}

	if codec.IsInt8OID(col.oid) && !bigints {
		if n, isInt64 := v.(int64); isInt64 {
			v = fmt.Sprintf("%d", n)
		}
	}

	return v, nil
}

func (c *Conn) handleCommandComplete(body *buffer.Body) error {
	req, ok := c.eng.executionQueue.ShiftMaybe()
	if !ok {
		return nil
	}

	tag, err := body.CString()
	if err != nil {
		return &ProtocolError{Message: "malformed CommandComplete: " + err.Error()}
	}

	req.inExecution = false
	if req.stream != nil {
		req.stream.complete(tag)
	}

	return nil
}

func (c *Conn) handleErrorResponse(body *buffer.Body) error {
	fields, err := parseFieldedMessage(body)
	if err != nil {
		return err
	}

	req, ok := c.eng.cleanupQueue.Peek()
	if !ok {
		dbErr := parseErrorFields(fields, "")
		c.emitError(dbErr)
		return nil
	}

	for _, kind := range append([]queueKind(nil), req.remaining...) {
		c.eng.queueFor(kind).ShiftMaybe()
	}
	req.remaining = nil

	dbErr := parseErrorFields(fields, req.callSite)
	c.emitError(dbErr)

	if req.prepare != nil {
		req.prepare.err = dbErr
		select {
		case <-req.prepare.done:
		default:
			close(req.prepare.done)
		}
		return nil
	}

	if req.inExecution {
		c.eng.executionQueue.ShiftMaybe()
		req.inExecution = false
	}

	if req.closeDone != nil {
		req.closeErr = dbErr
		close(req.closeDone)
		return nil
	}

	if req.stream != nil {
		req.stream.fail(dbErr)
	}

	return nil
}

func (c *Conn) handleNoticeResponse(body *buffer.Body) error {
	fields, err := parseFieldedMessage(body)
	if err != nil {
		return err
	}

	notice := parseErrorFields(fields, "")
	if c.onNotice != nil {
		c.onNotice(notice)
	}

	return nil
}

func (c *Conn) handleNotificationResponse(body *buffer.Body) error {
	pid, err := body.Int32()
	if err != nil {
		return &ProtocolError{Message: "malformed NotificationResponse: " + err.Error()}
	}

	channel, err := body.CString()
	if err != nil {
		return &ProtocolError{Message: "malformed NotificationResponse: " + err.Error()}
	}

	payload, err := body.CString()
	if err != nil {
		return &ProtocolError{Message: "malformed NotificationResponse: " + err.Error()}
	}

	if c.onNotification != nil {
		c.onNotification(Notification{ProcessID: pid, Channel: channel, Payload: payload})
	}

	return nil
}

func (c *Conn) handleReadyForQuery(body *buffer.Body) error {
	status, err := body.Byte()
	if err != nil {
		return &ProtocolError{Message: "malformed ReadyForQuery: " + err.Error()}
	}

	c.transactionStatus = wiremsg.TransactionStatus(status)
	c.eng.cleanupQueue.ShiftMaybe()

	if c.phase == phaseConnecting {
		c.phase = phaseReady
		close(c.readyCh)
	}

	return nil
}

func (c *Conn) emitError(err *DatabaseError) {
	if c.onError != nil {
		c.onError(err)
	}
}

// parseFieldedMessage parses the {tag byte: value}* null-terminated field
// list shared by ErrorResponse and NoticeResponse (spec.md §6).
func parseFieldedMessage(body *buffer.Body) (map[byte]string, error) {
	fields := make(map[byte]string)

	for {
		tag, err := body.Byte()
		if err != nil {
			return nil, &ProtocolError{Message: "malformed error/notice fields: " + err.Error()}
		}

		if tag == 0 {
			return fields, nil
		}

		value, err := body.CString()
		if err != nil {
			return nil, &ProtocolError{Message: "malformed error/notice fields: " + err.Error()}
		}

		fields[tag] = value
	}
}
