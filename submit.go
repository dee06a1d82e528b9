package pgcore

import (
	"github.com/tspg/pgcore/internal/codec"
	"github.com/tspg/pgcore/internal/wiremsg"
)

// encodeParse, encodeBind, encodeDescribe, encodeExecute, and encodeSync
// each append one frontend message to c.enc's pending buffer; callers
// build a full Parse/Bind/Describe/Execute/Sync group before calling
// c.flush so the group reaches the wire as one contiguous write under
// c.mu, keeping submission order and queue-push order atomic.
func (c *Conn) encodeParse(name, sql string, paramOIDs []uint32) error {
	c.enc.Start(wiremsg.FrontendParse)
	c.enc.CString(name)
	c.enc.CString(sql)
	c.enc.Int16BE(int16(len(paramOIDs)))
	for _, oid := range paramOIDs {
		c.enc.UInt32BE(oid)
	}
	return c.enc.End()
}

func (c *Conn) encodeBind(portal, statement string, paramFormats []int16, paramValues [][]byte, resultFormat int16) error {
	c.enc.Start(wiremsg.FrontendBind)
	c.enc.CString(portal)
	c.enc.CString(statement)

	c.enc.Int16BE(int16(len(paramFormats)))
	for _, f := range paramFormats {
		c.enc.Int16BE(f)
	}

	c.enc.Int16BE(int16(len(paramValues)))
	for _, v := range paramValues {
		if v == nil {
			c.enc.Int32BE(-1)
			continue
		}
		c.enc.Int32BE(int32(len(v)))
		c.enc.Buffer(v)
	}

	c.enc.Int16BE(1)
	c.enc.Int16BE(resultFormat)

	return c.enc.End()
}

func (c *Conn) encodeDescribe(target wiremsg.DescribeTarget, name string) error {
	c.enc.Start(wiremsg.FrontendDescribe)
	c.enc.Int8(int8(target))
	c.enc.CString(name)
	return c.enc.End()
}

func (c *Conn) encodeExecute(portal string, maxRows int32) error {
	c.enc.Start(wiremsg.FrontendExecute)
	c.enc.CString(portal)
	c.enc.Int32BE(maxRows)
	return c.enc.End()
}

func (c *Conn) encodeSync() error {
	c.enc.Start(wiremsg.FrontendSync)
	return c.enc.End()
}

// flush writes everything accumulated in c.enc since the last flush as one
// contiguous write.
func (c *Conn) flush() error {
	bytes := c.enc.Consume()
	if len(bytes) == 0 {
		return nil
	}

	if _, err := c.netConn.Write(bytes); err != nil {
		return &TransportError{Message: "writing to connection", Cause: err}
	}

	return nil
}

// encodedParam is one Bind parameter after type inference/encoding.
type encodedParam struct {
	oid    uint32
	format int16
	value  []byte
}

func (c *Conn) encodeParams(values []any, paramOIDs []uint32) ([]encodedParam, error) {
	out := make([]encodedParam, len(values))

	for i, v := range values {
		oid := uint32(0)
		if i < len(paramOIDs) {
			oid = paramOIDs[i]
		}

		if oid == 0 {
			oid = codec.InferOID(v)
		}

		if v == nil {
			out[i] = encodedParam{oid: oid, format: int16(codec.Binary)}
			continue
		}

		if oid != 0 {
			raw, err := codec.Encode(oid, v, codec.Binary, c.cfg.ClientEncoding)
			if err == nil {
				out[i] = encodedParam{oid: oid, format: int16(codec.Binary), value: raw}
				continue
			}
		}

		raw, inferredOID, err := codec.EncodeParamText(v)
		if err != nil {
			return nil, &ConfigurationError{Message: err.Error()}
		}

		out[i] = encodedParam{oid: inferredOID, format: int16(codec.Text), value: raw}
	}

	return out, nil
}

// submit runs one Parse/Bind/Describe(Portal)/Execute/Sync group (or, for
// a cached Statement, Bind/Describe(Portal)/Execute/Sync) and returns the
// ResultStream its responses feed into.
func (c *Conn) submit(statementName, sql string, paramOIDs []uint32, values []any, req *pipelineRequest) (*ResultStream, error) {
	params, err := c.encodeParams(values, paramOIDs)
	if err != nil {
		return nil, err
	}

	paramFormats := make([]int16, len(params))
	paramValues := make([][]byte, len(params))
	for i, p := range params {
		paramFormats[i] = p.format
		paramValues[i] = p.value
	}

	needsParse := sql != ""
	effectiveOIDs := paramOIDs
	if needsParse && len(effectiveOIDs) == 0 {
		effectiveOIDs = make([]uint32, len(params))
		for i, p := range params {
			effectiveOIDs[i] = p.oid
		}
	}

	req.stream = newResultStream()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != phaseReady {
		return nil, &TransportError{Message: "connection is not ready"}
	}

	if needsParse {
		if err := c.encodeParse(statementName, sql, effectiveOIDs); err != nil {
			return nil, &ProtocolError{Message: err.Error()}
		}
		c.eng.parseQueue.Push(req)
		req.remaining = append(req.remaining, qParse)
	}

	if err := c.encodeBind("", statementName, paramFormats, paramValues, int16(codec.Binary)); err != nil {
		return nil, &ProtocolError{Message: err.Error()}
	}
	c.eng.bindQueue.Push(req)
	req.remaining = append(req.remaining, qBind)

	if err := c.encodeDescribe(wiremsg.DescribePortal, ""); err != nil {
		return nil, &ProtocolError{Message: err.Error()}
	}
	c.eng.rowDescriptionQueue.Push(req)
	req.remaining = append(req.remaining, qRowDescription)

	if err := c.encodeExecute("", 0); err != nil {
		return nil, &ProtocolError{Message: err.Error()}
	}

	if err := c.encodeSync(); err != nil {
		return nil, &ProtocolError{Message: err.Error()}
	}
	c.eng.cleanupQueue.Push(req)

	if err := c.flush(); err != nil {
		return nil, err
	}

	return req.stream, nil
}

// submitPrepare runs Parse(named)/Describe(Statement)/Sync and blocks
// until the Describe response has fully arrived.
func (c *Conn) submitPrepare(name, sql string, paramOIDs []uint32) (*preparing, error) {
	prep := &preparing{name: name, done: make(chan struct{})}
	req := &pipelineRequest{prepare: prep, callSite: "Prepare"}

	c.mu.Lock()

	if c.phase != phaseReady {
		c.mu.Unlock()
		return nil, &TransportError{Message: "connection is not ready"}
	}

	if err := c.encodeParse(name, sql, paramOIDs); err != nil {
		c.mu.Unlock()
		return nil, &ProtocolError{Message: err.Error()}
	}
	c.eng.parseQueue.Push(req)
	req.remaining = append(req.remaining, qParse)

	if err := c.encodeDescribe(wiremsg.DescribeStatement, name); err != nil {
		c.mu.Unlock()
		return nil, &ProtocolError{Message: err.Error()}
	}
	c.eng.parameterDescriptionQueue.Push(req)
	req.remaining = append(req.remaining, qParameterDescription)
	c.eng.rowDescriptionQueue.Push(req)
	req.remaining = append(req.remaining, qRowDescription)

	if err := c.encodeSync(); err != nil {
		c.mu.Unlock()
		return nil, &ProtocolError{Message: err.Error()}
	}
	c.eng.cleanupQueue.Push(req)

	err := c.flush()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	<-prep.done
	if prep.err != nil {
		return nil, prep.err
	}

	return prep, nil
}

// closeStatement runs Close(Statement)/Sync and blocks until CloseComplete
// (or an ErrorResponse) arrives.
func (c *Conn) closeStatement(name string) error {
	req := &pipelineRequest{closeDone: make(chan struct{}), callSite: "Statement.Close"}

	c.mu.Lock()

	if c.phase != phaseReady {
		c.mu.Unlock()
		return &TransportError{Message: "connection is not ready"}
	}

	c.enc.Start(wiremsg.FrontendClose)
	c.enc.Int8(int8(wiremsg.DescribeStatement))
	c.enc.CString(name)
	if err := c.enc.End(); err != nil {
		c.mu.Unlock()
		return &ProtocolError{Message: err.Error()}
	}
	c.eng.closeQueue.Push(req)
	req.remaining = append(req.remaining, qClose)

	if err := c.encodeSync(); err != nil {
		c.mu.Unlock()
		return &ProtocolError{Message: err.Error()}
	}
	c.eng.cleanupQueue.Push(req)

	err := c.flush()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	<-req.closeDone
	return req.closeErr
}
