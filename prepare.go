package pgcore

import (
	"context"
	"fmt"
)

// Statement is a named, server-cached prepared statement produced by
// Prepare. Executing it skips the Parse step on every subsequent call,
// grounded on psql-wire's cache.go statement-name bookkeeping (there used
// server-side, here used client-side to avoid re-sending SQL text).
type Statement struct {
	conn      *Conn
	name      string
	sql       string
	paramOIDs []uint32
	columns   []columnMeta
}

// ParameterOIDs returns the OIDs the server inferred for each positional
// parameter, as reported by ParameterDescription.
func (s *Statement) ParameterOIDs() []uint32 { return s.paramOIDs }

// ColumnNames returns the result column names the server reported for
// this statement via RowDescription/NoData.
func (s *Statement) ColumnNames() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.name
	}
	return names
}

// Prepare parses sql once under a client-generated statement name
// (Config.PreparedStatementPrefix + a per-connection counter) and blocks
// until the server has described its parameter and result column types.
func (c *Conn) Prepare(ctx context.Context, sql string) (*Statement, error) {
	c.mu.Lock()
	c.preparedCounter++
	name := fmt.Sprintf("%s%d", c.cfg.PreparedStatementPrefix, c.preparedCounter)
	c.mu.Unlock()

	prep, err := c.submitPrepare(name, sql, nil)
	if err != nil {
		return nil, err
	}

	return &Statement{
		conn:      c,
		name:      name,
		sql:       sql,
		paramOIDs: prep.paramOIDs,
		columns:   prep.columns,
	}, nil
}

// Execute binds values against the prepared statement's portal and runs
// it, returning a ResultStream the same way Query does.
func (s *Statement) Execute(ctx context.Context, values []any, opts ...QueryOption) (*ResultStream, error) {
	o := resolveOptions(opts)

	req := &pipelineRequest{
		nameTransform: o.nameTransform,
		sinks:         o.sinks,
		bigints:       s.conn.cfg.Bigints,
		callSite:      o.callSite,
	}
	if o.bigints != nil {
		req.bigints = *o.bigints
	}

	paramOIDs := s.paramOIDs
	if len(o.paramOIDs) > 0 {
		paramOIDs = o.paramOIDs
	}

	stream, err := s.conn.submit(s.name, "", paramOIDs, values, req)
	if err != nil {
		return nil, err
	}

	go s.conn.cancelOnContextDone(ctx, stream)

	return stream, nil
}

// Close releases the prepared statement's server-side resources by
// sending Close(Statement) followed by Sync.
func (s *Statement) Close(ctx context.Context) error {
	return s.conn.closeStatement(s.name)
}
