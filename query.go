package pgcore

import (
	"context"

	"github.com/tspg/pgcore/internal/codec"
)

// QueryOption configures a single Query or Statement.Execute call.
type QueryOption func(*queryOptions)

type queryOptions struct {
	paramOIDs     []uint32
	nameTransform func(string) string
	sinks         map[string]codec.Sink
	bigints       *bool
	callSite      string
}

// WithParameterTypes overrides the inferred OID for each positional
// parameter, in order. Supply 0 for a position to keep inference for that
// one parameter.
func WithParameterTypes(oids ...uint32) QueryOption {
	return func(o *queryOptions) { o.paramOIDs = oids }
}

// WithNameTransform rewrites every result column name through fn (e.g.
// strings.ToLower), per spec.md §4.8.
func WithNameTransform(fn func(string) string) QueryOption {
	return func(o *queryOptions) { o.nameTransform = fn }
}

// WithSink streams a bytea column's raw bytes into w instead of
// allocating the whole value, per spec.md §4.6 bytea streaming. A sink
// attached to a column that is not bytea is ignored: that column is
// decoded into the row as usual and no error is raised.
func WithSink(column string, w codec.Sink) QueryOption {
	return func(o *queryOptions) {
		if o.sinks == nil {
			o.sinks = make(map[string]codec.Sink)
		}
		o.sinks[column] = w
	}
}

// WithBigintsOverride overrides Config.Bigints for a single call.
func WithBigintsOverride(enabled bool) QueryOption {
	return func(o *queryOptions) { o.bigints = &enabled }
}

// WithCallSite attaches a caller-chosen descriptor (e.g. a file:line) to
// errors raised by this call, surfaced on DatabaseError.CallSite.
func WithCallSite(site string) QueryOption {
	return func(o *queryOptions) { o.callSite = site }
}

func resolveOptions(opts []QueryOption) *queryOptions {
	o := &queryOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Query submits sql as a one-shot, unnamed, extended-protocol statement
// (Parse/Bind/Describe/Execute/Sync), binding values positionally as
// $1, $2, .... It returns immediately with a ResultStream whose rows
// arrive as the server responds; it does not wait for the query to
// finish (spec.md §4.9).
func (c *Conn) Query(ctx context.Context, sql string, values []any, opts ...QueryOption) (*ResultStream, error) {
	o := resolveOptions(opts)

	req := &pipelineRequest{
		nameTransform: o.nameTransform,
		sinks:         o.sinks,
		bigints:       c.cfg.Bigints,
		callSite:      o.callSite,
	}
	if o.bigints != nil {
		req.bigints = *o.bigints
	}

	stream, err := c.submit("", sql, o.paramOIDs, values, req)
	if err != nil {
		return nil, err
	}

	go c.cancelOnContextDone(ctx, stream)

	return stream, nil
}

// cancelOnContextDone fails stream with ctx's error if ctx is canceled
// before the stream completes. It does not send a CancelRequest to the
// server; spec.md §1's Non-goals excludes out-of-band query cancellation.
func (c *Conn) cancelOnContextDone(ctx context.Context, stream *ResultStream) {
	select {
	case <-ctx.Done():
		stream.fail(&DatabaseError{Severity: SeverityError, Message: ctx.Err().Error()})
	case <-stream.doneSignal():
	}
}
