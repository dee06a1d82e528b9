package pgcore

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/tspg/pgcore/internal/testserver"
)

func int4Bytes(v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

func dialReady(t *testing.T, serve func(*testserver.Server)) (*Conn, <-chan error) {
	t.Helper()

	host, p := newListenerHostPort(t)
	errCh := runTestServer(t, p.listener, func(s *testserver.Server) error {
		if err := s.Handshake(); err != nil {
			return err
		}
		serve(s)
		return nil
	})

	c, err := Connect(context.Background(), testConfig(t, host, p.port))
	require.NoError(t, err)
	t.Cleanup(func() { c.End() })

	return c, errCh
}

func TestQueryRoundTrip(t *testing.T) {
	c, errCh := dialReady(t, func(s *testserver.Server) {
		_, _ = s.ReadFrame() // Parse
		_, _ = s.ReadFrame() // Bind
		_, _ = s.ReadFrame() // Describe
		_, _ = s.ReadFrame() // Execute
		_, _ = s.ReadFrame() // Sync

		_ = s.SendParseComplete()
		_ = s.SendBindComplete()
		_ = s.SendRowDescription([]string{"id"}, pgtype.Int4OID, 1)
		_ = s.SendDataRow([][]byte{int4Bytes(7)})
		_ = s.SendDataRow([][]byte{int4Bytes(8)})
		_ = s.SendCommandComplete("SELECT 2")
		_ = s.SendReadyForQuery('I')
	})

	ctx := context.Background()
	stream, err := c.Query(ctx, "SELECT id FROM widgets", nil)
	require.NoError(t, err)

	names, err := stream.Names(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"id"}, names)

	var got []int32
	for {
		row, ok, err := stream.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, row[0].(int32))
	}
	require.Equal(t, []int32{7, 8}, got)
	require.Equal(t, "SELECT 2", stream.Status())

	require.NoError(t, <-errCh)
}

func TestQueryResultStreamReplaysAfterReset(t *testing.T) {
	c, errCh := dialReady(t, func(s *testserver.Server) {
		_, _ = s.ReadFrame()
		_, _ = s.ReadFrame()
		_, _ = s.ReadFrame()
		_, _ = s.ReadFrame()
		_, _ = s.ReadFrame()

		_ = s.SendParseComplete()
		_ = s.SendBindComplete()
		_ = s.SendRowDescription([]string{"n"}, pgtype.Int4OID, 1)
		_ = s.SendDataRow([][]byte{int4Bytes(1)})
		_ = s.SendCommandComplete("SELECT 1")
		_ = s.SendReadyForQuery('I')
	})

	ctx := context.Background()
	stream, err := c.Query(ctx, "SELECT n", nil)
	require.NoError(t, err)

	result, err := stream.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)

	stream.Reset()
	row, ok, err := stream.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(1), row[0])

	require.NoError(t, <-errCh)
}

func TestPrepareAndExecute(t *testing.T) {
	c, errCh := dialReady(t, func(s *testserver.Server) {
		_, _ = s.ReadFrame() // Parse (named)
		_, _ = s.ReadFrame() // Describe(Statement)
		_, _ = s.ReadFrame() // Sync (for Prepare)

		_ = s.SendParseComplete()
		_ = s.SendParameterDescription([]uint32{pgtype.Int4OID})
		_ = s.SendRowDescription([]string{"name"}, pgtype.TextOID, 0)
		_ = s.SendReadyForQuery('I')

		_, _ = s.ReadFrame() // Bind
		_, _ = s.ReadFrame() // Describe(Portal)
		_, _ = s.ReadFrame() // Execute
		_, _ = s.ReadFrame() // Sync (for Execute)

		_ = s.SendBindComplete()
		_ = s.SendRowDescription([]string{"name"}, pgtype.TextOID, 0)
		_ = s.SendDataRow([][]byte{[]byte("widget")})
		_ = s.SendCommandComplete("SELECT 1")
		_ = s.SendReadyForQuery('I')
	})

	ctx := context.Background()
	stmt, err := c.Prepare(ctx, "SELECT name FROM widgets WHERE id = $1")
	require.NoError(t, err)
	require.Equal(t, []uint32{pgtype.Int4OID}, stmt.ParameterOIDs())
	require.Equal(t, []string{"name"}, stmt.ColumnNames())

	stream, err := stmt.Execute(ctx, []any{int32(7)})
	require.NoError(t, err)

	result, err := stream.Collect(ctx)
	require.NoError(t, err)
	require.Equal(t, "widget", result.Rows[0][0])

	require.NoError(t, <-errCh)
}

func TestErrorResponseUnwindsMidPipeline(t *testing.T) {
	c, errCh := dialReady(t, func(s *testserver.Server) {
		_, _ = s.ReadFrame() // Parse
		_, _ = s.ReadFrame() // Bind
		_, _ = s.ReadFrame() // Describe
		_, _ = s.ReadFrame() // Execute
		_, _ = s.ReadFrame() // Sync

		// The statement fails to parse: the server skips straight to
		// ErrorResponse without ever sending ParseComplete/BindComplete.
		_ = s.SendErrorResponse("ERROR", "42601", "syntax error at or near \"FORM\"")
		_ = s.SendReadyForQuery('I')

		_, _ = s.ReadFrame() // Parse
		_, _ = s.ReadFrame() // Bind
		_, _ = s.ReadFrame() // Describe
		_, _ = s.ReadFrame() // Execute
		_, _ = s.ReadFrame() // Sync

		_ = s.SendParseComplete()
		_ = s.SendBindComplete()
		_ = s.SendRowDescription([]string{"n"}, pgtype.Int4OID, 1)
		_ = s.SendDataRow([][]byte{int4Bytes(1)})
		_ = s.SendCommandComplete("SELECT 1")
		_ = s.SendReadyForQuery('I')
	})

	ctx := context.Background()
	stream, err := c.Query(ctx, "SELECT FORM widgets", nil)
	require.NoError(t, err)

	_, err = stream.Collect(ctx)
	require.Error(t, err)

	var dbErr *DatabaseError
	require.ErrorAs(t, err, &dbErr)
	require.EqualValues(t, "42601", dbErr.Code)

	// the connection must still be usable afterwards: the error unwind
	// must not have left a stale entry in any per-stage queue.
	stream2, err := c.Query(ctx, "SELECT 1", nil)
	require.NoError(t, err)

	result, err := stream2.Collect(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(1), result.Rows[0][0])

	require.NoError(t, <-errCh)
}

func TestCloseStatementRoundTrip(t *testing.T) {
	c, errCh := dialReady(t, func(s *testserver.Server) {
		_, _ = s.ReadFrame() // Parse
		_, _ = s.ReadFrame() // Describe(Statement)
		_, _ = s.ReadFrame() // Sync

		_ = s.SendParseComplete()
		_ = s.SendParameterDescription(nil)
		_ = s.SendRowDescription(nil, 0, 0)
		_ = s.SendReadyForQuery('I')

		_, _ = s.ReadFrame() // Close(Statement)
		_, _ = s.ReadFrame() // Sync

		_ = s.SendRaw('3', nil) // CloseComplete
		_ = s.SendReadyForQuery('I')
	})

	ctx := context.Background()
	stmt, err := c.Prepare(ctx, "SELECT 1")
	require.NoError(t, err)

	require.NoError(t, stmt.Close(ctx))
	require.NoError(t, <-errCh)
}

func TestQueryStreamsByteaColumnIntoSink(t *testing.T) {
	payload := bytes.Repeat([]byte{'x'}, 1<<20)

	c, errCh := dialReady(t, func(s *testserver.Server) {
		_, _ = s.ReadFrame() // Parse
		_, _ = s.ReadFrame() // Bind
		_, _ = s.ReadFrame() // Describe
		_, _ = s.ReadFrame() // Execute
		_, _ = s.ReadFrame() // Sync

		_ = s.SendParseComplete()
		_ = s.SendBindComplete()
		_ = s.SendRowDescription([]string{"data"}, pgtype.ByteaOID, 1)
		_ = s.SendDataRow([][]byte{payload})
		_ = s.SendCommandComplete("SELECT 1")
		_ = s.SendReadyForQuery('I')
	})

	var sink bytes.Buffer
	ctx := context.Background()
	stream, err := c.Query(ctx, "SELECT data FROM blobs", nil, WithSink("data", &sink))
	require.NoError(t, err)

	result, err := stream.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.Nil(t, result.Rows[0][0])
	require.Equal(t, payload, sink.Bytes())

	require.NoError(t, <-errCh)
}

func TestWarnCallbackReceivesUnhandledMessage(t *testing.T) {
	host, p := newListenerHostPort(t)
	errCh := runTestServer(t, p.listener, func(s *testserver.Server) error {
		if err := s.Handshake(); err != nil {
			return err
		}
		// 'Å' / 0xC5 is not a defined backend message type in this
		// protocol version: it should surface through Config.Warn rather
		// than kill the connection.
		return s.SendRaw(0xC5, nil)
	})

	cfg := testConfig(t, host, p.port)
	warnings := make(chan string, 1)
	cfg.Warn = func(s string) { warnings <- s }

	c, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	defer c.End()

	select {
	case w := <-warnings:
		require.Contains(t, w, "unhandled backend message")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Warn callback")
	}

	require.NoError(t, <-errCh)
}

func TestNotificationDelivery(t *testing.T) {
	c, errCh := dialReady(t, func(s *testserver.Server) {
		_, _ = s.ReadFrame() // Parse
		_, _ = s.ReadFrame() // Bind
		_, _ = s.ReadFrame() // Describe
		_, _ = s.ReadFrame() // Execute
		_, _ = s.ReadFrame() // Sync

		_ = s.SendParseComplete()
		_ = s.SendBindComplete()
		_ = s.SendRowDescription(nil, 0, 0)
		_ = s.SendCommandComplete("SELECT 0")
		// sent strictly after the query's reply, so the client is
		// guaranteed to have the callback registered (below) before this
		// message is dispatched.
		_ = s.SendNotificationResponse(1234, "channel1", "hello")
		_ = s.SendReadyForQuery('I')
	})

	received := make(chan Notification, 1)
	c.On("notification", func(v any) { received <- v.(Notification) })

	ctx := context.Background()
	stream, err := c.Query(ctx, "SELECT 1 WHERE false", nil)
	require.NoError(t, err)
	_, err = stream.Collect(ctx)
	require.NoError(t, err)

	n := <-received
	require.Equal(t, "channel1", n.Channel)
	require.Equal(t, "hello", n.Payload)

	require.NoError(t, <-errCh)
}
