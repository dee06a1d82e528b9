package pgcore

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/tspg/pgcore/internal/testserver"
)

func testConfig(t *testing.T, host string, port int) *Config {
	cfg := Defaults()
	cfg.Host = host
	cfg.Port = port
	cfg.SSL = SSLDisable
	cfg.Logger = slogt.New(t)
	return &cfg
}

func TestHandshakeAndReady(t *testing.T) {
	host, p := newListenerHostPort(t)
	errCh := runTestServer(t, p.listener, func(s *testserver.Server) error {
		return s.Handshake()
	})

	c, err := Connect(context.Background(), testConfig(t, host, p.port))
	require.NoError(t, err)
	defer c.End()

	require.NoError(t, <-errCh)

	v, ok := c.Parameter("server_version")
	require.True(t, ok)
	require.Equal(t, "16.0", v)
	require.EqualValues(t, 1234, c.ProcessID())
}

func TestEndIsIdempotent(t *testing.T) {
	host, p := newListenerHostPort(t)
	errCh := runTestServer(t, p.listener, func(s *testserver.Server) error {
		if err := s.Handshake(); err != nil {
			return err
		}
		_, err := s.ReadFrame() // Terminate
		return err
	})

	c, err := Connect(context.Background(), testConfig(t, host, p.port))
	require.NoError(t, err)

	require.NoError(t, c.End())
	require.NoError(t, c.End())
	require.NoError(t, <-errCh)
}

func TestMD5Authentication(t *testing.T) {
	host, p := newListenerHostPort(t)
	errCh := runTestServer(t, p.listener, func(s *testserver.Server) error {
		if _, err := s.ReadStartup(); err != nil {
			return err
		}
		if err := s.SendAuthenticationMD5([4]byte{1, 2, 3, 4}); err != nil {
			return err
		}
		if _, err := s.ReadFrame(); err != nil { // PasswordMessage
			return err
		}
		if err := s.SendAuthenticationOK(); err != nil {
			return err
		}
		if err := s.SendBackendKeyData(42, 99); err != nil {
			return err
		}
		return s.SendReadyForQuery('I')
	})

	cfg := testConfig(t, host, p.port)
	cfg.Password = "secret"
	c, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	defer c.End()

	require.NoError(t, <-errCh)
	require.EqualValues(t, 42, c.ProcessID())
}

func TestAuthenticationFailureSurfacesDatabaseError(t *testing.T) {
	host, p := newListenerHostPort(t)
	errCh := runTestServer(t, p.listener, func(s *testserver.Server) error {
		if _, err := s.ReadStartup(); err != nil {
			return err
		}
		return s.SendErrorResponse("FATAL", "28P01", "password authentication failed")
	})

	_, err := Connect(context.Background(), testConfig(t, host, p.port))
	require.Error(t, err)

	var dbErr *DatabaseError
	require.ErrorAs(t, err, &dbErr)
	require.EqualValues(t, "28P01", dbErr.Code)

	require.NoError(t, <-errCh)
}

func TestConnectTimesOutWhenServerNeverResponds(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			// read Startup and then hang, never replying.
			buf := make([]byte, 128)
			_, _ = conn.Read(buf)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	cfg := testConfig(t, addr.IP.String(), addr.Port)
	cfg.ConnectTimeout = 50 * time.Millisecond

	_, err = Connect(context.Background(), cfg)
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

// --- small plumbing shared by the tests above ---

type listenerHandle struct {
	listener net.Listener
	port     int
}

func newListenerHostPort(t *testing.T) (string, listenerHandle) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), listenerHandle{listener: ln, port: addr.Port}
}

func runTestServer(t *testing.T, ln net.Listener, srv func(*testserver.Server) error) <-chan error {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		done <- srv(testserver.New(conn))
	}()

	return done
}
