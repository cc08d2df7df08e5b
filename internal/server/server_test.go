package server

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamco/rdp-server/internal/config"
)

// Run() first calls session.Open(), which requires a real compositor/
// portal/libei back-end unavailable in a sandboxed test environment (see
// TestDiagnosticsBeforeOpenReportsNoActiveStrategy), and handleConnection
// constructs a real encoder backend. These tests stay below both of those
// and exercise listen() and the session-registry bookkeeping directly.

func plainConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	return config.Config{
		TLS: config.TLS{ListenAddr: "127.0.0.1:0"},
	}
}

func TestListenReturnsPlainTCPListenerWithoutTLSConfig(t *testing.T) {
	cfg := plainConfig(t)
	s, err := New(context.Background(), discardLog(), cfg)
	require.NoError(t, err)

	listener, err := s.listen()
	require.NoError(t, err)
	defer listener.Close()
	assert.NotEmpty(t, listener.Addr().String())
}

func TestListenRejectsMissingCertWithKeyConfigured(t *testing.T) {
	cfg := plainConfig(t)
	cfg.TLS.CertFile = "/nonexistent/cert.pem"
	cfg.TLS.KeyFile = "/nonexistent/key.pem"
	s, err := New(context.Background(), discardLog(), cfg)
	require.NoError(t, err)

	_, err = s.listen()
	assert.Error(t, err)
}

func TestCloseAllClosesAndClearsTrackedSessions(t *testing.T) {
	cfg := plainConfig(t)
	s, err := New(context.Background(), discardLog(), cfg)
	require.NoError(t, err)

	server, client := net.Pipe()
	defer client.Close()

	s.mu.Lock()
	s.sessions[1] = &clientSession{id: 1, conn: server}
	s.mu.Unlock()
	require.Equal(t, 1, s.ConnectionCount())

	s.closeAll()
	assert.Equal(t, 0, s.ConnectionCount())

	// A closed net.Pipe end returns io.ErrClosedPipe on further writes.
	_, writeErr := server.Write([]byte("x"))
	assert.Error(t, writeErr)
}

func TestConnectionCountReflectsRegisteredSessions(t *testing.T) {
	cfg := plainConfig(t)
	s, err := New(context.Background(), discardLog(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 0, s.ConnectionCount())

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s.mu.Lock()
	s.sessions[1] = &clientSession{id: 1, conn: server}
	s.mu.Unlock()
	assert.Equal(t, 1, s.ConnectionCount())
}
