package server

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamco/rdp-server/internal/config"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// New talks to D-Bus and the filesystem for real back-end detection; in
// this sandboxed test environment every capture/credential back-end is
// expected to be unavailable, exercising the before-Open diagnostic path.
func TestDiagnosticsBeforeOpenReportsNoActiveStrategy(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	s, err := New(context.Background(), discardLog(), config.Config{})
	require.NoError(t, err)

	diag := s.Diagnostics()
	assert.False(t, diag.CaptureActive)
	assert.Equal(t, "none", diag.CaptureStrategy)
	assert.NotEmpty(t, diag.CredentialBackend)
}
