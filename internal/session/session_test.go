package session

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewManager talks to D-Bus and the filesystem for real back-end
// detection; in this sandboxed test environment every candidate and
// every credstore backend is expected to be unavailable, exercising
// the all-unavailable path rather than a live desktop session.
func TestNewManagerSucceedsEvenWithNoBackendsAvailable(t *testing.T) {
	m, err := NewManager(context.Background(), discardLog(), Options{
		DataHome:     t.TempDir(),
		ScreenWidth:  1920,
		ScreenHeight: 1080,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, m.CredentialBackendName())
}

func TestOpenFailsWhenNoCaptureStrategyAvailable(t *testing.T) {
	m, err := NewManager(context.Background(), discardLog(), Options{DataHome: t.TempDir()})
	require.NoError(t, err)

	_, err = m.Open(context.Background())
	assert.Error(t, err)
}
