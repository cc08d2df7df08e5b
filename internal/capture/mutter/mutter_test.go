package mutter

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStrategyLifecycleFlags(t *testing.T) {
	s := New(discardLog())
	assert.False(t, s.RequiresInitialSetup())
	assert.True(t, s.SupportsUnattendedRestore())
	assert.Equal(t, "mutter", s.Name().String())
}
