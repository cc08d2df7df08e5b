package portal

import (
	"io"
	"log/slog"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamsExtractsNodeIDAndGeometry(t *testing.T) {
	streams := [][]interface{}{
		{
			uint32(42),
			map[string]dbus.Variant{
				"size":     dbus.MakeVariant([]int32{1920, 1080}),
				"position": dbus.MakeVariant([]int32{0, 0}),
			},
		},
	}
	desc, err := parseStreams(dbus.MakeVariant(streams))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), desc.NodeID)
	assert.Equal(t, 1920, desc.Width)
	assert.Equal(t, 1080, desc.Height)
}

func TestParseStreamsToleratesMissingGeometry(t *testing.T) {
	streams := [][]interface{}{
		{uint32(7), map[string]dbus.Variant{}},
	}
	desc, err := parseStreams(dbus.MakeVariant(streams))
	require.NoError(t, err)
	assert.Equal(t, uint32(7), desc.NodeID)
	assert.Equal(t, 0, desc.Width)
}

func TestParseStreamsRejectsEmptyArray(t *testing.T) {
	_, err := parseStreams(dbus.MakeVariant([][]interface{}{}))
	assert.Error(t, err)
}

func TestParseStreamsRejectsMissingNodeID(t *testing.T) {
	streams := [][]interface{}{{}}
	_, err := parseStreams(dbus.MakeVariant(streams))
	assert.Error(t, err)
}

func TestStrategyLifecycleFlags(t *testing.T) {
	// With no reachable session bus the version probe fails, which
	// SupportsUnattendedRestore treats as unsupported.
	t.Setenv("DBUS_SESSION_BUS_ADDRESS", "unix:path=/nonexistent/rdp-server-test-bus")
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)), "")
	assert.True(t, s.RequiresInitialSetup())
	assert.False(t, s.SupportsUnattendedRestore())

	s2 := New(nil, "some-token")
	assert.False(t, s2.RequiresInitialSetup())
}
