package wlrdirect

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFirstStreamExtractsNodeIDAndSize(t *testing.T) {
	streams := [][]interface{}{
		{uint32(9), map[string]dbus.Variant{"size": dbus.MakeVariant([]int32{800, 600})}},
	}
	desc, err := parseFirstStream(dbus.MakeVariant(streams))
	require.NoError(t, err)
	assert.Equal(t, uint32(9), desc.NodeID)
	assert.Equal(t, 800, desc.Width)
	assert.Equal(t, 600, desc.Height)
}

func TestParseFirstStreamRejectsEmpty(t *testing.T) {
	_, err := parseFirstStream(dbus.MakeVariant([][]interface{}{}))
	assert.Error(t, err)
}

func TestStrategyLifecycleFlags(t *testing.T) {
	s := New(nil, 1920, 1080)
	assert.True(t, s.RequiresInitialSetup())
	assert.False(t, s.SupportsUnattendedRestore())
	assert.Equal(t, 1920, s.ScreenWidth)
}
