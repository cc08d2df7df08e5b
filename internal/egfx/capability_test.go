package egfx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiatePicksHighestCommonVersion(t *testing.T) {
	client := []ClientCapability{
		{Version: Version8_1, Flags: CapFlagAVC420Enabled},
		{Version: Version10_4, Flags: 0},
		{Version: Version10, Flags: 0},
	}
	caps, ok := Negotiate(client)
	require.True(t, ok)
	assert.Equal(t, Version10_4, caps.Version)
	assert.True(t, caps.H264Available)
}

func TestNegotiateV8_1WithAVC420FlagIsH264Available(t *testing.T) {
	client := []ClientCapability{
		{Version: Version8_1, Flags: CapFlagAVC420Enabled},
	}
	caps, ok := Negotiate(client)
	require.True(t, ok)
	assert.Equal(t, Version8_1, caps.Version)
	assert.True(t, caps.H264Available)
	assert.True(t, caps.AVC420Enabled())
}

func TestNegotiateV8WithoutAVC420IsNotH264Available(t *testing.T) {
	client := []ClientCapability{
		{Version: Version8, Flags: 0},
	}
	caps, ok := Negotiate(client)
	require.True(t, ok)
	assert.False(t, caps.H264Available)
}

func TestNegotiateFailsWithNoCommonVersion(t *testing.T) {
	_, ok := Negotiate(nil)
	assert.False(t, ok)
}
