package egfx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readyChannel(t *testing.T) *Channel {
	t.Helper()
	c := New(DefaultConfig())
	_, err := c.OnCapabilitiesAdvertise([]ClientCapability{{Version: Version10_7, Flags: 0}})
	require.NoError(t, err)
	_, err = c.OnReady()
	require.NoError(t, err)
	return c
}

func TestChannelLifecycleStates(t *testing.T) {
	c := New(DefaultConfig())
	assert.Equal(t, StateInit, c.State())

	_, err := c.OnCapabilitiesAdvertise([]ClientCapability{{Version: Version10_7}})
	require.NoError(t, err)
	assert.Equal(t, StateCapsAdvertised, c.State())

	_, err = c.OnReady()
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, c.State())

	c.Close()
	assert.Equal(t, StateClosed, c.State())
}

func TestOnReadyCreatesPrimarySurfaceAtConfiguredGeometry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputWidth, cfg.OutputHeight = 1920, 1080
	c := New(cfg)
	_, err := c.OnCapabilitiesAdvertise([]ClientCapability{{Version: Version10_7}})
	require.NoError(t, err)

	surface, err := c.OnReady()
	require.NoError(t, err)
	assert.Equal(t, 1920, surface.Width)
	assert.Equal(t, 1080, surface.Height)

	primary, ok := c.Surfaces().Primary()
	require.True(t, ok)
	assert.Equal(t, surface.ID, primary.ID)
}

func TestOnReadyRejectedBeforeCapsAdvertised(t *testing.T) {
	c := New(DefaultConfig())
	_, err := c.OnReady()
	assert.Error(t, err)
}

func TestCanSendRespectsMaxInFlightWindow(t *testing.T) {
	c := readyChannel(t)
	c.cfg.MaxFramesInFlight = 2

	assert.True(t, c.CanSend())
	c.IssueTicket(0, time.Now(), true)
	assert.True(t, c.CanSend())
	c.IssueTicket(0, time.Now(), false)
	assert.False(t, c.CanSend())
}

func TestFrameIDsAreStrictlyMonotonic(t *testing.T) {
	c := readyChannel(t)
	first := c.IssueTicket(0, time.Now(), true)
	second := c.IssueTicket(0, time.Now(), false)
	assert.Less(t, first.FrameID, second.FrameID)
}

func TestOnFrameAckRetiresTicketAndFreesWindow(t *testing.T) {
	c := readyChannel(t)
	c.cfg.MaxFramesInFlight = 1
	ticket := c.IssueTicket(0, time.Now(), true)
	assert.False(t, c.CanSend())

	c.OnFrameAck(ticket.FrameID, 0)
	assert.True(t, c.CanSend())
	assert.Equal(t, 0, c.InFlightCount())
}

func TestOnFrameAckRetiresOlderUnackedTicketsToo(t *testing.T) {
	c := readyChannel(t)
	c.IssueTicket(0, time.Now(), true)
	second := c.IssueTicket(0, time.Now(), false)
	third := c.IssueTicket(0, time.Now(), false)

	c.OnFrameAck(third.FrameID, 0)
	assert.Equal(t, 0, c.InFlightCount())
	_ = second
}

func TestOnSendResultAfterKeyframeIsFatal(t *testing.T) {
	c := readyChannel(t)
	ticket := c.IssueTicket(0, time.Now(), true)

	outcome := c.OnSendResult(ticket.FrameID, assertError())
	assert.Equal(t, SendFatal, outcome)
	assert.Equal(t, StateClosed, c.State())
}

func TestOnSendResultAfterPFrameForcesKeyframe(t *testing.T) {
	c := readyChannel(t)
	ticket := c.IssueTicket(0, time.Now(), false)

	outcome := c.OnSendResult(ticket.FrameID, assertError())
	assert.Equal(t, SendForceKeyframe, outcome)
	assert.Equal(t, StateStreaming, c.State())
}

func TestThreeConsecutiveTimeoutsAbortSession(t *testing.T) {
	c := readyChannel(t)
	t1 := c.IssueTicket(0, time.Now(), false)
	t2 := c.IssueTicket(0, time.Now(), false)
	t3 := c.IssueTicket(0, time.Now(), false)

	assert.Equal(t, SendForceKeyframe, c.OnTicketTimeout(t1.FrameID))
	assert.Equal(t, SendForceKeyframe, c.OnTicketTimeout(t2.FrameID))
	assert.Equal(t, SendFatal, c.OnTicketTimeout(t3.FrameID))
	assert.Equal(t, StateClosed, c.State())
}

func TestAckResetsConsecutiveTimeoutCounter(t *testing.T) {
	c := readyChannel(t)
	t1 := c.IssueTicket(0, time.Now(), false)
	c.OnTicketTimeout(t1.FrameID)

	t2 := c.IssueTicket(0, time.Now(), false)
	c.OnFrameAck(t2.FrameID, 0)

	t3 := c.IssueTicket(0, time.Now(), false)
	t4 := c.IssueTicket(0, time.Now(), false)
	assert.Equal(t, SendForceKeyframe, c.OnTicketTimeout(t3.FrameID))
	assert.Equal(t, SendForceKeyframe, c.OnTicketTimeout(t4.FrameID))
}

func TestSelectCodecFallsBackToRFXWithoutH264(t *testing.T) {
	c := New(DefaultConfig())
	_, err := c.OnCapabilitiesAdvertise([]ClientCapability{{Version: Version8, Flags: 0}})
	require.NoError(t, err)
	_, _ = c.OnReady()

	assert.Equal(t, CodecRFX, c.SelectCodec(true))
}

func TestSelectCodecPrefersAVC444OnV10WhenWanted(t *testing.T) {
	c := readyChannel(t)
	assert.Equal(t, CodecAVC444, c.SelectCodec(true))
}

func TestSelectCodecUsesAVC420WhenAVC444NotWanted(t *testing.T) {
	c := readyChannel(t)
	assert.Equal(t, CodecAVC420, c.SelectCodec(false))
}

func TestSelectCodecUsesAVC420OnV8_1WithFlag(t *testing.T) {
	c := New(DefaultConfig())
	_, err := c.OnCapabilitiesAdvertise([]ClientCapability{{Version: Version8_1, Flags: CapFlagAVC420Enabled}})
	require.NoError(t, err)
	_, _ = c.OnReady()

	assert.Equal(t, CodecAVC420, c.SelectCodec(true))
}

func assertError() error { return errTestSend }

var errTestSend = testSendError("send failed")

type testSendError string

func (e testSendError) Error() string { return string(e) }
