package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamco/rdp-server/internal/config"
	"github.com/lamco/rdp-server/internal/egfx"
	"github.com/lamco/rdp-server/internal/processor"
)

func solidFrame(width, height int, b, g, r byte) processor.Frame {
	data := make([]byte, width*height*4)
	for i := 0; i < width*height; i++ {
		data[i*4] = b
		data[i*4+1] = g
		data[i*4+2] = r
		data[i*4+3] = 0xff
	}
	return processor.Frame{Data: data, Width: width, Height: height, Stride: width * 4}
}

func testPipeline(t *testing.T) *Pipeline {
	t.Helper()
	enc := newFakeEncoder(t, "openh264", false)
	egfxCfg := egfx.DefaultConfig()
	egfxCfg.OutputWidth, egfxCfg.OutputHeight = 64, 64
	return NewPipeline(config.Config{}, enc, egfxCfg)
}

func TestProcessNextReturnsFalseWhenQueueEmpty(t *testing.T) {
	p := testPipeline(t)
	_, ok, err := p.ProcessNext(time.Now(), false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessNextEncodesFirstFrameAsKeyframe(t *testing.T) {
	p := testPipeline(t)
	p.PushFrame(solidFrame(64, 64, 10, 20, 30))

	produced, ok, err := p.ProcessNext(time.Now(), false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, produced.Skipped)
	assert.Equal(t, uint32(1), produced.Ticket.FrameID)
}

func TestProcessNextSkipsUnchangedSubsequentFrame(t *testing.T) {
	p := testPipeline(t)
	frame := solidFrame(64, 64, 10, 20, 30)

	p.PushFrame(frame)
	_, ok, err := p.ProcessNext(time.Now(), false)
	require.NoError(t, err)
	require.True(t, ok)

	p.PushFrame(frame)
	produced, ok, err := p.ProcessNext(time.Now(), false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, produced.Skipped)
}

func TestProcessNextEncodesChangedSubsequentFrame(t *testing.T) {
	p := testPipeline(t)
	p.PushFrame(solidFrame(64, 64, 10, 20, 30))
	_, ok, err := p.ProcessNext(time.Now(), false)
	require.NoError(t, err)
	require.True(t, ok)

	p.PushFrame(solidFrame(64, 64, 200, 200, 200))
	produced, ok, err := p.ProcessNext(time.Now(), false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, produced.Skipped)
	assert.Equal(t, uint32(2), produced.Ticket.FrameID)
}

func TestProcessNextRespectsInFlightWindow(t *testing.T) {
	p := testPipeline(t)
	p.egfx = egfx.New(egfx.Config{MaxFramesInFlight: 1, OutputWidth: 64, OutputHeight: 64})

	p.PushFrame(solidFrame(64, 64, 1, 2, 3))
	_, ok, err := p.ProcessNext(time.Now(), false)
	require.NoError(t, err)
	require.True(t, ok)

	p.PushFrame(solidFrame(64, 64, 4, 5, 6))
	_, ok, err = p.ProcessNext(time.Now(), false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOnSendResultAfterFirstFrameFailureIsFatal(t *testing.T) {
	p := testPipeline(t)
	p.PushFrame(solidFrame(64, 64, 1, 2, 3))
	produced, ok, err := p.ProcessNext(time.Now(), false)
	require.NoError(t, err)
	require.True(t, ok)

	outcome := p.OnSendResult(produced.Ticket.FrameID, assertTestSendErr())
	assert.Equal(t, egfx.SendFatal, outcome) // first frame is always sent as a keyframe
}

type testSendErr string

func (e testSendErr) Error() string { return string(e) }

func assertTestSendErr() error { return testSendErr("write failed") }
