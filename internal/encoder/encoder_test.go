package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamco/rdp-server/internal/color"
)

// fakeBackend is a deterministic stand-in for a real codec backend, used
// to exercise VideoEncoder's validation, stats, and auxiliary-stream
// plumbing without depending on cgo bindings.
type fakeBackend struct {
	cfg           Config
	encodeCalls   int
	forcedKeys    int
	closed        bool
	failNextEncode bool
}

func newFakeBackend(cfg Config) (Backend, error) {
	return &fakeBackend{cfg: cfg}, nil
}

func (f *fakeBackend) Encode(yuv *color.YUV444) ([]EncodedFrame, error) {
	f.encodeCalls++
	if f.failNextEncode {
		f.failNextEncode = false
		return nil, assertErr
	}
	frames := []EncodedFrame{{View: ViewMain, Data: []byte{1, 2, 3}, IsKeyframe: f.forcedKeys > 0}}
	if f.cfg.Mode == ModeAVC444 {
		frames = append(frames, EncodedFrame{View: ViewAux, Data: []byte{4, 5}, IsKeyframe: f.forcedKeys > 0})
	}
	if f.forcedKeys > 0 {
		f.forcedKeys--
	}
	return frames, nil
}

func (f *fakeBackend) SetBitrate(kbps int) error       { f.cfg.BitrateKbps = kbps; return nil }
func (f *fakeBackend) SetDimensions(w, h int) error    { f.cfg.Width, f.cfg.Height = w, h; return nil }
func (f *fakeBackend) ForceKeyframe() error            { f.forcedKeys++; return nil }
func (f *fakeBackend) Close() error                    { f.closed = true; return nil }
func (f *fakeBackend) Name() string                    { return "fake" }
func (f *fakeBackend) IsHardware() bool                { return false }

var assertErr = &encodeErr{"stub encode failure"}

type encodeErr struct{ msg string }

func (e *encodeErr) Error() string { return e.msg }

func testYUV() *color.YUV444 {
	return color.NewYUV444(4, 4)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BitrateKbps = 0
	_, err := New(cfg, newFakeBackend)
	assert.ErrorIs(t, err, ErrInvalidBitrate)

	cfg = DefaultConfig()
	cfg.Mode = "bogus"
	_, err = New(cfg, newFakeBackend)
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestEncodeUpdatesStats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 4, 4
	enc, err := New(cfg, newFakeBackend)
	require.NoError(t, err)

	_, err = enc.Encode(testYUV())
	require.NoError(t, err)

	stats := enc.StatsSnapshot()
	assert.Equal(t, uint64(1), stats.FramesEncoded)
	assert.Equal(t, uint64(0), stats.EncodeErrors)
}

func TestAVC444EmitsAuxFrame(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeAVC444
	cfg.Width, cfg.Height = 4, 4
	enc, err := New(cfg, newFakeBackend)
	require.NoError(t, err)

	frames, err := enc.Encode(testYUV())
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, ViewAux, frames[1].View)

	stats := enc.StatsSnapshot()
	assert.Equal(t, uint64(1), stats.AuxFramesEmitted)
}

func TestForceKeyframeAppliesToNextEncode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 4, 4
	enc, err := New(cfg, newFakeBackend)
	require.NoError(t, err)

	require.NoError(t, enc.ForceKeyframe())
	frames, err := enc.Encode(testYUV())
	require.NoError(t, err)
	assert.True(t, frames[0].IsKeyframe)

	stats := enc.StatsSnapshot()
	assert.Equal(t, uint64(1), stats.KeyframesForced)
}

func TestEncodeErrorIncrementsStats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 4, 4
	enc, err := New(cfg, newFakeBackend)
	require.NoError(t, err)

	fb := enc.backend.(*fakeBackend)
	fb.failNextEncode = true

	_, err = enc.Encode(testYUV())
	assert.Error(t, err)
	assert.Equal(t, uint64(1), enc.StatsSnapshot().EncodeErrors)
}

func TestCloseReleasesBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 4, 4
	enc, err := New(cfg, newFakeBackend)
	require.NoError(t, err)

	fb := enc.backend.(*fakeBackend)
	require.NoError(t, enc.Close())
	assert.True(t, fb.closed)
	assert.Equal(t, "", enc.BackendName())

	_, err = enc.Encode(testYUV())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestSelectLevelReflectsDimensions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height, cfg.FPS, cfg.BitrateKbps = 1920, 1080, 30, 5000
	enc, err := New(cfg, newFakeBackend)
	require.NoError(t, err)

	lvl := enc.SelectLevel()
	assert.NotZero(t, lvl)
}
