package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamco/rdp-server/internal/capture"
	"github.com/lamco/rdp-server/internal/clipboard"
	"github.com/lamco/rdp-server/internal/color"
	"github.com/lamco/rdp-server/internal/encoder"
)

type fakeBackend struct {
	name       string
	isHardware bool
}

func (b *fakeBackend) Encode(yuv *color.YUV444) ([]encoder.EncodedFrame, error) { return nil, nil }
func (b *fakeBackend) SetBitrate(kbps int) error                               { return nil }
func (b *fakeBackend) SetDimensions(width, height int) error                   { return nil }
func (b *fakeBackend) ForceKeyframe() error                                    { return nil }
func (b *fakeBackend) Close() error                                            { return nil }
func (b *fakeBackend) Name() string                                            { return b.name }
func (b *fakeBackend) IsHardware() bool                                        { return b.isHardware }

func newFakeEncoder(t *testing.T, name string, hardware bool) *encoder.VideoEncoder {
	t.Helper()
	enc, err := encoder.New(encoder.DefaultConfig(), func(cfg encoder.Config) (encoder.Backend, error) {
		return &fakeBackend{name: name, isHardware: hardware}, nil
	})
	require.NoError(t, err)
	return enc
}

func TestDeriveAdvertisesAVC444ForSoftwareBackend(t *testing.T) {
	enc := newFakeEncoder(t, "openh264", false)
	reg := NewRegistry()

	caps := reg.Derive(capture.SessionTypeMutter, enc, clipboard.NewFormatConverter())
	assert.True(t, caps.AVC420)
	assert.True(t, caps.AVC444)
	assert.False(t, caps.HardwareEncode)
	assert.Equal(t, "openh264", caps.EncoderBackend)
}

func TestDeriveWithholdsAVC444ForHardwareBackend(t *testing.T) {
	enc := newFakeEncoder(t, "vaapi", true)
	reg := NewRegistry()

	caps := reg.Derive(capture.SessionTypeMutter, enc, clipboard.NewFormatConverter())
	assert.True(t, caps.HardwareEncode)
	assert.False(t, caps.AVC444)
}

func TestDerivePopulatesClipboardFormats(t *testing.T) {
	enc := newFakeEncoder(t, "openh264", false)
	reg := NewRegistry()

	caps := reg.Derive(capture.SessionTypeMutter, enc, clipboard.NewFormatConverter())
	assert.NotEmpty(t, caps.ClipboardFormats)
}

func TestCurrentReflectsLatestDerive(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, Capabilities{}, reg.Current())

	enc := newFakeEncoder(t, "openh264", false)
	reg.Derive(capture.SessionTypeLibei, enc, clipboard.NewFormatConverter())
	assert.Equal(t, capture.SessionTypeLibei, reg.Current().CaptureStrategy)
}
