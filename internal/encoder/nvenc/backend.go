//go:build nvenc

// Package nvenc implements the hardware backend registry entry for
// NVIDIA NVENC, following the teacher's build-tag-gated stub
// (LanternOps-breeze agent/internal/remote/desktop/encoder_nvenc.go): a
// placeholder passthrough until the cgo NVENC bindings are wired in, kept
// behind the same build tag so non-NVIDIA builds never reference them.
package nvenc

import (
	"errors"
	"sync"

	"github.com/lamco/rdp-server/internal/color"
	"github.com/lamco/rdp-server/internal/encoder"
)

func init() {
	encoder.RegisterHardwareFactory(newBackend)
}

type backend struct {
	mu            sync.Mutex
	cfg           encoder.Config
	forceKeyframe bool
}

func newBackend(cfg encoder.Config) (encoder.Backend, error) {
	if cfg.Mode == encoder.ModeAVC444 {
		return nil, errors.New("nvenc: AVC444 not supported, falls back to software")
	}
	return &backend{cfg: cfg}, nil
}

// Encode is a placeholder passthrough until the NVENC cgo bindings are
// integrated; it produces the packed main-view YUV420 bytes unencoded so
// the rest of the pipeline (tickets, EGFX framing) can be exercised
// end-to-end ahead of the real codec.
func (b *backend) Encode(yuv *color.YUV444) ([]encoder.EncodedFrame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	view0, _ := color.PackDualViews(yuv)
	out := make([]byte, 0, len(view0.Y)+2*len(view0.U))
	out = append(out, view0.Y...)
	out = append(out, view0.U...)
	out = append(out, view0.V...)

	isKey := b.forceKeyframe
	b.forceKeyframe = false

	return []encoder.EncodedFrame{{View: encoder.ViewMain, Data: out, IsKeyframe: isKey}}, nil
}

func (b *backend) SetBitrate(kbps int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if kbps <= 0 {
		return encoder.ErrInvalidBitrate
	}
	b.cfg.BitrateKbps = kbps
	return nil
}

func (b *backend) SetDimensions(width, height int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Width, b.cfg.Height = width, height
	return nil
}

func (b *backend) ForceKeyframe() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forceKeyframe = true
	return nil
}

func (b *backend) Close() error { return nil }

func (b *backend) Name() string     { return "nvenc" }
func (b *backend) IsHardware() bool { return true }
