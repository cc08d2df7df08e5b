// Package openh264 implements the software H.264 backend using the
// y9o/go-openh264 bindings, following the teacher's software-encoder
// shape (LanternOps-breeze agent/internal/remote/desktop/encoder_software.go):
// a thin mutex-guarded wrapper with no build tag, used as the unconditional
// fallback when no hardware backend claims the configuration.
package openh264

import (
	"errors"
	"sync"

	"github.com/y9o/go-openh264/openh264"

	"github.com/lamco/rdp-server/internal/color"
	"github.com/lamco/rdp-server/internal/encoder"
)

type backend struct {
	mu  sync.Mutex
	cfg encoder.Config

	main *openh264.Encoder
	aux  *openh264.Encoder

	forceKeyframe bool

	// AVC444 auxiliary-stream omission state (spec §4.4).
	lastSentAux  *color.YUV420
	auxOmitRun   int
}

// New constructs the OpenH264 software backend. It is registered as the
// unconditional software_factory passed to encoder.New; it never appears
// in the hardware factory registry.
func New(cfg encoder.Config) (encoder.Backend, error) {
	b := &backend{cfg: cfg}
	if err := b.reinit(cfg.Width, cfg.Height, cfg.BitrateKbps); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *backend) reinit(width, height, bitrateKbps int) error {
	if width <= 0 || height <= 0 {
		// Dimensions arrive from the first captured frame; defer encoder
		// construction until SetDimensions supplies real values.
		return nil
	}

	main, err := openh264.NewEncoder(openh264.Config{
		Width:       width,
		Height:      height,
		FPS:         b.cfg.FPS,
		BitrateKbps: bitrateKbps,
	})
	if err != nil {
		return err
	}
	if b.main != nil {
		b.main.Close()
	}
	b.main = main

	if b.cfg.Mode == encoder.ModeAVC444 {
		auxBitrate := int(float64(bitrateKbps) * b.cfg.AuxBitrateRatio)
		aux, err := openh264.NewEncoder(openh264.Config{
			Width:       width,
			Height:      height,
			FPS:         b.cfg.FPS,
			BitrateKbps: auxBitrate,
		})
		if err != nil {
			main.Close()
			b.main = nil
			return err
		}
		if b.aux != nil {
			b.aux.Close()
		}
		b.aux = aux
	}
	b.lastSentAux = nil
	b.auxOmitRun = 0
	return nil
}

func (b *backend) Encode(yuv *color.YUV444) ([]encoder.EncodedFrame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.main == nil {
		return nil, errors.New("openh264: encoder not initialized (dimensions unset)")
	}

	mainView, auxView := color.PackDualViews(yuv)
	if b.cfg.Mode == encoder.ModeAVC420 {
		// Discard the aux chroma split; AVC420 only ever sends mainView.
		auxView = nil
	}

	forceKey := b.forceKeyframe
	b.forceKeyframe = false

	mainNAL, mainKey, err := b.main.Encode(openh264.YUVImage{
		Y: mainView.Y, U: mainView.U, V: mainView.V,
		Width: mainView.Width, Height: mainView.Height,
	}, forceKey)
	if err != nil {
		return nil, err
	}

	frames := []encoder.EncodedFrame{{View: encoder.ViewMain, Data: mainNAL, IsKeyframe: mainKey}}

	if b.aux != nil && auxView != nil {
		changed := auxChangeFraction(b.lastSentAux, auxView)
		maxInterval := b.cfg.MaxAuxInterval
		if maxInterval <= 0 {
			maxInterval = 30
		}
		omit := changed <= b.cfg.AuxChangeThreshold && b.auxOmitRun < maxInterval

		if omit {
			b.auxOmitRun++
		} else {
			returning := b.auxOmitRun > 0
			b.auxOmitRun = 0

			auxForceKey := forceKey
			if returning && b.cfg.ForceAuxIdrOnReturn {
				auxForceKey = true
			}

			auxNAL, auxKey, err := b.aux.Encode(openh264.YUVImage{
				Y: auxView.Y, U: auxView.U, V: auxView.V,
				Width: auxView.Width, Height: auxView.Height,
			}, auxForceKey)
			if err != nil {
				return nil, err
			}
			frames = append(frames, encoder.EncodedFrame{View: encoder.ViewAux, Data: auxNAL, IsKeyframe: auxKey})
			b.lastSentAux = auxView
		}
	}

	return frames, nil
}

// auxChangeFraction reports the fraction of aux-view chroma samples
// that differ from the last sent aux view, used by the AVC444
// auxiliary-stream omission policy (spec §4.4). Only chroma is
// compared: luma is identical between the main and aux views by
// construction (internal/color.PackDualViews), so it carries no
// information about whether the aux stream specifically changed. A
// nil previous view (no aux frame sent yet, or a geometry change)
// always reports fully changed.
func auxChangeFraction(prev, cur *color.YUV420) float64 {
	if prev == nil || cur == nil {
		return 1
	}
	if prev.Width != cur.Width || prev.Height != cur.Height {
		return 1
	}
	total := len(cur.U) + len(cur.V)
	if total == 0 {
		return 0
	}
	var diff int
	for i := range cur.U {
		if cur.U[i] != prev.U[i] {
			diff++
		}
	}
	for i := range cur.V {
		if cur.V[i] != prev.V[i] {
			diff++
		}
	}
	return float64(diff) / float64(total)
}

func (b *backend) SetBitrate(kbps int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.main == nil {
		return errors.New("openh264: encoder not initialized")
	}
	if err := b.main.SetBitrateKbps(kbps); err != nil {
		return err
	}
	if b.aux != nil {
		auxKbps := int(float64(kbps) * b.cfg.AuxBitrateRatio)
		if err := b.aux.SetBitrateKbps(auxKbps); err != nil {
			return err
		}
	}
	b.cfg.BitrateKbps = kbps
	return nil
}

func (b *backend) SetDimensions(width, height int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Width, b.cfg.Height = width, height
	return b.reinit(width, height, b.cfg.BitrateKbps)
}

func (b *backend) ForceKeyframe() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forceKeyframe = true
	return nil
}

func (b *backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.main != nil {
		b.main.Close()
		b.main = nil
	}
	if b.aux != nil {
		b.aux.Close()
		b.aux = nil
	}
	return nil
}

func (b *backend) Name() string     { return "openh264" }
func (b *backend) IsHardware() bool { return false }
