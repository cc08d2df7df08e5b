package damage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatFrame(width, height int, b, g, r byte) []byte {
	buf := make([]byte, width*height*4)
	for i := 0; i < len(buf); i += 4 {
		buf[i], buf[i+1], buf[i+2], buf[i+3] = b, g, r, 255
	}
	return buf
}

func paintRegion(frame []byte, width int, x, y, w, h int, b, g, r byte) {
	for row := y; row < y+h; row++ {
		rowOff := row * width * 4
		for col := x; col < x+w; col++ {
			pi := rowOff + col*4
			frame[pi], frame[pi+1], frame[pi+2] = b, g, r
		}
	}
}

func TestFirstFrameIsFullyDirty(t *testing.T) {
	d := NewDetector(DefaultConfig())
	frame := flatFrame(128, 128, 10, 20, 30)
	regions := d.Detect(frame, 128, 128)
	require.Len(t, regions, 1)
	assert.Equal(t, NewRegion(0, 0, 128, 128), regions[0])
}

func TestIdenticalFrameIsIdempotent(t *testing.T) {
	d := NewDetector(DefaultConfig())
	frame := flatFrame(128, 128, 10, 20, 30)
	d.Detect(frame, 128, 128)

	regions := d.Detect(frame, 128, 128)
	assert.Empty(t, regions)
}

func TestLocalizedDamageDetected(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDetector(cfg)
	base := flatFrame(256, 256, 0, 0, 0)
	d.Detect(base, 256, 256)

	changed := append([]byte(nil), base...)
	paintRegion(changed, 256, 64, 64, 32, 32, 255, 255, 255)

	regions := d.Detect(changed, 256, 256)
	require.NotEmpty(t, regions)

	// Coverage property: every changed pixel must fall inside at least
	// one returned region.
	covered := false
	for _, reg := range regions {
		if reg.X <= 64 && 64+32 <= reg.right() && reg.Y <= 64 && 64+32 <= reg.bottom() {
			covered = true
		}
	}
	assert.True(t, covered, "damaged area not covered by %v", regions)

	// The scene wasn't close to full-frame change, so the detector
	// shouldn't degrade to reporting the whole frame.
	for _, reg := range regions {
		assert.False(t, reg.W == 256 && reg.H == 256)
	}
}

func TestFullFrameThresholdCollapsesToSingleRegion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FullFrameThreshold = 0.5
	d := NewDetector(cfg)
	base := flatFrame(128, 128, 0, 0, 0)
	d.Detect(base, 128, 128)

	full := flatFrame(128, 128, 200, 200, 200)
	regions := d.Detect(full, 128, 128)
	require.Len(t, regions, 1)
	assert.Equal(t, NewRegion(0, 0, 128, 128), regions[0])
}

func TestOutputIsCanonicallyOrdered(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FullFrameThreshold = 0.95
	d := NewDetector(cfg)
	base := flatFrame(512, 512, 0, 0, 0)
	d.Detect(base, 512, 512)

	changed := append([]byte(nil), base...)
	paintRegion(changed, 512, 400, 400, 16, 16, 200, 200, 200)
	paintRegion(changed, 512, 10, 10, 16, 16, 100, 100, 100)

	regions := d.Detect(changed, 512, 512)
	require.Len(t, regions, 2)
	assert.True(t, regions[0].Y < regions[1].Y)
}

func TestBelowDiffThresholdIsNotDamage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PixelDiffThreshold = 20
	d := NewDetector(cfg)
	base := flatFrame(64, 64, 100, 100, 100)
	d.Detect(base, 64, 64)

	changed := append([]byte(nil), base...)
	paintRegion(changed, 64, 0, 0, 64, 64, 105, 100, 100) // diff of 5, under threshold

	regions := d.Detect(changed, 64, 64)
	assert.Empty(t, regions)
}

func TestResetForcesFullRedetect(t *testing.T) {
	d := NewDetector(DefaultConfig())
	frame := flatFrame(64, 64, 1, 2, 3)
	d.Detect(frame, 64, 64)
	assert.Empty(t, d.Detect(frame, 64, 64))

	d.Reset()
	regions := d.Detect(frame, 64, 64)
	require.Len(t, regions, 1)
}

func TestRegionOverlapsAndAdjacency(t *testing.T) {
	r1 := NewRegion(0, 0, 64, 64)
	r2 := NewRegion(32, 32, 64, 64)
	assert.True(t, r1.Overlaps(r2))

	r3 := NewRegion(200, 200, 64, 64)
	assert.False(t, r1.Overlaps(r3))
	assert.False(t, r1.IsAdjacent(r3, 32))

	r4 := NewRegion(80, 0, 64, 64)
	assert.True(t, r1.IsAdjacent(r4, 32))
}

func TestRegionUnionCoversBoth(t *testing.T) {
	r1 := NewRegion(0, 0, 10, 10)
	r2 := NewRegion(20, 20, 10, 10)
	u := r1.Union(r2)
	assert.Equal(t, NewRegion(0, 0, 30, 30), u)
}
