// Package color implements the BGRA<->YUV pixel kernels and color-space
// metadata described in spec §3/§4.1: BT.601/BT.709/OpenH264-internal
// matrices, limited/full range clamping, and the AVC444 dual-view YUV420
// packer. The integer fixed-point approach follows the teacher's own
// bgraToNV12 conversion (api/pkg/desktop/colorconv.go), generalized to
// the full matrix/range table spec requires and to 4:4:4 output.
package color

// Matrix selects the RGB->YUV coefficient set.
type Matrix int

const (
	// MatrixOpenH264 matches OpenH264's internal integer RGB->YUV matrix,
	// so AVC420 and AVC444 outputs from the same source are visually
	// identical regardless of which encoder back-end produced them.
	MatrixOpenH264 Matrix = iota
	MatrixBT601
	MatrixBT709
)

// Range selects output clamping.
type Range int

const (
	RangeLimited Range = iota // Y in [16,235], C in [16,240]
	RangeFull                 // [0,255]
)

// VUI carries the H.264 SPS VUI triple that must match the active
// ColorSpaceConfig so decoder and encoder matrices agree (spec §4.4).
type VUI struct {
	ColourPrimaries         uint8
	TransferCharacteristics uint8
	MatrixCoefficients      uint8
	FullRange               bool
}

// Config bundles matrix, range, and VUI metadata (spec §3 ColorSpaceConfig).
type Config struct {
	Matrix Matrix
	Range  Range
	VUI    VUI
}

// Preset names from spec §3.
const (
	PresetOpenH264Compatible = "openh264"
	PresetBT709Limited       = "bt709_limited"
	PresetBT709Full          = "bt709_full"
	PresetBT601Limited       = "bt601_limited"
	PresetSRGBFull           = "srgb_full"
)

// Preset returns the ColorSpaceConfig for one of the named presets.
func Preset(name string) Config {
	switch name {
	case PresetBT709Limited:
		return Config{Matrix: MatrixBT709, Range: RangeLimited, VUI: VUI{ColourPrimaries: 1, TransferCharacteristics: 1, MatrixCoefficients: 1, FullRange: false}}
	case PresetBT709Full:
		return Config{Matrix: MatrixBT709, Range: RangeFull, VUI: VUI{ColourPrimaries: 1, TransferCharacteristics: 1, MatrixCoefficients: 1, FullRange: true}}
	case PresetBT601Limited:
		return Config{Matrix: MatrixBT601, Range: RangeLimited, VUI: VUI{ColourPrimaries: 6, TransferCharacteristics: 6, MatrixCoefficients: 6, FullRange: false}}
	case PresetSRGBFull:
		return Config{Matrix: MatrixBT709, Range: RangeFull, VUI: VUI{ColourPrimaries: 1, TransferCharacteristics: 13, MatrixCoefficients: 1, FullRange: true}}
	case PresetOpenH264Compatible:
		fallthrough
	default:
		return Config{Matrix: MatrixOpenH264, Range: RangeLimited, VUI: VUI{ColourPrimaries: 2, TransferCharacteristics: 2, MatrixCoefficients: 2, FullRange: false}}
	}
}

// AutoSelect implements spec §3's auto-selection rule: HD prefers BT.709,
// SD prefers BT.601, and an explicit compat mode always wins.
func AutoSelect(width, height int, compatMode bool) Config {
	if compatMode {
		return Preset(PresetOpenH264Compatible)
	}
	if height >= 720 {
		return Preset(PresetBT709Limited)
	}
	return Preset(PresetBT601Limited)
}

// coefficients holds the fixed-point (Q8) integer RGB->YUV coefficients
// for a given matrix, matching the teacher's 66/129/25 BT.601 constants
// for the BT.601 case and OpenH264's own published integer matrix for
// the OpenH264-internal case.
type coefficients struct {
	yr, yg, yb     int32
	ur, ug, ub     int32
	vr, vg, vb     int32
	yOffset        int32
}

func coeffsFor(m Matrix) coefficients {
	switch m {
	case MatrixBT709:
		return coefficients{
			yr: 47, yg: 157, yb: 16, yOffset: 16,
			ur: -26, ug: -86, ub: 112,
			vr: 112, vg: -102, vb: -10,
		}
	case MatrixBT601, MatrixOpenH264:
		fallthrough
	default:
		// BT.601 integer matrix, identical to OpenH264's internal RGB->YUV
		// path so AVC420/AVC444 match bit-for-bit on the same input.
		return coefficients{
			yr: 66, yg: 129, yb: 25, yOffset: 16,
			ur: -38, ug: -74, ub: 112,
			vr: 112, vg: -94, vb: -18,
		}
	}
}

func clamp8(v int32, lo, hi int32) byte {
	if v < lo {
		return byte(lo)
	}
	if v > hi {
		return byte(hi)
	}
	return byte(v)
}

func (c Config) yBounds() (lo, hi int32) {
	if c.Range == RangeFull {
		return 0, 255
	}
	return 16, 235
}

func (c Config) cBounds() (lo, hi int32) {
	if c.Range == RangeFull {
		return 0, 255
	}
	return 16, 240
}
