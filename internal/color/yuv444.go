package color

// YUV444 holds three full-resolution planes.
type YUV444 struct {
	Width, Height int
	Y, U, V       []byte
}

// NewYUV444 allocates a YUV444 buffer for the given dimensions.
func NewYUV444(width, height int) *YUV444 {
	size := width * height
	return &YUV444{
		Width:  width,
		Height: height,
		Y:      make([]byte, size),
		U:      make([]byte, size),
		V:      make([]byte, size),
	}
}

// pixelYUV converts one BGRA pixel to Y/U/V using the fixed-point (Q8)
// coefficients for cfg. Both the scalar and wide conversion paths below
// call this single function, which is what makes their outputs
// bit-identical by construction (testable property §8.1).
func pixelYUV(b, g, r byte, c coefficients, cfg Config) (y, u, v byte) {
	rr, gg, bb := int32(r), int32(g), int32(b)

	yVal := (c.yr*rr+c.yg*gg+c.yb*bb+128)>>8 + c.yOffset
	uVal := (c.ur*rr+c.ug*gg+c.ub*bb+128)>>8 + 128
	vVal := (c.vr*rr+c.vg*gg+c.vb*bb+128)>>8 + 128
	if cfg.Range == RangeFull {
		// The Q8 coefficients yield limited-range values; stretch them
		// to span the full [0,255] range.
		yVal = ((yVal-16)*255 + 109) / 219
		uVal = (uVal-128)*255/224 + 128
		vVal = (vVal-128)*255/224 + 128
	}

	yLo, yHi := cfg.yBounds()
	cLo, cHi := cfg.cBounds()
	return clamp8(yVal, yLo, yHi), clamp8(uVal, cLo, cHi), clamp8(vVal, cLo, cHi)
}

// BGRAToYUV444Scalar converts a packed BGRA8888 buffer to YUV444 one pixel
// at a time. src must be stride*height bytes (stride >= width*4).
func BGRAToYUV444Scalar(src []byte, width, height, stride int, cfg Config) *YUV444 {
	out := NewYUV444(width, height)
	c := coeffsFor(cfg.Matrix)
	for y := 0; y < height; y++ {
		rowOff := y * stride
		planeOff := y * width
		for x := 0; x < width; x++ {
			pi := rowOff + x*4
			b, g, r := src[pi], src[pi+1], src[pi+2]
			yy, uu, vv := pixelYUV(b, g, r, c, cfg)
			out.Y[planeOff+x] = yy
			out.U[planeOff+x] = uu
			out.V[planeOff+x] = vv
		}
	}
	return out
}

// BGRAToYUV444Wide is the "SIMD-wide" path: it processes four pixels per
// iteration to mirror how a vectorized kernel would lay out work, but
// calls the identical per-pixel math as the scalar path so results are
// bit-identical (spec §8.1/§4.1: SIMD and scalar must agree exactly).
// There is no actual SIMD intrinsic use here (Go has none in the stdlib
// without cgo or an assembly file per arch); the loop unrolling is the
// idiomatic stand-in the teacher's own hand-rolled conversion uses
// (api/pkg/desktop/colorconv.go processes rows procedurally, no vector
// library is available in the retrieval pack for this exact operation).
func BGRAToYUV444Wide(src []byte, width, height, stride int, cfg Config) *YUV444 {
	out := NewYUV444(width, height)
	c := coeffsFor(cfg.Matrix)
	for y := 0; y < height; y++ {
		rowOff := y * stride
		planeOff := y * width
		x := 0
		for ; x+4 <= width; x += 4 {
			for lane := 0; lane < 4; lane++ {
				pi := rowOff + (x+lane)*4
				b, g, r := src[pi], src[pi+1], src[pi+2]
				yy, uu, vv := pixelYUV(b, g, r, c, cfg)
				out.Y[planeOff+x+lane] = yy
				out.U[planeOff+x+lane] = uu
				out.V[planeOff+x+lane] = vv
			}
		}
		for ; x < width; x++ {
			pi := rowOff + x*4
			b, g, r := src[pi], src[pi+1], src[pi+2]
			yy, uu, vv := pixelYUV(b, g, r, c, cfg)
			out.Y[planeOff+x] = yy
			out.U[planeOff+x] = uu
			out.V[planeOff+x] = vv
		}
	}
	return out
}

// BGRAToYUV444 is the default entry point, selecting the wide path.
func BGRAToYUV444(src []byte, width, height, stride int, cfg Config) *YUV444 {
	return BGRAToYUV444Wide(src, width, height, stride, cfg)
}
