package color

// YUV420 is a standard planar 4:2:0 buffer: full-resolution luma, chroma
// subsampled 2x in each dimension.
type YUV420 struct {
	Width, Height int
	Y             []byte // Width*Height
	U, V          []byte // (Width/2)*(Height/2), rounded up
}

func chromaDims(width, height int) (cw, ch int) {
	return (width + 1) / 2, (height + 1) / 2
}

func newYUV420(width, height int) *YUV420 {
	cw, ch := chromaDims(width, height)
	return &YUV420{
		Width:  width,
		Height: height,
		Y:      make([]byte, width*height),
		U:      make([]byte, cw*ch),
		V:      make([]byte, cw*ch),
	}
}

func avg2(a, b byte) byte {
	return byte((int(a) + int(b) + 1) / 2)
}

// PackDualViews implements spec §4.1's AVC444 dual-view packer: the two
// YUV420 views that together reconstruct full 4:4:4 chroma. Luma is
// identical in both views; chroma is first subsampled vertically (row
// pair averaging, the standard 4:2:0 reduction), then split by column
// parity — even columns into view0, odd columns into view1 — following
// the Microsoft AVC444 convention described in spec §4.1/§6. No example
// repo in the retrieval pack implements this exact packing (WebRTC/VP-family
// teachers only ever produce single-view 4:2:0); this follows the spec's
// textual algorithm directly.
func PackDualViews(src *YUV444) (view0, view1 *YUV420) {
	w, h := src.Width, src.Height
	cw, ch := chromaDims(w, h)

	view0 = newYUV420(w, h)
	view1 = newYUV420(w, h)
	copy(view0.Y, src.Y)
	copy(view1.Y, src.Y)

	// Vertically subsampled full-width chroma row buffers, reused per row pair.
	rowU := make([]byte, w)
	rowV := make([]byte, w)

	for cy := 0; cy < ch; cy++ {
		y0 := cy * 2
		y1 := y0 + 1
		if y1 >= h {
			y1 = y0
		}
		off0 := y0 * w
		off1 := y1 * w
		for x := 0; x < w; x++ {
			rowU[x] = avg2(src.U[off0+x], src.U[off1+x])
			rowV[x] = avg2(src.V[off0+x], src.V[off1+x])
		}
		outOff := cy * cw
		for cx := 0; cx < cw; cx++ {
			evenX := cx * 2
			oddX := evenX + 1
			if oddX >= w {
				oddX = evenX
			}
			view0.U[outOff+cx] = rowU[evenX]
			view0.V[outOff+cx] = rowV[evenX]
			view1.U[outOff+cx] = rowU[oddX]
			view1.V[outOff+cx] = rowV[oddX]
		}
	}
	return view0, view1
}
