package cursor

// Composite alpha-blends shape onto a tightly packed BGRA8888 frame buffer
// at (x, y), offset by the shape's hotspot, clipping to the frame bounds.
// Used in Painted/Predictive mode, where the cursor never reaches the
// client as a separate PDU and must be baked into the captured frame
// before it is handed to the color/encode stage. Grounded on
// api/pkg/desktop/cursor_sprites.go's image/draw-based sprite compositing,
// adapted from Go images to the raw BGRA byte buffers this capture path
// already works in (internal/color's BGRAToYUV444 makes the same tightly-
// packed-stride assumption).
func Composite(frame []byte, width, height int, shape *Shape, x, y int) {
	if shape == nil || len(shape.Data) == 0 {
		return
	}

	originX := x - int(shape.HotspotX)
	originY := y - int(shape.HotspotY)

	for sy := 0; sy < int(shape.Height); sy++ {
		fy := originY + sy
		if fy < 0 || fy >= height {
			continue
		}
		for sx := 0; sx < int(shape.Width); sx++ {
			fx := originX + sx
			if fx < 0 || fx >= width {
				continue
			}

			si := (sy*int(shape.Width) + sx) * 4
			if si+3 >= len(shape.Data) {
				continue
			}
			sr, sg, sb, sa := shape.Data[si], shape.Data[si+1], shape.Data[si+2], shape.Data[si+3]
			if sa == 0 {
				continue
			}

			fi := (fy*width + fx) * 4
			if fi+3 >= len(frame) {
				continue
			}

			if sa == 0xff {
				frame[fi], frame[fi+1], frame[fi+2] = sb, sg, sr
				continue
			}

			alpha := uint32(sa)
			inv := 255 - alpha
			frame[fi] = byte((uint32(sb)*alpha + uint32(frame[fi])*inv) / 255)
			frame[fi+1] = byte((uint32(sg)*alpha + uint32(frame[fi+1])*inv) / 255)
			frame[fi+2] = byte((uint32(sr)*alpha + uint32(frame[fi+2])*inv) / 255)
		}
	}
}
