package damage

import "sort"

// Detector tracks the previous frame and emits damage regions for each new
// one. A Detector is not safe for concurrent use; callers serialize frames
// through a single processor goroutine (spec §5).
type Detector struct {
	cfg          Config
	prev         []byte
	prevW, prevH int
}

// NewDetector builds a Detector using cfg. The first Detect call always
// reports the whole frame as dirty since there is no previous frame to
// diff against.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Reset drops the stored previous frame, forcing the next Detect call to
// report the whole frame dirty. Used after a capture-strategy switch or a
// color-space/encoder reconfiguration where the previous frame's pixels
// are no longer a valid comparison baseline.
func (d *Detector) Reset() {
	d.prev = nil
	d.prevW, d.prevH = 0, 0
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Detect compares frame (packed BGRA8888, width*height*4 bytes) against
// the previously committed frame and returns a canonical (sorted,
// non-overlapping-as-far-as-fusion-can-make-them) list of damage regions.
// An empty, non-nil-vs-nil-agnostic result means no pixels changed.
func (d *Detector) Detect(frame []byte, width, height int) []Region {
	first := d.prev == nil || d.prevW != width || d.prevH != height

	tilesX := ceilDiv(width, d.cfg.TileSize)
	tilesY := ceilDiv(height, d.cfg.TileSize)
	dirty := make([]bool, tilesX*tilesY)
	dirtyCount := 0

	if first {
		for i := range dirty {
			dirty[i] = true
		}
		dirtyCount = len(dirty)
	} else {
		for ty := 0; ty < tilesY; ty++ {
			for tx := 0; tx < tilesX; tx++ {
				if d.tileDiffers(frame, width, height, tx, ty) {
					dirty[ty*tilesX+tx] = true
					dirtyCount++
				}
			}
		}
	}

	if dirtyCount == 0 {
		d.commit(frame, width, height)
		return nil
	}

	total := tilesX * tilesY
	if total > 0 && float64(dirtyCount)/float64(total) >= d.cfg.FullFrameThreshold {
		d.commit(frame, width, height)
		return []Region{NewRegion(0, 0, width, height)}
	}

	regions := fuseRegions(tilesToRegions(dirty, tilesX, tilesY, d.cfg.TileSize, width, height), d.cfg.Adjacency)
	regions = enforceMinSize(regions, d.cfg.MinRegionSize, width, height)
	sortRegions(regions)

	d.commit(frame, width, height)
	return regions
}

func (d *Detector) tileDiffers(frame []byte, width, height, tx, ty int) bool {
	x0 := tx * d.cfg.TileSize
	y0 := ty * d.cfg.TileSize
	x1 := min(x0+d.cfg.TileSize, width)
	y1 := min(y0+d.cfg.TileSize, height)

	for y := y0; y < y1; y++ {
		rowOff := y * width * 4
		for x := x0; x < x1; x++ {
			pi := rowOff + x*4
			for c := 0; c < 3; c++ { // compare B,G,R; alpha carries no visual change
				diff := int(frame[pi+c]) - int(d.prev[pi+c])
				if diff < 0 {
					diff = -diff
				}
				if diff > d.cfg.PixelDiffThreshold {
					return true
				}
			}
		}
	}
	return false
}

func (d *Detector) commit(frame []byte, width, height int) {
	need := width * height * 4
	if cap(d.prev) < need {
		d.prev = make([]byte, need)
	} else {
		d.prev = d.prev[:need]
	}
	copy(d.prev, frame)
	d.prevW, d.prevH = width, height
}

func tilesToRegions(dirty []bool, tilesX, tilesY, tileSize, width, height int) []Region {
	var regions []Region
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			if !dirty[ty*tilesX+tx] {
				continue
			}
			x0 := tx * tileSize
			y0 := ty * tileSize
			x1 := min(x0+tileSize, width)
			y1 := min(y0+tileSize, height)
			regions = append(regions, NewRegion(x0, y0, x1-x0, y1-y0))
		}
	}
	return regions
}

// fuseRegions repeatedly merges any pair of overlapping or adjacent
// regions until no more merges apply. O(n^2) per pass; n is bounded by
// the tile count, which is small even at 4K with a 32px tile size.
func fuseRegions(regions []Region, adjacency int) []Region {
	for {
		merged := false
		for i := 0; i < len(regions); i++ {
			for j := i + 1; j < len(regions); j++ {
				if regions[i].Overlaps(regions[j]) || regions[i].IsAdjacent(regions[j], adjacency) {
					regions[i] = regions[i].Union(regions[j])
					regions = append(regions[:j], regions[j+1:]...)
					merged = true
					break
				}
			}
			if merged {
				break
			}
		}
		if !merged {
			break
		}
	}
	return regions
}

// enforceMinSize pads any region smaller than minSize up to minSize on
// each axis, clamping to frame bounds.
func enforceMinSize(regions []Region, minSize, width, height int) []Region {
	if minSize <= 1 {
		return regions
	}
	for i, r := range regions {
		if r.W < minSize {
			r.X -= (minSize - r.W) / 2
			r.W = minSize
		}
		if r.H < minSize {
			r.Y -= (minSize - r.H) / 2
			r.H = minSize
		}
		if r.X < 0 {
			r.X = 0
		}
		if r.Y < 0 {
			r.Y = 0
		}
		if r.X+r.W > width {
			r.X = max(0, width-r.W)
			if r.X+r.W > width {
				r.W = width - r.X
			}
		}
		if r.Y+r.H > height {
			r.Y = max(0, height-r.H)
			if r.Y+r.H > height {
				r.H = height - r.Y
			}
		}
		regions[i] = r
	}
	return regions
}

// sortRegions orders regions top-to-bottom, left-to-right so repeated
// Detect calls on equivalent damage produce the same output ordering.
func sortRegions(regions []Region) {
	sort.Slice(regions, func(i, j int) bool {
		if regions[i].Y != regions[j].Y {
			return regions[i].Y < regions[j].Y
		}
		return regions[i].X < regions[j].X
	})
}
