package damage

// Config tunes the tile grid, dirty threshold, and region-fusion behavior
// (spec §3/§6 Damage knobs).
type Config struct {
	TileSize           int
	Adjacency          int
	PixelDiffThreshold int
	FullFrameThreshold float64
	MinRegionSize      int
}

// DefaultConfig mirrors the server's default environment knobs.
func DefaultConfig() Config {
	return Config{
		TileSize:           64,
		Adjacency:          32,
		PixelDiffThreshold: 8,
		FullFrameThreshold: 0.60,
		MinRegionSize:      1,
	}
}
