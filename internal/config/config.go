// Package config loads the server's knob table (spec §6) from the
// environment via envconfig, following the nested-struct-per-concern
// layout the teacher's api/pkg/config/config.go uses for its own
// ServerConfig.
package config

import "github.com/kelseyhightower/envconfig"

// Config is the full set of configuration knobs enumerated in spec §6.
type Config struct {
	Video       Video
	Egfx        Egfx
	Damage      Damage
	Cursor      Cursor
	Persistence Persistence
	Clipboard   Clipboard
	Latency     Latency
	TLS         TLS
}

// Video controls encoder bitrate/codec/color selection.
type Video struct {
	TargetFPS        int     `envconfig:"RDP_TARGET_FPS" default:"30"`
	MinFPS           int     `envconfig:"RDP_MIN_FPS" default:"5"`
	BitrateKbps      int     `envconfig:"RDP_BITRATE_KBPS" default:"5000"`
	AuxBitrateRatio  float64 `envconfig:"RDP_AUX_BITRATE_RATIO" default:"0.7"`
	Codec            string  `envconfig:"RDP_CODEC" default:"auto"`
	ColorSpacePreset string  `envconfig:"RDP_COLOR_SPACE_PRESET" default:"openh264"`
	PreferHardware   bool    `envconfig:"RDP_PREFER_HARDWARE" default:"false"`
}

// Egfx controls the RDP Graphics Pipeline Extension channel.
type Egfx struct {
	MaxFramesInFlight int     `envconfig:"RDP_MAX_FRAMES_IN_FLIGHT" default:"3"`
	FrameAckTimeoutMs int     `envconfig:"RDP_FRAME_ACK_TIMEOUT_MS" default:"5000"`
	PeriodicIdrS      int     `envconfig:"RDP_PERIODIC_IDR_S" default:"5"`
	MaxAuxInterval    int     `envconfig:"RDP_MAX_AUX_INTERVAL" default:"30"`
	AuxChangeThresh   float64 `envconfig:"RDP_AUX_CHANGE_THRESHOLD" default:"0.20"`
	ForceAuxIdrOnReturn bool  `envconfig:"RDP_FORCE_AUX_IDR_ON_RETURN" default:"false"`
}

// Damage controls the tile-based change detector.
type Damage struct {
	TileSize           int     `envconfig:"RDP_TILE_SIZE" default:"64"`
	Adjacency          int     `envconfig:"RDP_ADJACENCY" default:"32"`
	PixelDiffThreshold int     `envconfig:"RDP_PIXEL_DIFF_THRESHOLD" default:"8"`
	FullFrameThreshold float64 `envconfig:"RDP_FULL_FRAME_THRESHOLD" default:"0.60"`
	MinRegionSize      int     `envconfig:"RDP_MIN_REGION_SIZE" default:"1"`
}

// Cursor controls the cursor subsystem mode and predictive tuning.
type Cursor struct {
	Mode                         string  `envconfig:"RDP_CURSOR_MODE" default:"metadata"`
	PredictiveLatencyThresholdMs int     `envconfig:"RDP_PREDICTIVE_LATENCY_THRESHOLD_MS" default:"100"`
	HistorySize                  int     `envconfig:"RDP_CURSOR_HISTORY_SIZE" default:"8"`
	VelocityAlpha                float64 `envconfig:"RDP_CURSOR_VELOCITY_ALPHA" default:"0.4"`
	AccelAlpha                   float64 `envconfig:"RDP_CURSOR_ACCEL_ALPHA" default:"0.2"`
	MaxPredictionDistance        float64 `envconfig:"RDP_CURSOR_MAX_PREDICTION_DISTANCE" default:"100"`
	MinVelocityThreshold         float64 `envconfig:"RDP_CURSOR_MIN_VELOCITY_THRESHOLD" default:"50"`
	StopConvergenceRate          float64 `envconfig:"RDP_CURSOR_STOP_CONVERGENCE_RATE" default:"0.5"`
}

// Persistence controls restore-token storage.
type Persistence struct {
	PersistMode string `envconfig:"RDP_PERSIST_MODE" default:"explicitly-revoked"`
}

// Clipboard controls the clipboard channel limits.
type Clipboard struct {
	MaxSizeBytes  int64 `envconfig:"RDP_CLIPBOARD_MAX_SIZE_BYTES" default:"16777216"`
	RateLimitMs   int   `envconfig:"RDP_CLIPBOARD_RATE_LIMIT_MS" default:"200"`
	ChunkSize     int   `envconfig:"RDP_CLIPBOARD_CHUNK_SIZE" default:"65536"`
	TransferTimeoutS int `envconfig:"RDP_CLIPBOARD_TRANSFER_TIMEOUT_S" default:"30"`
}

// Latency controls the frame processor's latency governor.
type Latency struct {
	Mode string `envconfig:"RDP_LATENCY_MODE" default:"balanced"`
}

// TLS controls the listener's transport requirements. The handshake
// itself is an external collaborator (spec §1); this only gates which
// minimum version the listener will accept before handing the stream in.
type TLS struct {
	ListenAddr     string `envconfig:"RDP_LISTEN_ADDR" default:":3389"`
	CertFile       string `envconfig:"RDP_TLS_CERT_FILE"`
	KeyFile        string `envconfig:"RDP_TLS_KEY_FILE"`
	RequireTLS13   bool   `envconfig:"RDP_REQUIRE_TLS13" default:"false"`
}

// Load reads configuration from the environment, applying the defaults
// declared on each field's struct tag.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
