// Package level implements the H.264 level-selection table and SPS/VUI
// verification described in spec §4.4: the encoder picks the lowest
// level_idc that the negotiated resolution/framerate/bitrate fit inside,
// and the resulting bitstream's SPS is parsed back out to confirm the
// encoder honored it. Grounded on the teacher's SPS parsing
// (api/pkg/desktop/h264_sps.go), which already uses mp4ff for exactly
// this purpose against a differently-motivated VUI check.
package level

import (
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
)

// Level is an H.264 level_idc value (e.g. 42 for level 4.2).
type Level uint8

// Table entries, per Annex A of the H.264 spec: (max macroblocks/frame,
// max macroblocks/sec, max bitrate in kbps for the High profile).
type tableEntry struct {
	level           Level
	maxMBsPerFrame  int
	maxMBsPerSecond int
	maxBitrateKbps  int
}

var table = []tableEntry{
	{Level: 30, maxMBsPerFrame: 1620, maxMBsPerSecond: 40500, maxBitrateKbps: 10000},
	{Level: 31, maxMBsPerFrame: 3600, maxMBsPerSecond: 108000, maxBitrateKbps: 14000},
	{Level: 40, maxMBsPerFrame: 8192, maxMBsPerSecond: 245760, maxBitrateKbps: 20000},
	{Level: 41, maxMBsPerFrame: 8192, maxMBsPerSecond: 245760, maxBitrateKbps: 50000},
	{Level: 42, maxMBsPerFrame: 8704, maxMBsPerSecond: 522240, maxBitrateKbps: 50000},
	{Level: 50, maxMBsPerFrame: 22080, maxMBsPerSecond: 589824, maxBitrateKbps: 135000},
	{Level: 51, maxMBsPerFrame: 36864, maxMBsPerSecond: 983040, maxBitrateKbps: 240000},
	{Level: 52, maxMBsPerFrame: 36864, maxMBsPerSecond: 2073600, maxBitrateKbps: 240000},
}

// Select returns the lowest level_idc whose per-frame macroblock count,
// macroblock rate, and bitrate ceiling all fit the given stream
// parameters. Falls back to the highest table entry if none fits (the
// caller is asking for something beyond High profile level 5.2).
func Select(width, height, fps, bitrateKbps int) Level {
	mbsPerFrame := ((width + 15) / 16) * ((height + 15) / 16)
	mbsPerSecond := mbsPerFrame * fps

	for _, e := range table {
		if mbsPerFrame <= e.maxMBsPerFrame && mbsPerSecond <= e.maxMBsPerSecond && bitrateKbps <= e.maxBitrateKbps {
			return e.level
		}
	}
	return table[len(table)-1].level
}

// VerifiedSPS is the subset of a parsed SPS relevant to verifying an
// encoder honored the level/VUI it was configured with.
type VerifiedSPS struct {
	ProfileIDC      uint8
	LevelIDC        uint8
	Width           uint
	Height          uint
	MaxNumRefFrames uint

	VUIPresent               bool
	BitstreamRestrictionFlag bool
	MaxNumReorderFrames      uint
	MaxDecFrameBuffering     uint
}

// ParseSPS parses a raw (NAL-header-included) H.264 SPS unit and reports
// the level/VUI fields spec §4.4 requires verifying. Field access mirrors
// the teacher's own SPS parse (api/pkg/desktop/h264_sps.go ParseSPS),
// which exercises exactly this slice of mp4ff/avc's SPS type.
func ParseSPS(spsData []byte) (*VerifiedSPS, error) {
	if len(spsData) < 4 {
		return nil, fmt.Errorf("encoder/level: SPS too short: %d bytes", len(spsData))
	}
	sps, err := avc.ParseSPSNALUnit(spsData, true)
	if err != nil {
		return nil, fmt.Errorf("encoder/level: parse SPS: %w", err)
	}

	out := &VerifiedSPS{
		ProfileIDC:      uint8(sps.Profile),
		LevelIDC:        uint8(sps.Level),
		Width:           sps.Width,
		Height:          sps.Height,
		MaxNumRefFrames: sps.NumRefFrames,
	}
	if sps.VUI != nil {
		out.VUIPresent = true
		out.BitstreamRestrictionFlag = sps.VUI.BitstreamRestrictionFlag
		if sps.VUI.BitstreamRestrictionFlag {
			out.MaxNumReorderFrames = sps.VUI.MaxNumReorderFrames
			out.MaxDecFrameBuffering = sps.VUI.MaxDecFrameBuffering
		}
	}
	return out, nil
}

// MatchesLevel reports whether a parsed SPS's level_idc is at most want —
// an encoder is free to undershoot (pick a lower level than requested)
// but never to exceed it, per the negotiated cap.
func (s *VerifiedSPS) MatchesLevel(want Level) bool {
	return Level(s.LevelIDC) <= want
}
