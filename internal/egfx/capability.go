package egfx

// Version is an MS-RDPEGFX CAPVERSION value (§2.2.3.1). Constants below
// are the documented values, lowest-numbered first; Rank orders them
// for negotiation independent of their numeric encoding.
type Version uint32

const (
	Version8    Version = 0x00080004
	Version8_1  Version = 0x00080105
	Version10   Version = 0x000A0002
	Version10_1 Version = 0x000A0100
	Version10_2 Version = 0x000A0200
	Version10_3 Version = 0x000A0301
	Version10_4 Version = 0x000A0400
	Version10_5 Version = 0x000A0502
	Version10_6 Version = 0x000A0600
	Version10_7 Version = 0x000A0701
)

// preferredOrder is the server's advertised preference, highest first,
// per §4.6 ("V10.7 → V8.1").
var preferredOrder = []Version{
	Version10_7, Version10_6, Version10_5, Version10_4,
	Version10_3, Version10_2, Version10_1, Version10, Version8_1, Version8,
}

func (v Version) isV10OrNewer() bool {
	switch v {
	case Version10, Version10_1, Version10_2, Version10_3, Version10_4, Version10_5, Version10_6, Version10_7:
		return true
	default:
		return false
	}
}

// CapFlags mirrors the per-version MS-RDPEGFX capability flags relevant
// to codec selection; only AVC420_ENABLED is spec-significant here
// (§4.6), the rest are carried for completeness of the advertised set.
type CapFlags uint32

const (
	CapFlagAVC420Enabled CapFlags = 0x00000002
	CapFlagSmallCache    CapFlags = 0x00000001
)

// CapabilitySet is the negotiated result of capability exchange:
// immutable for the channel's lifetime once set (§3 EgfxCapabilities).
type CapabilitySet struct {
	Version        Version
	Flags          CapFlags
	H264Available  bool
}

// AVC420Enabled reports whether the negotiated set carries the V8.1
// AVC420_ENABLED flag.
func (c CapabilitySet) AVC420Enabled() bool {
	return c.Flags&CapFlagAVC420Enabled != 0
}

// ClientCapability is one {version, flags} pair as advertised by the
// client's CapsAdvertise PDU.
type ClientCapability struct {
	Version Version
	Flags   CapFlags
}

// Negotiate intersects the server's preferred-version order with the
// client's advertised set, returning the highest-ranked common version
// and that version's flags. H264Available is true when the negotiated
// version is V10+ (AVC444/AVC420 capable by definition) or carries the
// V8.1 AVC420_ENABLED flag.
func Negotiate(client []ClientCapability) (CapabilitySet, bool) {
	clientByVersion := make(map[Version]CapFlags, len(client))
	for _, c := range client {
		clientByVersion[c.Version] = c.Flags
	}

	for _, v := range preferredOrder {
		if flags, ok := clientByVersion[v]; ok {
			h264 := v.isV10OrNewer() || flags&CapFlagAVC420Enabled != 0
			return CapabilitySet{Version: v, Flags: flags, H264Available: h264}, true
		}
	}
	return CapabilitySet{}, false
}
