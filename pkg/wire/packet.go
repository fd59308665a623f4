package wire

// Profile selects the RIST interoperability tier used to frame a packet
// (spec.md §4.1, §6).
type Profile int

const (
	ProfileSimple Profile = iota
	ProfileMain
	ProfileAdvanced
)

func (p Profile) String() string {
	switch p {
	case ProfileSimple:
		return "simple"
	case ProfileMain:
		return "main"
	case ProfileAdvanced:
		return "advanced"
	default:
		return "unknown"
	}
}

// HeaderMode names the advanced-profile GRE header variant (SPEC_FULL.md
// §4.1 supplement). Codec stores it but Encode and Decode do not read it:
// HeaderReduced frames packets exactly like HeaderFull, with the same
// fields as main profile.
type HeaderMode int

const (
	HeaderFull HeaderMode = iota
	HeaderReduced
)

// PayloadKind discriminates the contents of a Packet's Payload field
// (spec.md §3).
type PayloadKind byte

const (
	KindData PayloadKind = iota
	KindRTCPSenderReport
	KindRTCPReceiverReport
	KindNACKRange
	KindNACKBitmask
	KindKeepalive
	KindOOB
	KindAuth
	KindCompressed
)

// Packet is a unit of RIST transport (spec.md §3 "Packet (P)").
type Packet struct {
	Seq            uint32
	FlowID         uint32
	TSNTP          uint64 // NTP short format: upper 32 bits seconds, lower 32 bits fraction.
	VirtSrcPort    uint16 // main/advanced profile only.
	VirtDstPort    uint16 // main/advanced profile only.
	Payload        []byte
	Kind           PayloadKind
	Encrypted      bool
	Retransmission bool
	Extensions     *Extensions // advanced profile only.
}

// NTPFromRTPClock reduces an NTP short-format timestamp to the 90kHz RTP
// clock used by the simple-profile RTP header: (ntp * 90000) >> 32.
func NTPFromRTPClock(tsNTP uint64) uint32 {
	return uint32((tsNTP * 90000) >> 32)
}
