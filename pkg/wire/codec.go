// Package wire implements the RIST packet codec (spec.md §4.1, C1): framing
// for the simple (RTP/UDP), main (GRE-over-UDP) and advanced profiles,
// AES-CTR link encryption and LZ4 payload compression.
package wire

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v4"
	"github.com/ristgo/rist/internal/cryptoutil"
)

const (
	rtpHeaderLen = 12
	greBaseLen   = 8  // flags/version + protocol type + key field
	greSeqLen    = 4  // sequence extension, present whenever S bit is set (always, in our profiles)
	greNonceLen  = 4  // present only when the encrypted reserved bit is set

	greFlagKey       = byte(1 << 7)
	greFlagSeq       = byte(1 << 6)
	greFlagEncrypted = byte(1 << 5) // "reserved bit 0" per spec.md §6

	greProtocolType = 0x88BE

	rtpVersion2 = 0x80 // V=2, P=0, X=0, CC=0

	// compressionTriggerRatio: a sender only emits COMPRESSED payloads when
	// the compressed size beats this fraction of the original (spec.md §4.1).
	compressionTriggerRatio = 0.9
)

// Codec encodes and decodes packets for one profile/peer configuration. It
// is not safe for concurrent use by multiple goroutines without external
// synchronization — in this design it is only ever driven from the single
// reactor thread that owns a peer (spec.md §5).
type Codec struct {
	Profile     Profile
	HeaderMode  HeaderMode // advanced profile only
	PayloadType byte       // RTP PT for data packets, spec.md §6 (96-127)
	NACKAppName [4]byte    // simple-profile RTCP APP subtype name, spec.md §9 open question

	cipher        *cryptoutil.Cipher
	lz4Level      int // 0 disables compression; 1-10 otherwise (spec.md compression_lz4_set)
	encryptionSet bool
}

// NewCodec builds a Codec for the given profile with spec-default settings.
func NewCodec(profile Profile) *Codec {
	return &Codec{
		Profile:     profile,
		PayloadType: 96,
		NACKAppName: [4]byte{'R', 'I', 'S', 'T'},
	}
}

// SetEncryption configures AES link encryption from a passphrase, deriving
// the session key via PBKDF2-SHA1 (spec.md §4.1).
func (c *Codec) SetEncryption(passphrase string, keySize cryptoutil.KeySize) error {
	key := cryptoutil.DeriveKey(passphrase, keySize, c.Profile != ProfileSimple)
	cipher, err := cryptoutil.NewCipher(key)
	if err != nil {
		return err
	}
	c.cipher = cipher
	c.encryptionSet = true
	return nil
}

// SetCompressionLevel enables LZ4 compression at the given level (0 disables
// it); level only affects how aggressively the sender tries, not decode.
func (c *Codec) SetCompressionLevel(level int) {
	if level < 0 {
		level = 0
	}
	if level > 10 {
		level = 10
	}
	c.lz4Level = level
}

// Encode writes p onto out (which is grown/returned, like append) and
// returns the full wire buffer.
func (c *Codec) Encode(p *Packet, out []byte) []byte {
	payload := p.Payload
	kind := p.Kind

	if c.lz4Level > 0 && kind == KindData && len(payload) > 32 {
		if compressed, ok := c.tryCompress(payload); ok {
			payload = compressed
			kind = KindCompressed
		}
	}

	encrypted := false
	if c.encryptionSet && (kind == KindData || kind == KindCompressed) {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		c.cipher.XORInPlace(p.FlowID, p.Seq, buf)
		payload = buf
		encrypted = true
	}

	switch c.Profile {
	case ProfileSimple:
		return c.encodeSimple(p, kind, encrypted, payload, out)
	default:
		return c.encodeGRE(p, kind, encrypted, payload, out)
	}
}

func (c *Codec) tryCompress(payload []byte) ([]byte, bool) {
	bound := lz4.CompressBlockBound(len(payload))
	dst := make([]byte, bound)
	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(payload, dst)
	if err != nil || n == 0 || float64(n) >= compressionTriggerRatio*float64(len(payload)) {
		return nil, false
	}
	out := make([]byte, 4+n)
	binary.BigEndian.PutUint32(out[0:4], uint32(len(payload)))
	copy(out[4:], dst[:n])
	return out, true
}

func (c *Codec) decompress(payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, newDecodeError(DecodeErrCompressed, "truncated lz4 header")
	}
	origLen := binary.BigEndian.Uint32(payload[0:4])
	dst := make([]byte, origLen)
	n, err := lz4.UncompressBlock(payload[4:], dst)
	if err != nil {
		return nil, newDecodeError(DecodeErrCompressed, err.Error())
	}
	return dst[:n], nil
}

func (c *Codec) encodeSimple(p *Packet, kind PayloadKind, encrypted bool, payload []byte, out []byte) []byte {
	hdr := make([]byte, rtpHeaderLen)
	hdr[0] = rtpVersion2
	hdr[1] = c.payloadTypeFor(kind) | retransmitMarkerBit(p, kind)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(p.Seq))
	binary.BigEndian.PutUint32(hdr[4:8], NTPFromRTPClock(p.TSNTP))
	binary.BigEndian.PutUint32(hdr[8:12], p.FlowID)

	out = append(out, hdr...)
	if kind == KindNACKRange || kind == KindNACKBitmask {
		out = append(out, c.NACKAppName[:]...)
	}
	if encrypted {
		out = append(out, encodeNonce(p.Seq)...)
	}
	return append(out, payload...)
}

func (c *Codec) encodeGRE(p *Packet, kind PayloadKind, encrypted bool, payload []byte, out []byte) []byte {
	flags := greFlagKey | greFlagSeq
	if encrypted {
		flags |= greFlagEncrypted
	}

	gre := make([]byte, greBaseLen+greSeqLen)
	gre[0] = flags
	gre[1] = 1 // GRE version 1
	binary.BigEndian.PutUint16(gre[2:4], greProtocolType)
	// Key field: upper 16 = virt_src_port, lower 16 = virt_dst_port (SPEC_FULL.md
	// §9 records this Open Question decision).
	binary.BigEndian.PutUint16(gre[4:6], p.VirtSrcPort)
	binary.BigEndian.PutUint16(gre[6:8], p.VirtDstPort)
	binary.BigEndian.PutUint32(gre[8:12], p.Seq)

	out = append(out, gre...)
	if encrypted {
		out = append(out, encodeNonce(p.Seq)...)
	}

	rtp := make([]byte, rtpHeaderLen)
	rtp[0] = rtpVersion2
	rtp[1] = c.payloadTypeFor(kind) | retransmitMarkerBit(p, kind)
	binary.BigEndian.PutUint16(rtp[2:4], uint16(p.Seq))
	binary.BigEndian.PutUint32(rtp[4:8], NTPFromRTPClock(p.TSNTP))
	binary.BigEndian.PutUint32(rtp[8:12], p.FlowID)
	out = append(out, rtp...)

	if c.Profile == ProfileAdvanced {
		out = appendExtensions(out, p)
	}

	return append(out, payload...)
}

// payloadTypeFor returns the 7-bit RTP payload type for kind. Bit 7 of the
// header byte this feeds is the RTP marker bit (retransmitMarkerBit), so
// every value here must stay under 128 or the marker bit would corrupt it.
func (c *Codec) payloadTypeFor(kind PayloadKind) byte {
	switch kind {
	case KindRTCPSenderReport:
		return 72
	case KindRTCPReceiverReport:
		return 73
	case KindKeepalive:
		return 74
	case KindAuth:
		return 75
	case KindNACKRange:
		return 76 // RTCP APP, subtype carried by NACKAppName
	case KindNACKBitmask:
		return 77 // RTCP APP, subtype carried by NACKAppName
	case KindOOB:
		return 78
	case KindCompressed:
		return 79
	default:
		return c.PayloadType
	}
}

// retransmitMarkerBit sets the RTP marker bit on a retransmitted data
// packet so the receiver can credit it to "recovered" rather than
// "received" on arrival (spec.md §4.3, §7 "recovered" stat).
func retransmitMarkerBit(p *Packet, kind PayloadKind) byte {
	if p.Retransmission && (kind == KindData || kind == KindCompressed) {
		return 0x80
	}
	return 0
}

// MarkRetransmission returns a copy of an already-encoded data packet with
// its RTP marker bit set, so a resend from the sender history cache arrives
// distinguishable from a first transmission (spec.md §4.3 "Retransmit",
// §7 "recovered" stat). buf is returned unmodified if it's too short to
// locate the marker byte.
func (c *Codec) MarkRetransmission(buf []byte) []byte {
	off := c.ptByteOffset(buf)
	if off < 0 || off >= len(buf) {
		return buf
	}
	out := append([]byte(nil), buf...)
	out[off] |= 0x80
	return out
}

// ptByteOffset locates the header byte carrying the RTP marker bit + PT
// field within an already-encoded buffer, mirroring the layout decodeSimple
// and decodeGRE parse.
func (c *Codec) ptByteOffset(buf []byte) int {
	if c.Profile == ProfileSimple {
		return 1
	}
	if len(buf) < 1 {
		return -1
	}
	off := greBaseLen + greSeqLen
	if buf[0]&greFlagEncrypted != 0 {
		off += greNonceLen
	}
	return off + 1
}

func encodeNonce(seq uint32) []byte {
	b := make([]byte, greNonceLen)
	binary.BigEndian.PutUint32(b, seq)
	return b
}

// Decode parses a wire buffer back into a Packet. On any framing error it
// returns a *DecodeError; the caller is responsible for the "drop silently,
// count it" policy (spec.md §7) — Decode itself never logs.
func (c *Codec) Decode(in []byte) (*Packet, error) {
	if c.Profile == ProfileSimple {
		return c.decodeSimple(in)
	}
	return c.decodeGRE(in)
}

func (c *Codec) decodeSimple(in []byte) (*Packet, error) {
	if len(in) < rtpHeaderLen {
		return nil, newDecodeError(DecodeErrTooShort, "short rtp header")
	}
	if in[0]&0xC0 != rtpVersion2 {
		return nil, newDecodeError(DecodeErrBadVersion, "rtp version")
	}
	marker := in[1]&0x80 != 0
	pt := in[1] & 0x7F
	kind, isNACK := kindFromPayloadType(pt)

	off := rtpHeaderLen
	var appName [4]byte
	if isNACK {
		if len(in) < off+4 {
			return nil, newDecodeError(DecodeErrTooShort, "missing app name")
		}
		copy(appName[:], in[off:off+4])
		off += 4
	}

	seqLow := binary.BigEndian.Uint16(in[2:4])
	flowID := binary.BigEndian.Uint32(in[8:12])

	p := &Packet{
		Seq:            uint32(seqLow),
		FlowID:         flowID,
		TSNTP:          ntpFromRTPTimestamp(binary.BigEndian.Uint32(in[4:8])),
		Kind:           kind,
		Retransmission: marker,
	}
	_ = appName

	return c.finishDecode(p, in, off, false)
}

func (c *Codec) decodeGRE(in []byte) (*Packet, error) {
	if len(in) < greBaseLen+greSeqLen {
		return nil, newDecodeError(DecodeErrTooShort, "short gre header")
	}
	flags := in[0]
	if flags&greFlagKey == 0 || flags&greFlagSeq == 0 {
		return nil, newDecodeError(DecodeErrUnknownProfile, "missing K/S bits")
	}
	protoType := binary.BigEndian.Uint16(in[2:4])
	if protoType != greProtocolType {
		return nil, newDecodeError(DecodeErrUnknownProfile, "bad gre protocol type")
	}

	virtSrc := binary.BigEndian.Uint16(in[4:6])
	virtDst := binary.BigEndian.Uint16(in[6:8])
	seq := binary.BigEndian.Uint32(in[8:12])
	encrypted := flags&greFlagEncrypted != 0

	off := greBaseLen + greSeqLen
	if encrypted {
		if len(in) < off+greNonceLen {
			return nil, newDecodeError(DecodeErrTooShort, "missing nonce")
		}
		off += greNonceLen
	}

	if len(in) < off+rtpHeaderLen {
		return nil, newDecodeError(DecodeErrTooShort, "short inner rtp header")
	}
	marker := in[off+1]&0x80 != 0
	pt := in[off+1] & 0x7F
	kind, _ := kindFromPayloadType(pt)
	flowID := binary.BigEndian.Uint32(in[off+8 : off+12])
	tsNTP := ntpFromRTPTimestamp(binary.BigEndian.Uint32(in[off+4 : off+8]))
	off += rtpHeaderLen

	p := &Packet{
		Seq:            seq,
		FlowID:         flowID,
		TSNTP:          tsNTP,
		VirtSrcPort:    virtSrc,
		VirtDstPort:    virtDst,
		Kind:           kind,
		Retransmission: marker,
	}

	if c.Profile == ProfileAdvanced {
		var err error
		off, err = consumeExtensions(in, off, p)
		if err != nil {
			return nil, err
		}
	}

	return c.finishDecode(p, in, off, encrypted)
}

func (c *Codec) finishDecode(p *Packet, in []byte, off int, encrypted bool) (*Packet, error) {
	payload := append([]byte(nil), in[off:]...)

	if encrypted {
		if c.cipher == nil {
			return nil, newDecodeError(DecodeErrEncryptedNoKey, "no key configured")
		}
		c.cipher.XORInPlace(p.FlowID, p.Seq, payload)
		p.Encrypted = true
	}

	if p.Kind == KindCompressed {
		decompressed, err := c.decompress(payload)
		if err != nil {
			return nil, err
		}
		payload = decompressed
		p.Kind = KindData
	}

	p.Payload = payload
	return p, nil
}

func kindFromPayloadType(pt byte) (kind PayloadKind, isNACKApp bool) {
	switch pt {
	case 72:
		return KindRTCPSenderReport, false
	case 73:
		return KindRTCPReceiverReport, false
	case 74:
		return KindKeepalive, false
	case 75:
		return KindAuth, false
	case 76:
		return KindNACKRange, true
	case 77:
		return KindNACKBitmask, true
	case 78:
		return KindOOB, false
	case 79:
		return KindCompressed, false
	default:
		return KindData, false
	}
}

// ntpFromRTPTimestamp is a lossy reverse of NTPFromRTPClock: it recovers a
// usable NTP-scale value from the RTP 90kHz clock for slots that only ever
// compare relative timestamps (the reassembler and output scheduler use
// arrival wall-clock time for deadlines, not this field, so reduced
// precision here is acceptable).
func ntpFromRTPTimestamp(rtpTS uint32) uint64 {
	return (uint64(rtpTS) << 32) / 90000
}
