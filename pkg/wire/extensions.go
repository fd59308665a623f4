package wire

import "encoding/binary"

// Advanced-profile extension blocks (SPEC_FULL.md §4.1 supplement): a small
// TLV chain appended after the GRE/RTP header, terminated by a 0x00 0x00
// sentinel block so a reader doesn't need an external length to know where
// the extension region ends. Unknown types are skipped by their declared
// length, so the format stays forward-compatible.

type extType byte

const (
	extTerminator extType = 0
	extPeerWeight extType = 1
	extTimeOrigin extType = 2
)

const extHeaderLen = 2 // 1 byte type + 1 byte length

// ExtPeerWeight echoes the sender's configured multi-peer weight so a
// receiver doing multi-path repair can pick a NACK target without an
// out-of-band config exchange.
type ExtPeerWeight struct {
	Weight uint8
}

// ExtTimeOrigin anchors the reduced RTP timestamp to a wall-clock epoch.
// The codec carries it; the output scheduler does not read it.
type ExtTimeOrigin struct {
	EpochUnixSeconds uint32
}

// Extensions carried on an advanced-profile packet. Both are optional; a
// zero value means "absent".
type Extensions struct {
	PeerWeight *ExtPeerWeight
	TimeOrigin *ExtTimeOrigin
}

// appendExtensions always writes a (possibly empty) extension region
// terminated by the 0x00 0x00 sentinel, so decode always knows where to stop.
func appendExtensions(out []byte, p *Packet) []byte {
	if p.Extensions != nil {
		if w := p.Extensions.PeerWeight; w != nil {
			out = append(out, byte(extPeerWeight), 1, w.Weight)
		}
		if t := p.Extensions.TimeOrigin; t != nil {
			buf := make([]byte, extHeaderLen+4)
			buf[0], buf[1] = byte(extTimeOrigin), 4
			binary.BigEndian.PutUint32(buf[2:], t.EpochUnixSeconds)
			out = append(out, buf...)
		}
	}
	return append(out, byte(extTerminator), 0)
}

// consumeExtensions parses TLV blocks starting at off until the terminator,
// returning the offset just past it.
func consumeExtensions(in []byte, off int, p *Packet) (int, error) {
	for {
		if off+extHeaderLen > len(in) {
			return off, newDecodeError(DecodeErrExtension, "truncated extension header")
		}
		typ := extType(in[off])
		length := int(in[off+1])
		off += extHeaderLen

		if typ == extTerminator && length == 0 {
			return off, nil
		}
		if off+length > len(in) {
			return off, newDecodeError(DecodeErrExtension, "truncated extension body")
		}
		body := in[off : off+length]
		switch typ {
		case extPeerWeight:
			if length >= 1 {
				if p.Extensions == nil {
					p.Extensions = &Extensions{}
				}
				p.Extensions.PeerWeight = &ExtPeerWeight{Weight: body[0]}
			}
		case extTimeOrigin:
			if length >= 4 {
				if p.Extensions == nil {
					p.Extensions = &Extensions{}
				}
				p.Extensions.TimeOrigin = &ExtTimeOrigin{EpochUnixSeconds: binary.BigEndian.Uint32(body)}
			}
		default:
			// unknown type: skip by declared length, forward-compatible.
		}
		off += length
	}
}
