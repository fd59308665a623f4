package wire

import (
	"bytes"
	"testing"

	"github.com/ristgo/rist/internal/cryptoutil"
)

func TestSeqDeltaWraparound(t *testing.T) {
	if !SeqLess(0xFFFFFFFE, 0x00000001) {
		t.Error("expected 0xFFFFFFFE to precede 0x00000001 across wraparound")
	}
	if SeqLess(5, 4) {
		t.Error("5 should not precede 4")
	}
	if SeqDelta(10, 10) != 0 {
		t.Error("delta of equal sequences should be 0")
	}
}

func TestSimpleProfileRoundTrip(t *testing.T) {
	c := NewCodec(ProfileSimple)
	p := &Packet{
		Seq:     42,
		FlowID:  0xCAFEBABE,
		TSNTP:   1 << 32,
		Payload: []byte("hello rist"),
		Kind:    KindData,
	}

	buf := c.Encode(p, nil)
	out, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Seq != uint32(uint16(p.Seq)) {
		t.Errorf("seq: got %d want %d", out.Seq, uint16(p.Seq))
	}
	if out.FlowID != p.FlowID {
		t.Errorf("flow id: got %x want %x", out.FlowID, p.FlowID)
	}
	if !bytes.Equal(out.Payload, p.Payload) {
		t.Errorf("payload: got %q want %q", out.Payload, p.Payload)
	}
}

func TestMainProfileRoundTrip(t *testing.T) {
	c := NewCodec(ProfileMain)
	p := &Packet{
		Seq:         0xFFFFFFF0,
		FlowID:      7,
		VirtSrcPort: 1234,
		VirtDstPort: 5678,
		Payload:     []byte{1, 2, 3, 4, 5},
		Kind:        KindData,
	}

	buf := c.Encode(p, nil)
	out, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Seq != p.Seq {
		t.Errorf("seq: got %#x want %#x", out.Seq, p.Seq)
	}
	if out.VirtSrcPort != p.VirtSrcPort || out.VirtDstPort != p.VirtDstPort {
		t.Errorf("virtual ports not preserved: got %d/%d", out.VirtSrcPort, out.VirtDstPort)
	}
	if !bytes.Equal(out.Payload, p.Payload) {
		t.Errorf("payload mismatch")
	}
}

func TestAdvancedProfileExtensions(t *testing.T) {
	c := NewCodec(ProfileAdvanced)
	p := &Packet{
		Seq:     1,
		FlowID:  2,
		Payload: []byte("x"),
		Kind:    KindData,
		Extensions: &Extensions{
			PeerWeight: &ExtPeerWeight{Weight: 5},
			TimeOrigin: &ExtTimeOrigin{EpochUnixSeconds: 1700000000},
		},
	}

	buf := c.Encode(p, nil)
	out, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Extensions == nil || out.Extensions.PeerWeight == nil || out.Extensions.PeerWeight.Weight != 5 {
		t.Fatalf("peer weight extension not round-tripped: %+v", out.Extensions)
	}
	if out.Extensions.TimeOrigin == nil || out.Extensions.TimeOrigin.EpochUnixSeconds != 1700000000 {
		t.Fatalf("time origin extension not round-tripped: %+v", out.Extensions)
	}
}

func TestEncryptionRoundTrip(t *testing.T) {
	c := NewCodec(ProfileMain)
	if err := c.SetEncryption("super-secret-passphrase", cryptoutil.KeySize128); err != nil {
		t.Fatalf("set encryption: %v", err)
	}
	p := &Packet{Seq: 9, FlowID: 9, Payload: []byte("top secret payload"), Kind: KindData}

	buf := c.Encode(p, nil)
	out, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Encrypted {
		t.Error("expected Encrypted flag set on decode")
	}
	if !bytes.Equal(out.Payload, p.Payload) {
		t.Errorf("decrypted payload mismatch: got %q", out.Payload)
	}
}

func TestEncryptedNoKeyIsDropped(t *testing.T) {
	sender := NewCodec(ProfileMain)
	if err := sender.SetEncryption("secret", cryptoutil.KeySize256); err != nil {
		t.Fatalf("set encryption: %v", err)
	}
	buf := sender.Encode(&Packet{Seq: 1, FlowID: 1, Payload: []byte("data"), Kind: KindData}, nil)

	receiver := NewCodec(ProfileMain) // no key configured
	_, err := receiver.Decode(buf)
	if !IsEncryptedNoKey(err) {
		t.Fatalf("expected EncryptedNoKey, got %v", err)
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	c := NewCodec(ProfileMain)
	c.SetCompressionLevel(6)

	// Highly compressible payload so it reliably beats the 0.9x trigger ratio.
	payload := bytes.Repeat([]byte("ristristristristrist"), 50)
	p := &Packet{Seq: 3, FlowID: 3, Payload: payload, Kind: KindData}

	buf := c.Encode(p, nil)
	out, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Errorf("compressed round trip mismatch, got %d bytes want %d", len(out.Payload), len(payload))
	}
}

func TestNACKRangeRoundTrip(t *testing.T) {
	entries := []RangeEntry{{Start: 100, Count: 3}, {Start: 200, Count: 1}}
	buf := EncodeNACKRange(entries)
	got, err := DecodeNACKRange(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0] != entries[0] || got[1] != entries[1] {
		t.Fatalf("range nack round trip mismatch: %+v", got)
	}
	if seqs := entries[0].Expand(); len(seqs) != 3 || seqs[0] != 100 || seqs[2] != 102 {
		t.Fatalf("range expand mismatch: %v", seqs)
	}
}

func TestNACKBitmaskRoundTrip(t *testing.T) {
	e := BitmaskEntry{Base: 50, Mask: 0b101}
	buf := EncodeNACKBitmask([]BitmaskEntry{e})
	got, err := DecodeNACKBitmask(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0] != e {
		t.Fatalf("bitmask round trip mismatch: %+v", got)
	}
	seqs := e.Expand()
	want := []uint32{50, 51, 53}
	if len(seqs) != len(want) {
		t.Fatalf("expand mismatch: got %v want %v", seqs, want)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Fatalf("expand mismatch: got %v want %v", seqs, want)
		}
	}
}
