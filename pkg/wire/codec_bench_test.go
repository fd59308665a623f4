package wire

import "testing"

func BenchmarkEncodeSimple(b *testing.B) {
	c := NewCodec(ProfileSimple)
	p := &Packet{Seq: 1, FlowID: 2, Payload: make([]byte, 1316), Kind: KindData}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Encode(p, nil)
	}
}

func BenchmarkDecodeSimple(b *testing.B) {
	c := NewCodec(ProfileSimple)
	p := &Packet{Seq: 1, FlowID: 2, Payload: make([]byte, 1316), Kind: KindData}
	buf := c.Encode(p, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Decode(buf); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncodeGRE(b *testing.B) {
	c := NewCodec(ProfileMain)
	p := &Packet{Seq: 1, FlowID: 2, Payload: make([]byte, 1316), Kind: KindData}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Encode(p, nil)
	}
}
