package sendcache

import (
	"testing"
	"time"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := New(16, time.Second, 7, 0)
	now := time.Now()
	c.Put(1, []byte("payload-1"), nil, now)

	got, ok := c.Get(1, 0, now)
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got) != "payload-1" {
		t.Fatalf("got %q", got)
	}
}

func TestEvictionOnCapacity(t *testing.T) {
	c := New(4, time.Hour, 7, 0)
	now := time.Now()
	for seq := uint32(0); seq < 8; seq++ {
		c.Put(seq, []byte{byte(seq)}, nil, now)
	}
	if c.Len() > 4 {
		t.Fatalf("expected capacity to cap entries, got %d", c.Len())
	}
	if _, ok := c.Get(0, 0, now); ok {
		t.Fatal("seq 0 should have been evicted")
	}
	if _, ok := c.Get(7, 0, now); !ok {
		t.Fatal("seq 7 should still be retained")
	}
}

func TestExpiryByAge(t *testing.T) {
	c := New(16, 10*time.Millisecond, 7, 0)
	base := time.Now()
	c.Put(1, []byte("x"), nil, base)

	if _, ok := c.Get(1, 0, base.Add(5*time.Millisecond)); !ok {
		t.Fatal("expected hit before expiry")
	}
	if _, ok := c.Get(1, 0, base.Add(20*time.Millisecond)); ok {
		t.Fatal("expected expiry after maxAge elapsed")
	}
}

func TestRetryCapSuppressesFurtherRetransmits(t *testing.T) {
	c := New(16, time.Hour, 2, 0)
	now := time.Now()
	c.Put(5, []byte("x"), nil, now)

	for i := 0; i < 2; i++ {
		if _, ok := c.Get(5, 0, now); !ok {
			t.Fatalf("retry %d should succeed", i)
		}
	}
	if _, ok := c.Get(5, 0, now); ok {
		t.Fatal("expected retry cap to suppress the 3rd retransmit")
	}
	if got := c.RetryCount(5, 0); got != 2 {
		t.Fatalf("retry count: got %d want 2", got)
	}
}

func TestBandwidthCapDropsSurplus(t *testing.T) {
	c := New(16, time.Hour, 100, 8) // 1 byte/sec return bitrate
	now := time.Now()
	c.Put(1, make([]byte, 1000), nil, now)

	if _, ok := c.Get(1, 0, now); !ok {
		t.Fatal("first retransmit should be allowed by the initial burst")
	}
	if _, ok := c.Get(1, 0, now); ok {
		t.Fatal("second immediate retransmit should be dropped by the token bucket")
	}
}
