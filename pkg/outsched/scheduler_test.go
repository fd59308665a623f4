package outsched

import (
	"testing"
	"time"
)

func TestRingOldestDropOnOverflow(t *testing.T) {
	r := NewRing(2)
	r.Push([]byte("a"))
	r.Push([]byte("b"))
	r.Push([]byte("c")) // drops "a"

	if r.Overflow() != 1 {
		t.Fatalf("overflow=%d want 1", r.Overflow())
	}
	first, _ := r.Pop()
	if string(first) != "b" {
		t.Fatalf("got %q want b", first)
	}
}

func TestCallbackModeDeliversOnDrain(t *testing.T) {
	var got []byte
	f := NewFlow(1, DeliveryCallback, 20, func(flowID uint32, payload []byte) {
		got = payload
	})
	now := time.Now()
	f.Schedule([]byte("payload"), now)

	f.Drain(now) // before jitter_max_ms has elapsed, nothing due yet
	if got != nil {
		t.Fatal("expected no delivery before release_time")
	}

	f.Drain(now.Add(25 * time.Millisecond))
	if string(got) != "payload" {
		t.Fatalf("got %q", got)
	}
}

func TestQueueModeOverflowIncrementsCounter(t *testing.T) {
	f := NewFlow(1, DeliveryQueue, 0, nil)
	now := time.Now()
	for i := 0; i < defaultRingCapacity+5; i++ {
		f.Schedule([]byte{byte(i)}, now)
	}
	f.Drain(now)

	if f.QueueOverflow() != 5 {
		t.Fatalf("overflow=%d want 5", f.QueueOverflow())
	}
}

func TestMonotonicEgressOrderPerFlow(t *testing.T) {
	var order []int
	f := NewFlow(1, DeliveryCallback, 0, func(flowID uint32, payload []byte) {
		order = append(order, int(payload[0]))
	})
	now := time.Now()
	for i := 0; i < 10; i++ {
		f.Schedule([]byte{byte(i)}, now)
	}
	f.Drain(now)

	for i, v := range order {
		if v != i {
			t.Fatalf("egress order broken at %d: %v", i, order)
		}
	}
}

func TestNotifyFDWakesConsumer(t *testing.T) {
	f := NewFlow(1, DeliveryNotifyFD, 0, nil)
	now := time.Now()
	f.Schedule([]byte("x"), now)
	f.Drain(now)

	payload, ok := f.DataRead(100 * time.Millisecond)
	if !ok || string(payload) != "x" {
		t.Fatalf("got %q ok=%v", payload, ok)
	}
}
