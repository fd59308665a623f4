package reassembly

import (
	"testing"
	"time"
)

func TestInsertInOrderReleasesImmediately(t *testing.T) {
	w := NewWindow(20, 200, 0, 0)
	now := time.Now()

	w.Insert(100, []byte("a"), false, now)
	released, lost := w.Release(now)
	if len(released) != 1 || string(released[0]) != "a" {
		t.Fatalf("got %v", released)
	}
	if lost != 0 {
		t.Fatalf("unexpected lost=%d", lost)
	}
	if w.ExpectedSeq() != 101 {
		t.Fatalf("expected_seq=%d want 101", w.ExpectedSeq())
	}
}

func TestInsertOutOfOrderHoldsUntilGapFills(t *testing.T) {
	w := NewWindow(20, 200, 0, 0)
	now := time.Now()

	w.Insert(10, []byte("ten"), false, now)
	w.Insert(12, []byte("twelve"), false, now) // gap at 11

	released, _ := w.Release(now)
	if len(released) != 1 {
		t.Fatalf("expected only seq 10 released while 11 is missing, got %d", len(released))
	}

	w.Insert(11, []byte("eleven"), false, now)
	released, _ = w.Release(now)
	if len(released) != 2 {
		t.Fatalf("expected 11 and 12 released after gap fill, got %d: %v", len(released), released)
	}
}

func TestDuplicateBeforeExpectedIsIgnored(t *testing.T) {
	w := NewWindow(20, 200, 0, 0)
	now := time.Now()

	w.Insert(5, []byte("x"), false, now)
	w.Release(now)

	dup, late, _ := w.Insert(5, []byte("x-again"), false, now)
	if !dup {
		t.Fatal("expected re-arrival of a released seq to be flagged duplicate")
	}
	if late {
		t.Fatal("should not also count as late")
	}
}

func TestWindowOverrunFastForwardsAndCountsLost(t *testing.T) {
	w := NewWindow(20, 200, 0, 0) // minimum window size 1024
	now := time.Now()

	w.Insert(0, []byte("first"), false, now)
	_, _, overrun := w.Insert(uint32(w.WindowSize())+5, []byte("far-ahead"), false, now)
	if !overrun {
		t.Fatal("expected window overrun")
	}
	if w.LostCount() == 0 {
		t.Fatal("expected overrun to count lost packets for skipped slots")
	}
}

func TestSequenceWraparoundOrdering(t *testing.T) {
	w := NewWindow(20, 200, 0, 0)
	now := time.Now()

	const nearWrap = ^uint32(0) - 1 // 4294967294
	w.Insert(nearWrap, []byte("a"), false, now)
	w.Insert(nearWrap+1, []byte("b"), false, now) // 2^32-1
	w.Insert(0, []byte("c"), false, now)          // wraps past 2^32-1

	released, _ := w.Release(now)
	if len(released) != 3 {
		t.Fatalf("expected all three packets released across the wrap, got %d", len(released))
	}
	if string(released[2]) != "c" {
		t.Fatalf("expected wrapped packet released last, got order %v", released)
	}
}

func TestBufferBloatAggressiveFlushesGaps(t *testing.T) {
	mgr := NewManager(10, 200, 0, 0, BloatAggressive, 5, 50, time.Hour)
	now := time.Now()
	flow := mgr.Flow(1, now)

	flow.Window.Insert(0, []byte("a"), false, now)
	// leave a gap at 1..5, then hold several packets past the limit
	for seq := uint32(6); seq < 20; seq++ {
		flow.Window.Insert(seq, []byte{byte(seq)}, false, now)
	}

	for i := 0; i < bloatConsecutiveTicksThreshold; i++ {
		flow.Tick(now)
	}

	if flow.Window.Occupancy() > int32(flow.Window.WindowSize()) {
		t.Fatalf("occupancy should never exceed window size: %d", flow.Window.Occupancy())
	}
	// The third tick skips the 1..5 gap (5 lost) and releases 6..19.
	if flow.Window.LostCount() != 5 || flow.Window.ExpectedSeq() != 20 {
		t.Fatalf("expected gap 1..5 flushed as lost: lost=%d expected_seq=%d", flow.Window.LostCount(), flow.Window.ExpectedSeq())
	}
}

func TestManagerLazyFlowCreationAndExpiry(t *testing.T) {
	mgr := NewManager(10, 200, 0, 0, BloatOff, 100, 200, 10*time.Millisecond)
	now := time.Now()

	f1 := mgr.Flow(42, now)
	if f1.ID != 42 {
		t.Fatalf("got flow id %d", f1.ID)
	}
	f2 := mgr.Flow(42, now)
	if f1 != f2 {
		t.Fatal("expected same flow instance to be reused")
	}

	expired := mgr.ExpireIdle(now.Add(time.Hour))
	if len(expired) != 1 || expired[0] != 42 {
		t.Fatalf("expected flow 42 to expire, got %v", expired)
	}
}
