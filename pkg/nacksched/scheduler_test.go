package nacksched

import (
	"testing"
	"time"

	"github.com/ristgo/rist/pkg/wire"
)

func TestGapNotEligibleBeforeThreshold(t *testing.T) {
	s := New(Config{ReorderBufferMS: 25, RecoveryLengthMaxMS: 500})
	now := time.Now()
	s.MarkMissing(1, 50, now)

	if due := s.DueNACKs(1, 10*time.Millisecond, now.Add(5*time.Millisecond)); len(due) != 0 {
		t.Fatalf("expected no NACK before eligibility threshold, got %v", due)
	}
	if due := s.DueNACKs(1, 10*time.Millisecond, now.Add(30*time.Millisecond)); len(due) != 1 {
		t.Fatalf("expected 1 due NACK once reorder_buffer_ms elapsed, got %v", due)
	}
}

func TestGapFilledCancelsTracking(t *testing.T) {
	s := New(Config{ReorderBufferMS: 1, RecoveryLengthMaxMS: 500})
	now := time.Now()
	s.MarkMissing(1, 7, now)
	s.MarkFilled(1, 7)

	if n := s.PendingCount(1); n != 0 {
		t.Fatalf("expected gap to be cancelled, pending=%d", n)
	}
}

func TestRetryCapDropsGap(t *testing.T) {
	s := New(Config{MaxRetries: 2, ReorderBufferMS: 0, RecoveryLengthMaxMS: 4000})
	now := time.Now()
	s.MarkMissing(1, 1, now)

	rtt := time.Millisecond
	due := s.DueNACKs(1, rtt, now.Add(2*time.Millisecond))
	if len(due) != 1 {
		t.Fatalf("expected first NACK once past the rtt*1.1 threshold, got %v", due)
	}
	due = s.DueNACKs(1, rtt, now.Add(time.Second))
	if len(due) != 1 {
		t.Fatalf("expected second NACK, got %v", due)
	}
	due = s.DueNACKs(1, rtt, now.Add(2*time.Second))
	if len(due) != 0 {
		t.Fatalf("expected max_retries to drop the gap, got %v", due)
	}
	if n := s.PendingCount(1); n != 0 {
		t.Fatalf("expected gap to be removed after exhausting retries, pending=%d", n)
	}
}

func TestSelectTargetExcludesWeightZero(t *testing.T) {
	candidates := []Candidate{
		{PeerIndex: 0, RTT: 5 * time.Millisecond, Weight: 0},
		{PeerIndex: 1, RTT: 50 * time.Millisecond, Weight: 5},
		{PeerIndex: 2, RTT: 20 * time.Millisecond, Weight: 5},
	}
	best, ok := SelectTarget(candidates)
	if !ok {
		t.Fatal("expected a target")
	}
	if best.PeerIndex != 2 {
		t.Fatalf("expected lowest-RTT non-zero-weight peer (2), got %d", best.PeerIndex)
	}
}

func TestSelectTargetAllZeroWeight(t *testing.T) {
	_, ok := SelectTarget([]Candidate{{Weight: 0}, {Weight: 0}})
	if ok {
		t.Fatal("expected no target when all candidates have weight 0")
	}
}

func TestEncodeNACKsRangeCoalescesContiguousRun(t *testing.T) {
	s := New(Config{Encoding: wire.NACKRange})
	data := s.EncodeNACKs([]uint32{5, 6, 7, 10})
	entries, err := wire.DecodeNACKRange(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 coalesced ranges, got %d: %v", len(entries), entries)
	}
	if entries[0].Start != 5 || entries[0].Count != 3 {
		t.Fatalf("unexpected first range: %+v", entries[0])
	}
	if entries[1].Start != 10 || entries[1].Count != 1 {
		t.Fatalf("unexpected second range: %+v", entries[1])
	}
}

func TestEncodeNACKsBitmask(t *testing.T) {
	s := New(Config{Encoding: wire.NACKBitmask})
	data := s.EncodeNACKs([]uint32{100, 101, 105})
	entries, err := wire.DecodeNACKBitmask(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 bitmask entry, got %d", len(entries))
	}
	expanded := entries[0].Expand()
	if len(expanded) != 3 {
		t.Fatalf("expected 3 expanded seqs, got %v", expanded)
	}
}
