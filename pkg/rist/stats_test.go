package rist

import "testing"

func TestDoubleBufferedStatsSwapPublishesWriteSide(t *testing.T) {
	d := newDoubleBufferedStats()
	d.WriteSide().Received = 10
	d.WriteSide().Lost = 1

	if got := d.Snapshot().Received; got != 0 {
		t.Fatalf("expected readers to see nothing before Swap, got %d", got)
	}

	d.Swap()
	snap := d.Snapshot()
	if snap.Received != 10 || snap.Lost != 1 {
		t.Fatalf("got %+v", snap)
	}

	// Counters must keep accumulating on the new write side rather than
	// reset to zero (spec.md §5 "reactor writes to buffer A... stats
	// snapshot is double-buffered").
	d.WriteSide().Received += 5
	d.Swap()
	if got := d.Snapshot().Received; got != 15 {
		t.Fatalf("expected accumulation across swaps, got %d", got)
	}
}

func TestStatsQuality(t *testing.T) {
	s := Stats{Received: 99, Lost: 1}
	if q := s.Quality(); q < 0.98 || q > 0.991 {
		t.Fatalf("got %v want ~0.99", q)
	}

	empty := Stats{}
	if q := empty.Quality(); q != 1.0 {
		t.Fatalf("expected quality 1.0 with no traffic, got %v", q)
	}
}
