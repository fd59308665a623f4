package rist

import "sync/atomic"

// Stats is the context-level snapshot exposed to callers (spec.md §7
// "User-visible": "received, recovered, lost, retransmitted, duplicates,
// quality").
type Stats struct {
	Received      uint64
	Recovered     uint64
	Lost          uint64
	Retransmitted uint64
	Duplicates    uint64
	Late          uint64
	DecryptFail   uint64
	QueueOverflow uint64
}

// Quality returns received / (received + lost) over the cumulative
// counters in s, not over a recent window. Returns 1.0 if no packets have
// been accounted for yet.
func (s Stats) Quality() float64 {
	expected := s.Received + s.Lost
	if expected == 0 {
		return 1.0
	}
	return float64(s.Received) / float64(expected)
}

// doubleBufferedStats implements spec.md §5 "Shared resources": "the
// stats snapshot is double-buffered: reactor writes to buffer A, callers
// read buffer B after atomic index swap."
//
// Grounded on the teacher's pkg/raknet/protocol.go-adjacent stats
// counters pattern (plain fields mutated under the session mutex),
// generalized here to a lock-free swap so stats reads from an application
// thread never contend with the reactor thread's hot path.
type doubleBufferedStats struct {
	buffers [2]Stats
	active  int32 // index the reactor is currently writing to
}

// newDoubleBufferedStats returns a fresh double buffer with both sides
// zeroed.
func newDoubleBufferedStats() *doubleBufferedStats {
	return &doubleBufferedStats{}
}

// WriteSide returns a pointer to the buffer the reactor thread should
// mutate directly; only the reactor goroutine may call this.
func (d *doubleBufferedStats) WriteSide() *Stats {
	return &d.buffers[atomic.LoadInt32(&d.active)]
}

// Swap publishes the current write-side buffer to readers by flipping the
// active index, then copies its contents forward into the new write side
// so counters keep accumulating instead of resetting to zero.
func (d *doubleBufferedStats) Swap() {
	cur := atomic.LoadInt32(&d.active)
	next := 1 - cur
	d.buffers[next] = d.buffers[cur]
	atomic.StoreInt32(&d.active, next)
}

// Snapshot returns the last-published (reader-side) buffer, safe to call
// from any goroutine.
func (d *doubleBufferedStats) Snapshot() Stats {
	cur := atomic.LoadInt32(&d.active)
	return d.buffers[1-cur]
}
