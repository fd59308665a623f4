// Package reactor implements the single cooperative event loop that owns
// all peer, flow, cache, and window state for one context (spec.md §4.7,
// §5, C7): N UDP sockets, a 1ms timer wheel, and a wake channel for
// application-posted writes.
//
// Grounded on the teacher's source/server/server.go listen/updateLoop
// split (a blocking read loop plus a separate ticker-driven update loop),
// restructured into one select-driven loop per spec.md §5's single-thread
// ownership invariant: reader goroutines only move bytes off the kernel
// socket buffer, all core-state mutation happens on the reactor goroutine.
package reactor

import "sync/atomic"

// SPSCRing is a lock-free single-producer/single-consumer ring buffer used
// at the application boundary for data_write/oob_write (spec.md §4.7 "they
// enqueue into lock-free single-producer/single-consumer rings that the
// reactor drains"). Capacity is rounded up to a power of two.
type SPSCRing struct {
	buf  []interface{}
	mask uint64
	head uint64 // consumer-owned read cursor
	tail uint64 // producer-owned write cursor
}

// NewSPSCRing builds a ring of at least capacity slots.
func NewSPSCRing(capacity int) *SPSCRing {
	size := 1
	for size < capacity {
		size <<= 1
	}
	if size < 2 {
		size = 2
	}
	return &SPSCRing{buf: make([]interface{}, size), mask: uint64(size - 1)}
}

// TryPush attempts a non-blocking enqueue from the single producer side.
// Returns false if the ring is full (the caller, e.g. data_write, should
// treat this as backpressure).
func (r *SPSCRing) TryPush(v interface{}) bool {
	tail := atomic.LoadUint64(&r.tail)
	head := atomic.LoadUint64(&r.head)
	if tail-head >= uint64(len(r.buf)) {
		return false
	}
	r.buf[tail&r.mask] = v
	atomic.StoreUint64(&r.tail, tail+1)
	return true
}

// TryPop attempts a non-blocking dequeue from the single consumer side
// (the reactor goroutine).
func (r *SPSCRing) TryPop() (v interface{}, ok bool) {
	head := atomic.LoadUint64(&r.head)
	tail := atomic.LoadUint64(&r.tail)
	if head == tail {
		return nil, false
	}
	v = r.buf[head&r.mask]
	r.buf[head&r.mask] = nil
	atomic.StoreUint64(&r.head, head+1)
	return v, true
}

// Len reports the number of queued-but-undrained entries. Approximate
// under concurrent access but exact once the producer stops.
func (r *SPSCRing) Len() int {
	return int(atomic.LoadUint64(&r.tail) - atomic.LoadUint64(&r.head))
}
