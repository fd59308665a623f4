package outsched

import (
	"sync"
	"time"
)

// DeliveryMode selects how released packets reach the application
// (spec.md §4.6 "Delivery modes").
type DeliveryMode int

const (
	DeliveryCallback DeliveryMode = iota
	DeliveryQueue
	DeliveryNotifyFD
)

// DataCallback is invoked synchronously on the reactor thread in
// DeliveryCallback mode; it must not block (spec.md §4.6 "Callback").
type DataCallback func(flowID uint32, payload []byte)

// pending is one packet awaiting its smoothed release time.
type pending struct {
	payload     []byte
	releaseTime time.Time
}

// Flow is one flow's output schedule: a FIFO of packets awaiting their
// jitter-smoothed release_time, delivered in strict arrival order once
// due (spec.md §4.6 "Maintains monotonic egress order per flow").
type Flow struct {
	mu       sync.Mutex
	flowID   uint32
	mode     DeliveryMode
	jitterMS int
	queue    []pending

	ring     *Ring         // DeliveryQueue mode
	notifyCh chan struct{} // DeliveryNotifyFD mode
	callback DataCallback  // DeliveryCallback mode
}

// NewFlow builds an output schedule for one flow.
func NewFlow(flowID uint32, mode DeliveryMode, jitterMaxMS int, cb DataCallback) *Flow {
	f := &Flow{
		flowID:   flowID,
		mode:     mode,
		jitterMS: jitterMaxMS,
		callback: cb,
	}
	switch mode {
	case DeliveryQueue:
		f.ring = NewRing(defaultRingCapacity)
	case DeliveryNotifyFD:
		f.ring = NewRing(defaultRingCapacity)
		f.notifyCh = make(chan struct{}, 1)
	}
	return f
}

// Schedule enqueues a payload just released by the reassembler, computing
// release_time = arrival_time_of_expected + jitter_max_ms (spec.md §4.6).
func (f *Flow) Schedule(payload []byte, arrivalOfExpected time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, pending{
		payload:     payload,
		releaseTime: arrivalOfExpected.Add(time.Duration(f.jitterMS) * time.Millisecond),
	})
}

// Drain delivers every packet whose release_time has arrived, in FIFO
// order, via the configured delivery mode. Call on every reactor tick.
func (f *Flow) Drain(now time.Time) {
	f.mu.Lock()
	var due []pending
	i := 0
	for ; i < len(f.queue); i++ {
		if f.queue[i].releaseTime.After(now) {
			break
		}
		due = append(due, f.queue[i])
	}
	f.queue = f.queue[i:]
	f.mu.Unlock()

	for _, p := range due {
		f.deliver(p.payload)
	}
}

func (f *Flow) deliver(payload []byte) {
	switch f.mode {
	case DeliveryCallback:
		if f.callback != nil {
			f.callback(f.flowID, payload)
		}
	case DeliveryQueue:
		f.ring.Push(payload)
	case DeliveryNotifyFD:
		f.ring.Push(payload)
		select {
		case f.notifyCh <- struct{}{}:
		default:
		}
	}
}

// DataRead implements the Queue/NotifyFD consumer-facing read API
// (spec.md §4.6 "Queue"/"Notify FD": "consumer drains via data_read").
// It returns immediately with ok=false if nothing is queued and timeout
// is zero; otherwise it waits up to timeout for the notify channel (when
// in NotifyFD mode) before giving up.
func (f *Flow) DataRead(timeout time.Duration) (payload []byte, ok bool) {
	if payload, ok = f.ring.Pop(); ok {
		return payload, true
	}
	if f.mode != DeliveryNotifyFD || timeout <= 0 {
		return nil, false
	}
	select {
	case <-f.notifyCh:
		return f.ring.Pop()
	case <-time.After(timeout):
		return nil, false
	}
}

// QueueOverflow reports the cumulative drop count for Queue/NotifyFD mode.
func (f *Flow) QueueOverflow() uint64 {
	if f.ring == nil {
		return 0
	}
	return f.ring.Overflow()
}
