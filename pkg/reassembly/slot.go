// Package reassembly implements the receiver-side flow reassembly engine
// (spec.md §4.4, C4): a per-flow sliding window keyed by sequence number
// that holds, reorders, and releases packets, with reactive buffer-bloat
// control.
//
// The sparse-slot-array-plus-head/tail/expected bookkeeping is grounded on
// the teacher's source/protocol/raknet.go ordering channel (OrderedQueue
// with a holding buffer keyed by ordering index), generalized from
// RakNet's single fixed channel set to spec.md's power-of-two modular
// window indexed by 32-bit wraparound sequence.
package reassembly

import "time"

// SlotState is the lifecycle of one window slot (spec.md §3 "Reassembly
// Window (RW)").
type SlotState int

const (
	SlotEmpty SlotState = iota
	SlotHeld
	SlotReleased
	SlotExpired
)

func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotHeld:
		return "held"
	case SlotReleased:
		return "released"
	case SlotExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Slot is one entry of the Reassembly Window.
type Slot struct {
	State          SlotState
	Seq            uint32
	ArrivalTS      time.Time
	DeadlineTS     time.Time
	Payload        []byte
	Retransmission bool
}
