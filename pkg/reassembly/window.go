package reassembly

import (
	"time"

	"github.com/ristgo/rist/pkg/wire"
)

const minWindowSize = 1024

// Window is one flow's Reassembly Window (spec.md §3, §4.4).
type Window struct {
	slots      []Slot
	mask       uint32
	headSeq    uint32
	tailSeq    uint32
	expectedSeq uint32
	started    bool

	recoveryLengthMinMS int
	recoveryLengthMaxMS int // mutable: shrunk by buffer-bloat control

	lost uint64
	late uint64
}

// NewWindow sizes a window from the estimated bitrate and average packet
// size (spec.md §4.4 step 2): `next_power_of_two(recovery_length_max_ms *
// estimated_bitrate / 8 / avg_packet_size)`, floor 1024.
func NewWindow(recoveryLengthMinMS, recoveryLengthMaxMS int, estimatedBitrateBps, avgPacketSize int) *Window {
	size := minWindowSize
	if avgPacketSize > 0 && estimatedBitrateBps > 0 {
		bytesInWindow := recoveryLengthMaxMS * estimatedBitrateBps / 8 / 1000
		computed := nextPowerOfTwo(bytesInWindow / avgPacketSize)
		if computed > size {
			size = computed
		}
	}
	return &Window{
		slots:                make([]Slot, size),
		mask:                 uint32(size - 1),
		recoveryLengthMinMS:  recoveryLengthMinMS,
		recoveryLengthMaxMS:  recoveryLengthMaxMS,
	}
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (w *Window) index(seq uint32) uint32 { return seq & w.mask }

// WindowSize returns the number of slots in the window.
func (w *Window) WindowSize() int { return len(w.slots) }

// HeadSeq, TailSeq, ExpectedSeq expose the window cursors (spec.md §3).
func (w *Window) HeadSeq() uint32     { return w.headSeq }
func (w *Window) TailSeq() uint32     { return w.tailSeq }
func (w *Window) ExpectedSeq() uint32 { return w.expectedSeq }

// Insert places an arriving packet per spec.md §4.4 "Insert path" steps
// 2-3. overrun reports that a window overrun fast-forward marked the
// skipped slots EXPIRED; those are already added to LostCount.
func (w *Window) Insert(seq uint32, payload []byte, retransmission bool, now time.Time) (duplicate, late, overrun bool) {
	if !w.started {
		w.started = true
		w.headSeq = seq
		w.expectedSeq = seq
		w.tailSeq = seq
	}

	d := wire.SeqDelta(seq, w.expectedSeq)
	windowSize := int32(len(w.slots))

	switch {
	case d < 0:
		slot := &w.slots[w.index(seq)]
		if slot.State == SlotHeld && slot.Seq == seq && !slot.Retransmission {
			return true, false, false
		}
		if slot.State == SlotReleased && slot.Seq == seq {
			return true, false, false
		}
		w.late++
		return false, true, false

	case d >= windowSize:
		advance := uint32(d) - uint32(windowSize) + 1
		w.fastForward(advance)
		overrun = true
	}

	slot := &w.slots[w.index(seq)]
	slot.State = SlotHeld
	slot.Seq = seq
	slot.ArrivalTS = now
	slot.DeadlineTS = now.Add(time.Duration(w.recoveryLengthMinMS) * time.Millisecond)
	slot.Payload = payload
	slot.Retransmission = retransmission

	if wire.SeqDelta(seq, w.tailSeq) > 0 {
		w.tailSeq = seq
	}
	return false, false, overrun
}

// fastForward advances expected_seq and head_seq by n slots, marking the
// vacated slots EXPIRED (spec.md §4.4 "window overrun").
func (w *Window) fastForward(n uint32) {
	for i := uint32(0); i < n; i++ {
		slot := &w.slots[w.index(w.expectedSeq)]
		if slot.State != SlotReleased {
			slot.State = SlotExpired
			slot.Seq = w.expectedSeq
			w.lost++
		}
		w.expectedSeq++
	}
	w.headSeq = w.expectedSeq
	if wire.SeqLess(w.tailSeq, w.expectedSeq) {
		w.tailSeq = w.expectedSeq
	}
}

// Release runs the release-path tick (spec.md §4.4 "Release path"):
// drains every HELD/expired-deadline slot starting at expected_seq,
// advancing until it hits a still-pending gap. It returns the payloads to
// hand to the output scheduler (C6), in release order.
func (w *Window) Release(now time.Time) (released [][]byte, lostCount int) {
	for {
		slot := &w.slots[w.index(w.expectedSeq)]
		switch {
		case slot.State == SlotHeld && slot.Seq == w.expectedSeq:
			released = append(released, slot.Payload)
			slot.State = SlotReleased
			w.expectedSeq++
			w.headSeq = w.expectedSeq
		case slot.State == SlotExpired && slot.Seq == w.expectedSeq:
			w.expectedSeq++
			w.headSeq = w.expectedSeq
		case (slot.State != SlotHeld || slot.Seq != w.expectedSeq) && w.gapDeadlineElapsed(now):
			lostCount++
			w.lost++
			w.expectedSeq++
			w.headSeq = w.expectedSeq
		default:
			return released, lostCount
		}
	}
}

// gapDeadlineElapsed reports whether the awaited slot's implicit deadline
// (arrival_ts of neighboring packets plus recovery_length_min) has passed.
// We approximate "deadline elapsed" using the oldest held slot in front of
// expected_seq; when no slot after expected_seq is held, it reports false.
// reassembly.Flow drives Release on a fixed timer and supplies now.
func (w *Window) gapDeadlineElapsed(now time.Time) bool {
	if wire.SeqLessEq(w.tailSeq, w.expectedSeq) {
		return false
	}
	for seq := w.expectedSeq + 1; wire.SeqLessEq(seq, w.tailSeq); seq++ {
		next := w.slots[w.index(seq)]
		if next.State == SlotHeld && next.Seq == seq {
			deadline := next.ArrivalTS.Add(time.Duration(w.recoveryLengthMinMS) * time.Millisecond)
			return now.After(deadline)
		}
	}
	return false
}

// Occupancy returns tail_seq - expected_seq, the buffer-bloat occupancy
// metric (spec.md §4.4 "Buffer bloat control").
func (w *Window) Occupancy() int32 {
	return wire.SeqDelta(w.tailSeq, w.expectedSeq)
}

// LostCount and LateCount report cumulative counters for stats purposes.
func (w *Window) LostCount() uint64 { return w.lost }
func (w *Window) LateCount() uint64 { return w.late }

// SetRecoveryLengthMaxMS applies a (possibly bloat-shrunk) recovery length
// ceiling; it does not resize the slot array, only the deadline math that
// derives from it.
func (w *Window) SetRecoveryLengthMaxMS(ms int) { w.recoveryLengthMaxMS = ms }

// OldestHeldSeq scans for the oldest currently-HELD slot, used by
// AGGRESSIVE buffer-bloat mode to discard the gap in front of it
// (spec.md §4.4 "AGGRESSIVE ... advance expected_seq to the oldest HELD
// slot").
func (w *Window) OldestHeldSeq() (seq uint32, found bool) {
	best := w.tailSeq
	for _, s := range w.slots {
		if s.State == SlotHeld && wire.SeqLessEq(w.expectedSeq, s.Seq) {
			if !found || wire.SeqLess(s.Seq, best) {
				best = s.Seq
				found = true
			}
		}
	}
	return best, found
}

// PendingGaps returns every sequence number between expected_seq (inclusive)
// and tail_seq (inclusive) whose slot is not yet HELD or RELEASED — the
// set the NACK scheduler (C5) should be tracking (spec.md §4.4 step 5
// "Notify C5 of the new arrival", read in reverse: anything still missing
// after an insert is NACK-worthy).
func (w *Window) PendingGaps() []uint32 {
	var gaps []uint32
	for seq := w.expectedSeq; wire.SeqLessEq(seq, w.tailSeq); seq++ {
		slot := &w.slots[w.index(seq)]
		if slot.Seq != seq || (slot.State != SlotHeld && slot.State != SlotReleased) {
			gaps = append(gaps, seq)
		}
		if seq == w.tailSeq {
			break
		}
	}
	return gaps
}

// AdvanceTo force-advances expected_seq/head_seq to target, marking any
// intervening gaps as lost (used by the AGGRESSIVE and hard-flush
// buffer-bloat paths, spec.md §4.4).
func (w *Window) AdvanceTo(target uint32) (lostCount int) {
	for w.expectedSeq != target && wire.SeqLess(w.expectedSeq, target) {
		slot := &w.slots[w.index(w.expectedSeq)]
		if slot.State != SlotHeld && slot.State != SlotReleased {
			lostCount++
			w.lost++
		}
		w.expectedSeq++
	}
	w.headSeq = w.expectedSeq
	return lostCount
}
