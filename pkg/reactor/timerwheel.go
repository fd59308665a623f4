package reactor

import "time"

const wheelSlots = 1024 // 1ms granularity * 1024 slots = ~1.024s range per spec.md §4.7

// timerEntry is one scheduled callback.
type timerEntry struct {
	deadline time.Time
	fn       func(time.Time)
	cancel   bool
}

// TimerWheel is a single-level 1ms-granularity timer wheel (spec.md §4.7
// "timer wheel (1 ms granularity)"). Entries whose deadline falls beyond
// the wheel's ~1s range are kept in an overflow list and re-checked every
// revolution; RIST's own timers (keep-alive, NACK backoff, release tick)
// are all sub-second so the overflow path is rarely exercised in
// practice, but it keeps the wheel correct for longer session timeouts.
type TimerWheel struct {
	slots    [wheelSlots][]*timerEntry
	overflow []*timerEntry
	cursor   int
	last     time.Time
}

// NewTimerWheel builds an empty wheel anchored at now.
func NewTimerWheel(now time.Time) *TimerWheel {
	return &TimerWheel{last: now}
}

// TimerHandle lets a caller cancel a scheduled timer before it fires.
type TimerHandle struct{ entry *timerEntry }

// Cancel marks the timer as cancelled; it is a no-op if it already fired.
func (h TimerHandle) Cancel() {
	if h.entry != nil {
		h.entry.cancel = true
	}
}

// Schedule arranges for fn to run at approximately deadline (quantized to
// the next 1ms slot).
func (w *TimerWheel) Schedule(now time.Time, deadline time.Time, fn func(time.Time)) TimerHandle {
	e := &timerEntry{deadline: deadline, fn: fn}
	msAway := deadline.Sub(now).Milliseconds()
	if msAway < 1 {
		msAway = 1
	}
	if msAway >= wheelSlots {
		w.overflow = append(w.overflow, e)
		return TimerHandle{e}
	}
	slot := (w.cursor + int(msAway)) % wheelSlots
	w.slots[slot] = append(w.slots[slot], e)
	return TimerHandle{e}
}

// Advance ticks the wheel forward to now, firing (and removing) every
// entry whose slot the cursor passes, in 1ms steps (spec.md §4.7 "fire
// timers"). Safe to call with an arbitrarily large elapsed time; it will
// not fire more than one full revolution's worth of slots per call since
// any slot visited more than once in the same Advance has already been
// drained.
func (w *TimerWheel) Advance(now time.Time) {
	elapsedMS := now.Sub(w.last).Milliseconds()
	if elapsedMS <= 0 {
		return
	}
	steps := elapsedMS
	if steps > wheelSlots {
		steps = wheelSlots // a full revolution drains every slot once
	}
	for i := int64(0); i < steps; i++ {
		w.cursor = (w.cursor + 1) % wheelSlots
		due := w.slots[w.cursor]
		w.slots[w.cursor] = nil
		for _, e := range due {
			if !e.cancel {
				e.fn(now)
			}
		}
	}
	w.last = now
	w.drainOverflow(now)
}

func (w *TimerWheel) drainOverflow(now time.Time) {
	if len(w.overflow) == 0 {
		return
	}
	kept := w.overflow[:0]
	for _, e := range w.overflow {
		if e.cancel {
			continue
		}
		if !now.Before(e.deadline) {
			e.fn(now)
			continue
		}
		if e.deadline.Sub(now).Milliseconds() < wheelSlots {
			// Now within wheel range: re-home it into a real slot.
			w.Schedule(now, e.deadline, e.fn)
			continue
		}
		kept = append(kept, e)
	}
	w.overflow = kept
}
