package reassembly

// BloatMode selects the receiver's reactive buffer-bloat policy (spec.md
// §4.4 "Buffer bloat control", mirrors peer.BufferBloatMode).
type BloatMode int

const (
	BloatOff BloatMode = iota
	BloatNormal
	BloatAggressive
)

const bloatConsecutiveTicksThreshold = 3

// bloatController implements spec.md §4.4's reactive occupancy policy:
// after `occupancy > buffer_bloat_limit` holds for 3 consecutive ticks,
// NORMAL shrinks recovery_length_max by 10% (floor recovery_length_min);
// AGGRESSIVE additionally fast-forwards to the oldest HELD slot. Crossing
// buffer_bloat_hard_limit unconditionally hard-flushes to tail regardless
// of mode.
type bloatController struct {
	mode           BloatMode
	limit          int
	hardLimit      int
	lengthMinMS    int
	lengthMaxMS    int
	consecutiveHit int
}

func newBloatController(mode BloatMode, limit, hardLimit, lengthMinMS, lengthMaxMS int) bloatController {
	return bloatController{
		mode:        mode,
		limit:       limit,
		hardLimit:   hardLimit,
		lengthMinMS: lengthMinMS,
		lengthMaxMS: lengthMaxMS,
	}
}

// bloatAction is what the controller decided to do on this tick, for the
// caller (the per-flow release tick) to apply against the Window.
type bloatAction int

const (
	bloatNone bloatAction = iota
	bloatShrink
	bloatShrinkAndAdvance
	bloatHardFlush
)

// Check evaluates one tick's occupancy and returns the action to take.
// Does not mutate the Window itself — callers apply the action so window
// mutation logic stays in one place (window.go).
func (b *bloatController) Check(occupancy int32) bloatAction {
	if b.mode == BloatOff && occupancy <= int32(b.hardLimit) {
		return bloatNone
	}
	if occupancy > int32(b.hardLimit) {
		b.consecutiveHit = 0
		return bloatHardFlush
	}
	if occupancy > int32(b.limit) {
		b.consecutiveHit++
	} else {
		b.consecutiveHit = 0
		return bloatNone
	}
	if b.consecutiveHit < bloatConsecutiveTicksThreshold {
		return bloatNone
	}
	switch b.mode {
	case BloatAggressive:
		return bloatShrinkAndAdvance
	case BloatNormal:
		return bloatShrink
	default:
		return bloatNone
	}
}

// Shrink reduces recovery_length_max by 10%, floored at recovery_length_min
// (spec.md §4.4 "shrink recovery_length_max by 10%").
func (b *bloatController) Shrink() int {
	reduced := b.lengthMaxMS - b.lengthMaxMS/10
	if reduced < b.lengthMinMS {
		reduced = b.lengthMinMS
	}
	b.lengthMaxMS = reduced
	return b.lengthMaxMS
}

// LengthMaxMS returns the current (possibly shrunk) recovery_length_max.
func (b *bloatController) LengthMaxMS() int { return b.lengthMaxMS }
