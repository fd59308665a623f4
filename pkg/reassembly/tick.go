package reassembly

import "time"

// Tick runs one release-path iteration for the flow (spec.md §4.4
// "Release path" + "Buffer bloat control"), applying the reactive
// occupancy policy before draining ready slots.
func (f *Flow) Tick(now time.Time) (released [][]byte, lostCount int) {
	occupancy := f.Window.Occupancy()
	switch f.bloat.Check(occupancy) {
	case bloatHardFlush:
		lostCount += f.Window.AdvanceTo(f.Window.TailSeq())
	case bloatShrinkAndAdvance:
		f.Window.SetRecoveryLengthMaxMS(f.bloat.Shrink())
		if oldest, ok := f.Window.OldestHeldSeq(); ok {
			lostCount += f.Window.AdvanceTo(oldest)
		}
	case bloatShrink:
		f.Window.SetRecoveryLengthMaxMS(f.bloat.Shrink())
	}

	r, l := f.Window.Release(now)
	released = append(released, r...)
	lostCount += l
	return released, lostCount
}
