package wire

// Sequence numbers are 32-bit wraparound counters (spec.md §3, §4.1). All
// comparisons use the signed-difference convention: a < b iff the 32-bit
// subtraction, reinterpreted as signed, is negative. This lets the window
// and NACK scheduler reason about ordering across a wrap at 2^32 the same
// way they would below it.

// SeqDelta returns (int32)(a-b) as the signed wraparound distance from b to a.
func SeqDelta(a, b uint32) int32 {
	return int32(a - b)
}

// SeqLess reports whether a precedes b in wraparound sequence order.
func SeqLess(a, b uint32) bool {
	return SeqDelta(a, b) < 0
}

// SeqLessEq reports whether a precedes or equals b in wraparound order.
func SeqLessEq(a, b uint32) bool {
	return SeqDelta(a, b) <= 0
}
