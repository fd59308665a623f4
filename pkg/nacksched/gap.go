// Package nacksched implements the receiver-side NACK scheduler (spec.md
// §4.5, C5): tracks missing sequence gaps per flow, decides when they
// become NACK-eligible, applies RTT-aware exponential backoff, and
// chooses which peer to address a retransmit request to when a flow is
// fed by more than one peer.
//
// The gap bookkeeping (first-missed timestamp, retry counter, last-sent
// timestamp, exponential backoff) is grounded on the pack's pion/rtcp
// receiver_nack.go and AetherFlow send_buffer.go retransmit-timer logic,
// adapted from TCP/SRTP-style RTO backoff to spec.md's explicit
// rtt * 1.5^n formula.
package nacksched

import "time"

// gap is one tracked missing sequence number (spec.md §3/§4.5
// "(seq, first_missed_at, nacks_sent, last_nack_at)").
type gap struct {
	seq          uint32
	firstMissed  time.Time
	lastNackAt   time.Time
	nacksSent    int
}

func (g *gap) eligible(now time.Time, rtt, reorderBuffer, backoffCap time.Duration) bool {
	threshold := rtt + rtt/10 // rtt * 1.1
	if reorderBuffer > threshold {
		threshold = reorderBuffer
	}
	if g.nacksSent == 0 {
		return now.Sub(g.firstMissed) >= threshold
	}
	return !now.Before(g.nextEligibleAt(rtt, backoffCap))
}

// nextEligibleAt computes last_nack_at + rtt*(1.5^nacks_sent), capped at
// recovery_length_max/4 (spec.md §4.5 "Emission timing").
func (g *gap) nextEligibleAt(rtt, backoffCap time.Duration) time.Time {
	factor := 1.0
	for i := 0; i < g.nacksSent; i++ {
		factor *= 1.5
	}
	backoff := time.Duration(float64(rtt) * factor)
	if backoffCap > 0 && backoff > backoffCap {
		backoff = backoffCap
	}
	return g.lastNackAt.Add(backoff)
}
