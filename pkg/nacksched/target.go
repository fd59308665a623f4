package nacksched

import "time"

// Candidate is the minimal per-peer information the scheduler needs to
// pick a NACK target, decoupled from pkg/peer to avoid an import cycle
// (nacksched is a leaf of C2 in the dependency order, spec.md §2).
type Candidate struct {
	PeerIndex uint32
	RTT       time.Duration
	Weight    int
}

// SelectTarget picks the candidate with the smallest smoothed RTT,
// excluding any with weight 0 (spec.md §4.5 "Multi-peer": "NACK is sent
// only to the peer with smallest smoothed RTT for recoverability; peers
// with weight 0 are excluded"). ok is false if every candidate is
// excluded.
func SelectTarget(candidates []Candidate) (best Candidate, ok bool) {
	for _, c := range candidates {
		if c.Weight == 0 {
			continue
		}
		if !ok || c.RTT < best.RTT {
			best = c
			ok = true
		}
	}
	return best, ok
}
