package peer

import "sync/atomic"

// Stats is the per-peer counter set folded into the context-level double
// buffered snapshot (spec.md §6 "Stats" / §9 double-buffered design).
// Every field is updated with atomic ops from the reactor thread and read
// by whichever thread swaps the snapshot, so no peer-level mutex is needed
// for these counters independent of the state-machine mutex.
type Stats struct {
	Received       uint64
	Recovered      uint64
	Lost           uint64
	Retransmitted  uint64
	Duplicates     uint64
	Late           uint64
	DecryptFail    uint64
	QueueOverflow  uint64
	RTTMS          uint64
}

func (s *Stats) addReceived(n uint64)      { atomic.AddUint64(&s.Received, n) }
func (s *Stats) addRecovered(n uint64)     { atomic.AddUint64(&s.Recovered, n) }
func (s *Stats) addLost(n uint64)          { atomic.AddUint64(&s.Lost, n) }
func (s *Stats) addRetransmitted(n uint64) { atomic.AddUint64(&s.Retransmitted, n) }
func (s *Stats) addDuplicate(n uint64)     { atomic.AddUint64(&s.Duplicates, n) }
func (s *Stats) addLate(n uint64)          { atomic.AddUint64(&s.Late, n) }
func (s *Stats) addDecryptFail(n uint64)   { atomic.AddUint64(&s.DecryptFail, n) }
func (s *Stats) addQueueOverflow(n uint64) { atomic.AddUint64(&s.QueueOverflow, n) }

// Snapshot returns a copy of the current counters, safe to hand to a
// caller across the double-buffer boundary.
func (s *Stats) Snapshot() Stats {
	return Stats{
		Received:      atomic.LoadUint64(&s.Received),
		Recovered:     atomic.LoadUint64(&s.Recovered),
		Lost:          atomic.LoadUint64(&s.Lost),
		Retransmitted: atomic.LoadUint64(&s.Retransmitted),
		Duplicates:    atomic.LoadUint64(&s.Duplicates),
		Late:          atomic.LoadUint64(&s.Late),
		DecryptFail:   atomic.LoadUint64(&s.DecryptFail),
		QueueOverflow: atomic.LoadUint64(&s.QueueOverflow),
		RTTMS:         atomic.LoadUint64(&s.RTTMS),
	}
}

// RecordReceived increments the peer's received counter and mirrors the
// current smoothed RTT into the stats snapshot (spec.md §6 quality stat).
func (p *Peer) RecordReceived() {
	p.Stats.addReceived(1)
	atomic.StoreUint64(&p.Stats.RTTMS, uint64(p.RTTSmoothed().Milliseconds()))
}

// RecordRecovered marks one packet as recovered via retransmission.
func (p *Peer) RecordRecovered() { p.Stats.addRecovered(1) }

// RecordLost marks one packet as permanently lost (window overrun with no
// successful retransmit, spec.md §4.4).
func (p *Peer) RecordLost() { p.Stats.addLost(1) }

// RecordRetransmitted marks one outbound retransmit sent to this peer.
func (p *Peer) RecordRetransmitted() { p.Stats.addRetransmitted(1) }

// RecordDuplicate marks one duplicate delivery suppressed by the
// reassembly window.
func (p *Peer) RecordDuplicate() { p.Stats.addDuplicate(1) }

// RecordLate marks one packet that arrived after its release deadline.
func (p *Peer) RecordLate() { p.Stats.addLate(1) }

// RecordDecryptFail marks one packet dropped for lacking a decryption key
// or failing authentication (spec.md §4.1 encrypted-no-key).
func (p *Peer) RecordDecryptFail() { p.Stats.addDecryptFail(1) }

// RecordQueueOverflow marks one packet dropped by a full output ring.
func (p *Peer) RecordQueueOverflow() { p.Stats.addQueueOverflow(1) }
