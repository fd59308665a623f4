package nacksched

import (
	"sync"
	"time"

	"github.com/ristgo/rist/pkg/wire"
)

// Config holds the scheduler's tunables, sourced from the owning
// receiver's peer/recovery configuration (spec.md §4.5, §6).
type Config struct {
	MaxRetries          int
	ReorderBufferMS     int
	RecoveryLengthMaxMS int
	Encoding            wire.NACKEncoding
}

// Scheduler tracks missing-sequence gaps across flows and decides when to
// emit NACKs for them (spec.md §4.5, C5).
type Scheduler struct {
	mu    sync.Mutex
	cfg   Config
	flows map[uint32]map[uint32]*gap // flowID -> seq -> gap
}

// New builds a Scheduler from config.
func New(cfg Config) *Scheduler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 7
	}
	return &Scheduler{
		cfg:   cfg,
		flows: make(map[uint32]map[uint32]*gap),
	}
}

// MarkMissing registers seq as missing for flowID if not already tracked
// (called whenever the reassembler identifies a gap in front of tail_seq).
func (s *Scheduler) MarkMissing(flowID, seq uint32, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gaps, ok := s.flows[flowID]
	if !ok {
		gaps = make(map[uint32]*gap)
		s.flows[flowID] = gaps
	}
	if _, exists := gaps[seq]; exists {
		return
	}
	gaps[seq] = &gap{seq: seq, firstMissed: now}
}

// MarkFilled cancels tracking for seq once it arrives, whether via
// retransmission or in-order delivery (spec.md §4.4 step 5 "Notify C5 of
// the new arrival for NACK cancellation").
func (s *Scheduler) MarkFilled(flowID, seq uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gaps, ok := s.flows[flowID]; ok {
		delete(gaps, seq)
	}
}

// DueNACKs returns the sequence numbers for flowID that are eligible to be
// (re-)NACKed right now, given the current smoothed RTT to the target
// peer. Gaps that have exhausted max_retries are dropped from tracking
// rather than returned (spec.md §4.5 "Drop the gap once nacks_sent >=
// max_retries").
func (s *Scheduler) DueNACKs(flowID uint32, rtt time.Duration, now time.Time) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	gaps, ok := s.flows[flowID]
	if !ok {
		return nil
	}

	reorderBuffer := time.Duration(s.cfg.ReorderBufferMS) * time.Millisecond
	backoffCap := time.Duration(s.cfg.RecoveryLengthMaxMS/4) * time.Millisecond

	var due []uint32
	for seq, g := range gaps {
		if g.nacksSent >= s.cfg.MaxRetries {
			delete(gaps, seq)
			continue
		}
		if g.eligible(now, rtt, reorderBuffer, backoffCap) {
			g.nacksSent++
			g.lastNackAt = now
			due = append(due, seq)
		}
	}
	return due
}

// PendingCount reports how many gaps are currently tracked for flowID
// (diagnostic/stats use).
func (s *Scheduler) PendingCount(flowID uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flows[flowID])
}

// EncodeNACKs serializes due sequence numbers per the scheduler's
// configured wire encoding (spec.md §4.5 "Encoding").
func (s *Scheduler) EncodeNACKs(seqs []uint32) []byte {
	if len(seqs) == 0 {
		return nil
	}
	switch s.cfg.Encoding {
	case wire.NACKBitmask:
		return wire.EncodeNACKBitmask(toBitmaskEntries(seqs))
	default:
		return wire.EncodeNACKRange(toRangeEntries(seqs))
	}
}

// toRangeEntries coalesces a sorted-ish seq list into contiguous
// (start, count) runs.
func toRangeEntries(seqs []uint32) []wire.RangeEntry {
	sorted := sortedCopy(seqs)
	var entries []wire.RangeEntry
	for i := 0; i < len(sorted); {
		start := sorted[i]
		count := uint32(1)
		j := i + 1
		for j < len(sorted) && sorted[j] == start+count {
			count++
			j++
		}
		entries = append(entries, wire.RangeEntry{Start: start, Count: count})
		i = j
	}
	return entries
}

// toBitmaskEntries groups a seq list into (base, 16-bit mask) entries.
func toBitmaskEntries(seqs []uint32) []wire.BitmaskEntry {
	sorted := sortedCopy(seqs)
	var entries []wire.BitmaskEntry
	for i := 0; i < len(sorted); {
		base := sorted[i]
		var mask uint16
		j := i + 1
		for j < len(sorted) && sorted[j] <= base+16 {
			mask |= 1 << uint(sorted[j]-base-1)
			j++
		}
		entries = append(entries, wire.BitmaskEntry{Base: base, Mask: mask})
		i = j
	}
	return entries
}

func sortedCopy(seqs []uint32) []uint32 {
	out := make([]uint32, len(seqs))
	copy(out, seqs)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && wire.SeqLess(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
