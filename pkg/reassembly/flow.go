package reassembly

import (
	"sync"
	"time"
)

// Flow is a logical stream at the receiver, identified by flow_id
// (spec.md §3 "Flow (F)"). It owns one Window and is created lazily on
// first packet.
type Flow struct {
	ID     uint32
	Window *Window

	lastActivity time.Time
	bloat        bloatController
}

// Manager holds all active flows for a receiver context and expires idle
// ones (spec.md §3 "Flow... " combined with the lifecycle table's flow_ttl
// entry among the lifecycle rules that SPEC_FULL.md §3 carries over).
type Manager struct {
	mu        sync.Mutex
	flows     map[uint32]*Flow
	flowTTL   time.Duration

	recoveryLengthMinMS int
	recoveryLengthMaxMS int
	estimatedBitrateBps int
	avgPacketSize       int
	bloatMode           BloatMode
	bloatLimit          int
	bloatHardLimit      int
}

// NewManager builds a flow manager with the receiver's sizing parameters,
// applied to every flow created lazily under it.
func NewManager(recoveryLengthMinMS, recoveryLengthMaxMS, estimatedBitrateBps, avgPacketSize int, bloatMode BloatMode, bloatLimit, bloatHardLimit int, flowTTL time.Duration) *Manager {
	return &Manager{
		flows:               make(map[uint32]*Flow),
		flowTTL:             flowTTL,
		recoveryLengthMinMS: recoveryLengthMinMS,
		recoveryLengthMaxMS: recoveryLengthMaxMS,
		estimatedBitrateBps: estimatedBitrateBps,
		avgPacketSize:       avgPacketSize,
		bloatMode:           bloatMode,
		bloatLimit:          bloatLimit,
		bloatHardLimit:      bloatHardLimit,
	}
}

// Flow returns the Flow for flowID, lazily creating it on first reference
// (spec.md §4.4 step 1 "Lookup or create Flow F by P.flow_id").
func (m *Manager) Flow(flowID uint32, now time.Time) *Flow {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.flows[flowID]
	if !ok {
		f = &Flow{
			ID:     flowID,
			Window: NewWindow(m.recoveryLengthMinMS, m.recoveryLengthMaxMS, m.estimatedBitrateBps, m.avgPacketSize),
		}
		f.bloat = newBloatController(m.bloatMode, m.bloatLimit, m.bloatHardLimit, m.recoveryLengthMinMS, m.recoveryLengthMaxMS)
		m.flows[flowID] = f
	}
	f.lastActivity = now
	return f
}

// ExpireIdle drops flows that have seen no traffic for flowTTL, returning
// their IDs for any application-level cleanup (e.g. dropping a stale
// output queue).
func (m *Manager) ExpireIdle(now time.Time) []uint32 {
	if m.flowTTL <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []uint32
	for id, f := range m.flows {
		if now.Sub(f.lastActivity) > m.flowTTL {
			expired = append(expired, id)
			delete(m.flows, id)
		}
	}
	return expired
}

// Each calls fn for every live flow (used by the reactor's periodic
// release/bloat-control tick).
func (m *Manager) Each(fn func(*Flow)) {
	m.mu.Lock()
	flows := make([]*Flow, 0, len(m.flows))
	for _, f := range m.flows {
		flows = append(flows, f)
	}
	m.mu.Unlock()
	for _, f := range flows {
		fn(f)
	}
}
