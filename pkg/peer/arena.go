package peer

import "sync"

// Arena is a generational handle table for Peers (spec.md §9 "generational
// handles (index+generation) to prevent use-after-destroy"). Destroying a
// peer bumps the slot's generation so any ID captured before destruction
// fails Lookup rather than resolving to a reused slot.
//
// Grounded on the teacher's source/server/server.go player-slot table
// (fixed array of *Player indexed by client id), generalized with a
// generation counter per slot since RIST peers can be created and
// destroyed repeatedly over the life of a context, unlike SA-MP's
// fixed-lifetime player slots.
type Arena struct {
	mu    sync.RWMutex
	slots []arenaSlot
	free  []uint32
}

type arenaSlot struct {
	peer       *Peer
	generation uint32
}

// NewArena builds an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Create allocates a new peer in a free or new slot and returns it; its
// generational handle is the returned Peer's ID field.
func (a *Arena) Create(role Role, cfg Config) *Peer {
	a.mu.Lock()
	defer a.mu.Unlock()

	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		index = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot{})
	}

	gen := a.slots[index].generation
	id := ID{Index: index, Generation: gen}
	p := New(id, role, cfg)
	a.slots[index].peer = p
	return p
}

// Lookup resolves an ID to its Peer, returning ok=false if the slot has
// since been destroyed and reused (stale handle, spec.md §9).
func (a *Arena) Lookup(id ID) (*Peer, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if int(id.Index) >= len(a.slots) {
		return nil, false
	}
	slot := a.slots[id.Index]
	if slot.peer == nil || slot.generation != id.Generation {
		return nil, false
	}
	return slot.peer, true
}

// Destroy removes a peer from the arena and bumps its slot's generation,
// invalidating any outstanding ID for it.
func (a *Arena) Destroy(id ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(id.Index) >= len(a.slots) {
		return
	}
	slot := &a.slots[id.Index]
	if slot.peer == nil || slot.generation != id.Generation {
		return
	}
	slot.peer = nil
	slot.generation++
	a.free = append(a.free, id.Index)
}

// Each calls fn for every live peer in the arena (used by the reactor's
// per-tick liveness sweep and keep-alive scheduling).
func (a *Arena) Each(fn func(*Peer)) {
	a.mu.RLock()
	peers := make([]*Peer, 0, len(a.slots))
	for _, s := range a.slots {
		if s.peer != nil {
			peers = append(peers, s.peer)
		}
	}
	a.mu.RUnlock()
	for _, p := range peers {
		fn(p)
	}
}

// Len reports the number of live peers.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots) - len(a.free)
}
