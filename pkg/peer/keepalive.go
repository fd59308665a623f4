package peer

import "time"

// KeepaliveDue reports whether it is time to send another keep-alive to
// this peer, per its configured KeepaliveInterval (spec.md §4.2
// "keep-alive... drives liveness independent of data flow").
func (p *Peer) KeepaliveDue(now time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state == StateIdle || p.state == StateDead {
		return false
	}
	return now.Sub(p.lastKeepaliveTx) >= p.Config.KeepaliveInterval
}

// MarkKeepaliveSent records that a keep-alive was just transmitted.
func (p *Peer) MarkKeepaliveSent(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastKeepaliveTx = now
}

// LastSeen returns the last time any packet (data or control) was
// received from this peer.
func (p *Peer) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastKeepaliveRx
}
