package peer

import (
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
)

// BufferBloatMode selects the receiver's reactive occupancy policy
// (spec.md §4.4, §6).
type BufferBloatMode int

const (
	BloatOff BufferBloatMode = iota
	BloatNormal
	BloatAggressive
)

// Config holds the per-peer configuration table from spec.md §6.
type Config struct {
	Address                  *net.UDPAddr
	GREDstPort               int
	RecoveryMode             RecoveryMode
	RecoveryMaxBitrate       int // bps
	RecoveryMaxBitrateReturn int // bps
	RecoveryLengthMinMS      int
	RecoveryLengthMaxMS      int
	RecoveryReorderBufferMS  int
	RecoveryRTTMinMS         int
	RecoveryRTTMaxMS         int
	Weight                   int
	BufferBloatMode          BufferBloatMode
	BufferBloatLimit         int
	BufferBloatHardLimit     int

	SessionTimeout    time.Duration
	KeepaliveInterval time.Duration
}

// RecoveryMode selects how the sender history cache is sized (spec.md §6).
type RecoveryMode int

const (
	RecoveryUnconfigured RecoveryMode = iota
	RecoveryDisabled
	RecoveryBytes
	RecoveryTime
)

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		RecoveryLengthMinMS:     50,
		RecoveryLengthMaxMS:     500,
		RecoveryReorderBufferMS: 25,
		RecoveryRTTMinMS:        3,
		RecoveryRTTMaxMS:        500,
		Weight:                  5,
		BufferBloatMode:         BloatNormal,
		BufferBloatLimit:        7500,
		BufferBloatHardLimit:    15000,
		SessionTimeout:          6000 * time.Millisecond,
		KeepaliveInterval:       1000 * time.Millisecond,
	}
}

// Validate rejects nonsensical configuration at setup time (spec.md §7,
// ConfigInvalid). Errors here are the only ones allowed to surface directly
// to a caller as a negative/failed return.
func (c *Config) Validate() error {
	if c.Address == nil {
		return &ConfigError{Field: "Address", Msg: "required"}
	}
	if c.RecoveryLengthMinMS > c.RecoveryLengthMaxMS {
		return &ConfigError{Field: "RecoveryLength", Msg: "min must be <= max"}
	}
	if c.RecoveryRTTMinMS > c.RecoveryRTTMaxMS {
		return &ConfigError{Field: "RecoveryRTT", Msg: "min must be <= max"}
	}
	if c.Weight < 0 {
		return &ConfigError{Field: "Weight", Msg: "must be >= 0"}
	}
	return nil
}

// ConfigError reports an invalid peer configuration value.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string { return "peer: invalid config " + e.Field + ": " + e.Msg }

// Peer is one endpoint-to-endpoint binding (spec.md §3 "Peer (Pr)").
type Peer struct {
	ID        ID
	Role      Role
	Config    Config
	SessionID xid.ID // stable correlation id for logs across the peer's lifetime

	mu                 sync.RWMutex
	state              State
	rttSmoothedMS      float64
	rttVarianceMS      float64
	lastKeepaliveRx    time.Time
	lastKeepaliveTx    time.Time
	sessionDeadline    time.Time
	dyingSince         time.Time
	authCtx            *authContext
	onConnect          ConnectCallback
	onDisconnect       DisconnectCallback
	disconnectCalled   bool
	probeTagCounter    uint32
	pendingProbeTag    uint32
	pendingProbeSentAt time.Time
	remoteProbeTag     uint32

	Stats Stats
}

// ID is a generational handle to a Peer inside an Arena (spec.md §9).
type ID struct {
	Index      uint32
	Generation uint32
}

// New builds an IDLE peer from validated config.
func New(id ID, role Role, cfg Config) *Peer {
	return &Peer{
		ID:        id,
		Role:      role,
		Config:    cfg,
		SessionID: xid.New(),
		state:     StateIdle,
	}
}

// State returns the peer's current state, safe for concurrent reads.
func (p *Peer) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Peer) setState(s State) {
	p.state = s
}

// SetAuthHandlers registers application auth callbacks (spec.md §4.2,
// §6 auth_handler_set).
func (p *Peer) SetAuthHandlers(connect ConnectCallback, disconnect DisconnectCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnect = connect
	p.onDisconnect = disconnect
}

// ConnectCallback authorizes a connecting peer; returning false denies it
// (spec.md §4.2 "Authentication").
type ConnectCallback func(remote, local *net.UDPAddr) bool

// DisconnectCallback notifies the application that a peer has gone DEAD.
type DisconnectCallback func(id ID)

// Start transitions IDLE -> HANDSHAKING (spec.md §4.2 transition table).
func (p *Peer) Start(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return
	}
	p.setState(StateHandshaking)
	p.lastKeepaliveTx = now
	p.sessionDeadline = now.Add(p.Config.SessionTimeout)
}

// OnKeepaliveReceived resets the liveness timer and drives the
// HANDSHAKING -> AUTHENTICATED/AUTHENTICATING and DYING -> ACTIVE
// transitions (spec.md §4.2, §3 "Keep-alive timer is reset on any packet").
func (p *Peer) OnKeepaliveReceived(now time.Time, requiresAuth bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAnyPacketReceivedLocked(now)

	switch p.state {
	case StateHandshaking:
		if requiresAuth {
			p.setState(StateAuthenticating)
		} else {
			p.setState(StateAuthenticated)
		}
	case StateDying:
		p.setState(StateActive)
	}
}

// OnAnyPacketReceived resets the keep-alive/liveness timer for any traffic
// from the peer, data or control (spec.md §3 invariant).
func (p *Peer) OnAnyPacketReceived(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAnyPacketReceivedLocked(now)
	if p.state == StateDying {
		p.setState(StateActive)
	}
}

func (p *Peer) onAnyPacketReceivedLocked(now time.Time) {
	p.lastKeepaliveRx = now
	p.sessionDeadline = now.Add(p.Config.SessionTimeout)
}

// Authorize runs the registered connect callback and transitions to ACTIVE
// or DEAD accordingly (spec.md §4.2 "*, auth success -> ACTIVE", "auth
// denied -> DEAD").
func (p *Peer) Authorize(remote, local *net.UDPAddr) bool {
	p.mu.Lock()
	cb := p.onConnect
	p.mu.Unlock()

	allowed := true
	if cb != nil {
		allowed = cb(remote, local)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if allowed {
		p.setState(StateActive)
	} else {
		p.setState(StateDead)
	}
	return allowed
}

// Tick advances the liveness ladder: ACTIVE -> DYING after SessionTimeout
// with no rx, DYING -> DEAD once 2x SessionTimeout has passed with no rx
// (spec.md §4.2, §5); a single call can take both steps.
// It returns true exactly once, the turn DEAD is first reached, so the
// caller can invoke on_disconnect exactly once (spec.md §8 property 6).
func (p *Peer) Tick(now time.Time) (justDied bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateActive && now.After(p.sessionDeadline) {
		p.setState(StateDying)
		p.dyingSince = now
	}
	// sessionDeadline is last rx + SessionTimeout, so one more timeout on
	// top of it is 2x SessionTimeout of silence.
	if p.state == StateDying && !now.Before(p.sessionDeadline.Add(p.Config.SessionTimeout)) {
		p.setState(StateDead)
		if !p.disconnectCalled {
			p.disconnectCalled = true
			justDied = true
		}
	}
	return justDied
}

// InvokeDisconnect calls the registered disconnect callback, if any. The
// caller must only do this after Tick reports justDied=true, to guarantee
// "invokes on_disconnect exactly once" (spec.md §8).
func (p *Peer) InvokeDisconnect() {
	p.mu.RLock()
	cb := p.onDisconnect
	p.mu.RUnlock()
	if cb != nil {
		cb(p.ID)
	}
}

// IsActive reports whether the peer currently accepts new outbound data
// (spec.md §4.2: DYING "stop accepting new data", retransmits continue).
func (p *Peer) IsActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == StateActive
}

// CanRetransmit reports whether retransmits should still flow to this peer
// (true for ACTIVE and DYING, false once DEAD).
func (p *Peer) CanRetransmit() bool {
	s := p.State()
	return s == StateActive || s == StateDying
}
