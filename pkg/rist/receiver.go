package rist

import (
	"net"
	"sync"
	"time"

	"github.com/ristgo/rist/pkg/logging"
	"github.com/ristgo/rist/pkg/nacksched"
	"github.com/ristgo/rist/pkg/outsched"
	"github.com/ristgo/rist/pkg/peer"
	"github.com/ristgo/rist/pkg/reactor"
	"github.com/ristgo/rist/pkg/reassembly"
	"github.com/ristgo/rist/pkg/wire"
)

// Receiver is a RIST receiving context (spec.md §6 "Receiver: analogous,
// plus nack_type_set, data_callback_set, data_read").
type Receiver struct {
	cfg        Config
	codec      *wire.Codec
	arena      *peer.Arena
	flows      *reassembly.Manager
	nackSched  *nacksched.Scheduler
	rct        *reactor.Reactor
	stats      *doubleBufferedStats
	log        *logging.Logger
	mtr        *metrics
	lastM      Stats

	mu                   sync.Mutex
	outFlows             map[uint32]*outsched.Flow
	deliveryMode         outsched.DeliveryMode
	dataCallback         outsched.DataCallback
	socket               *reactor.Socket
	started              bool
	flowSizingSet        bool
	nackReorderMS        int
	nackRecoveryLenMaxMS int

	onConnect    peer.ConnectCallback
	onDisconnect peer.DisconnectCallback
	oobHandler   func(payload []byte, from *net.UDPAddr)
}

// NewReceiver builds a Receiver context.
func NewReceiver(cfg Config) (*Receiver, error) {
	if cfg.FlowID == 0 {
		return nil, newError(ErrConfigInvalid, "flow_id must be nonzero")
	}
	codec := wire.NewCodec(cfg.Profile)
	codec.HeaderMode = cfg.HeaderMode

	if cfg.EncryptionPassphrase != "" {
		keySize := cfg.EncryptionKeySize
		if keySize == 0 {
			keySize = 16
		}
		if err := codec.SetEncryption(cfg.EncryptionPassphrase, keySize); err != nil {
			return nil, newError(ErrConfigInvalid, err.Error())
		}
	}

	// Defaults mirror peer.DefaultConfig until the first PeerCreate supplies
	// real recovery/buffer-bloat settings via configureFlowSizing.
	defaultRecovery := peer.DefaultConfig()

	r := &Receiver{
		cfg:   cfg,
		codec: codec,
		arena: peer.NewArena(),
		flows: reassembly.NewManager(
			defaultRecovery.RecoveryLengthMinMS, defaultRecovery.RecoveryLengthMaxMS,
			defaultRecovery.RecoveryMaxBitrate, defaultAvgPacketSize,
			bloatModeFrom(defaultRecovery.BufferBloatMode),
			defaultRecovery.BufferBloatLimit, defaultRecovery.BufferBloatHardLimit,
			5*time.Minute,
		),
		nackSched: nacksched.New(nacksched.Config{
			MaxRetries:          7,
			ReorderBufferMS:     defaultRecovery.RecoveryReorderBufferMS,
			RecoveryLengthMaxMS: defaultRecovery.RecoveryLengthMaxMS,
			Encoding:            cfg.NACKType,
		}),
		nackReorderMS:        defaultRecovery.RecoveryReorderBufferMS,
		nackRecoveryLenMaxMS: defaultRecovery.RecoveryLengthMaxMS,
		stats:                newDoubleBufferedStats(),
		outFlows:             make(map[uint32]*outsched.Flow),
		log:                  logging.New(cfg.LogLevel.toLoggingLevel()),
		mtr:                  newMetrics(cfg.MetricsRegistry, "receiver", cfg.FlowID),
	}
	r.rct = reactor.New(time.Millisecond, r.onPacket, r.onTick, nil)
	return r, nil
}

// defaultAvgPacketSize estimates a typical RIST payload size for window
// sizing (spec.md §4.4 step 2) when no better estimate is available.
const defaultAvgPacketSize = 1316

// bloatModeFrom maps the per-peer config enum onto the reassembly
// package's equivalent (same ordinals, distinct types to keep pkg/peer
// free of a pkg/reassembly import).
func bloatModeFrom(m peer.BufferBloatMode) reassembly.BloatMode {
	switch m {
	case peer.BloatOff:
		return reassembly.BloatOff
	case peer.BloatAggressive:
		return reassembly.BloatAggressive
	default:
		return reassembly.BloatNormal
	}
}

// AuthHandlerSet registers connect/disconnect callbacks.
func (r *Receiver) AuthHandlerSet(connect peer.ConnectCallback, disconnect peer.DisconnectCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = connect
	r.onDisconnect = disconnect
}

// DataCallbackSet selects Callback delivery mode and registers the
// consumer function (spec.md §6 "data_callback_set(cb, arg)").
func (r *Receiver) DataCallbackSet(cb outsched.DataCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveryMode = outsched.DeliveryCallback
	r.dataCallback = cb
}

// NACKTypeSet selects the wire encoding used for NACK payloads (spec.md
// §6 "nack_type_set(RANGE|BITMASK)").
func (r *Receiver) NACKTypeSet(enc wire.NACKEncoding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.NACKType = enc
	r.nackSched = nacksched.New(nacksched.Config{
		MaxRetries:          7,
		ReorderBufferMS:     r.nackReorderMS,
		RecoveryLengthMaxMS: r.nackRecoveryLenMaxMS,
		Encoding:            enc,
	})
}

// OOBSet registers the out-of-band data callback.
func (r *Receiver) OOBSet(cb func(payload []byte, from *net.UDPAddr)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oobHandler = cb
}

// PeerCreate registers a peer the receiver expects data from.
func (r *Receiver) PeerCreate(pc PeerConfig) (*peer.Peer, error) {
	cfg := pc.toPeerConfig(r.cfg.SessionTimeout, r.cfg.KeepaliveInterval)
	if err := cfg.Validate(); err != nil {
		return nil, newError(ErrConfigInvalid, err.Error())
	}
	r.configureFlowSizing(cfg)
	p := r.arena.Create(peer.RoleReceiver, cfg)
	p.SetAuthHandlers(r.onConnect, r.onDisconnect)
	p.Start(time.Now())
	return p, nil
}

// configureFlowSizing rebuilds the flow manager and NACK scheduler from a
// peer's recovery/buffer-bloat settings the first time a peer is created,
// replacing the placeholder defaults NewReceiver started with (spec.md
// §6 peer configuration table: recovery_length_min/max, recovery_maxbitrate,
// recovery_reorder_buffer, buffer_bloat_mode/limit/hard_limit).
func (r *Receiver) configureFlowSizing(cfg peer.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flowSizingSet {
		return
	}
	r.flowSizingSet = true

	r.flows = reassembly.NewManager(
		cfg.RecoveryLengthMinMS, cfg.RecoveryLengthMaxMS,
		cfg.RecoveryMaxBitrate, defaultAvgPacketSize,
		bloatModeFrom(cfg.BufferBloatMode),
		cfg.BufferBloatLimit, cfg.BufferBloatHardLimit,
		5*time.Minute,
	)
	r.nackReorderMS = cfg.RecoveryReorderBufferMS
	r.nackRecoveryLenMaxMS = cfg.RecoveryLengthMaxMS
	r.nackSched = nacksched.New(nacksched.Config{
		MaxRetries:          7,
		ReorderBufferMS:     cfg.RecoveryReorderBufferMS,
		RecoveryLengthMaxMS: cfg.RecoveryLengthMaxMS,
		Encoding:            r.cfg.NACKType,
	})
}

// PeerDestroy removes a peer.
func (r *Receiver) PeerDestroy(id peer.ID) { r.arena.Destroy(id) }

// Start binds the local socket and begins the reactor loop.
func (r *Receiver) Start(localAddr *net.UDPAddr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return newError(ErrFatal, "already started")
	}
	sock, err := r.rct.Bind("receiver", localAddr)
	if err != nil {
		return newError(ErrConfigInvalid, err.Error())
	}
	r.socket = sock
	r.started = true
	go r.rct.Run()
	return nil
}

// DataRead implements the Queue/NotifyFD consumer-facing read (spec.md §6
// "data_read(&block, timeout_ms)").
func (r *Receiver) DataRead(flowID uint32, timeout time.Duration) ([]byte, bool) {
	r.mu.Lock()
	f := r.outFlows[flowID]
	r.mu.Unlock()
	if f == nil {
		return nil, false
	}
	return f.DataRead(timeout)
}

// Stats returns the last-published stats snapshot.
func (r *Receiver) Stats() Stats { return r.stats.Snapshot() }

// Destroy halts the reactor.
func (r *Receiver) Destroy() {
	r.rct.Stop()
	r.log.Close()
}

func (r *Receiver) outFlowFor(flowID uint32) *outsched.Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.outFlows[flowID]
	if !ok {
		mode := r.deliveryMode
		cb := r.dataCallback
		f = outsched.NewFlow(flowID, mode, r.cfg.JitterMaxMS, cb)
		r.outFlows[flowID] = f
	}
	return f
}

func (r *Receiver) onPacket(sourceLabel string, data []byte, from net.Addr, now time.Time) {
	udpFrom, _ := from.(*net.UDPAddr)

	p, err := r.codec.Decode(data)
	if err != nil {
		if wire.IsEncryptedNoKey(err) {
			r.log.Warn("dropping encrypted packet, no key configured", "source", sourceLabel)
			r.forEachPeerAt(udpFrom, func(pr *peer.Peer) { pr.RecordDecryptFail() })
		} else {
			r.log.Debug("discarding malformed packet", "source", sourceLabel, "error", err.Error())
		}
		return
	}

	pr := r.peerForAddr(udpFrom)
	r.touchPeer(pr, udpFrom, now)

	switch p.Kind {
	case wire.KindData, wire.KindCompressed:
		r.onData(p, pr, now)
	case wire.KindOOB:
		r.mu.Lock()
		handler := r.oobHandler
		r.mu.Unlock()
		if handler != nil {
			handler(p.Payload, udpFrom)
		}
	case wire.KindKeepalive:
		if pr != nil {
			remoteTag, echoTag, ok := decodeProbeTags(p.Payload)
			if ok {
				pr.OnProbeReceived(remoteTag, echoTag, now)
			}
		}
	}
}

func (r *Receiver) onData(p *wire.Packet, pr *peer.Peer, now time.Time) {
	flow := r.flows.Flow(p.FlowID, now)
	duplicate, late, _ := flow.Window.Insert(p.Seq, p.Payload, p.Retransmission, now)

	if pr != nil {
		switch {
		case duplicate:
			pr.RecordDuplicate()
		case late:
			pr.RecordLate()
		case p.Retransmission:
			pr.RecordRecovered()
			r.nackSched.MarkFilled(p.FlowID, p.Seq)
		default:
			pr.RecordReceived()
			r.nackSched.MarkFilled(p.FlowID, p.Seq)
		}
	}

	for _, gapSeq := range flow.Window.PendingGaps() {
		r.nackSched.MarkMissing(p.FlowID, gapSeq, now)
	}
}

func (r *Receiver) onTick(now time.Time) {
	r.flows.Each(func(flow *reassembly.Flow) {
		released, lost := flow.Tick(now)
		out := r.outFlowFor(flow.ID)
		for _, payload := range released {
			out.Schedule(payload, now)
		}
		out.Drain(now)
		_ = lost // window.LostCount() already accumulates this for stats purposes.

		r.emitDueNACKs(flow.ID, now)
	})

	r.arena.Each(func(p *peer.Peer) {
		if p.KeepaliveDue(now) {
			r.sendKeepalive(p, now)
		}
		if justDied := p.Tick(now); justDied {
			r.log.Warn("peer went dead", "peer_index", p.ID.Index, "session", p.SessionID.String())
			p.InvokeDisconnect()
		}
	})

	for _, flowID := range r.flows.ExpireIdle(now) {
		r.log.Debug("flow expired", "flow_id", flowID)
	}

	agg := r.aggregateStats()
	*r.stats.WriteSide() = agg
	r.publishMetrics(agg)
	r.stats.Swap()
}

// aggregateStats sums every peer's per-peer counters (late included) plus
// every flow window's lost total into one context-level snapshot (spec.md §7
// "User-visible" statistics).
func (r *Receiver) aggregateStats() Stats {
	var agg Stats
	r.arena.Each(func(p *peer.Peer) {
		snap := p.Stats.Snapshot()
		agg.Received += snap.Received
		agg.Recovered += snap.Recovered
		agg.Retransmitted += snap.Retransmitted
		agg.Duplicates += snap.Duplicates
		agg.Late += snap.Late
		agg.DecryptFail += snap.DecryptFail
		agg.QueueOverflow += snap.QueueOverflow
	})
	r.flows.Each(func(flow *reassembly.Flow) {
		agg.Lost += flow.Window.LostCount()
	})
	return agg
}

// publishMetrics forwards the delta since the last tick to Prometheus.
func (r *Receiver) publishMetrics(agg Stats) {
	if r.mtr == nil {
		return
	}
	r.mtr.addReceived(agg.Received - r.lastM.Received)
	r.mtr.addRecovered(agg.Recovered - r.lastM.Recovered)
	r.mtr.addLost(agg.Lost - r.lastM.Lost)
	r.mtr.addRetransmitted(agg.Retransmitted - r.lastM.Retransmitted)
	r.mtr.addDuplicate(agg.Duplicates - r.lastM.Duplicates)
	r.mtr.addLate(agg.Late - r.lastM.Late)
	r.mtr.addDecryptFail(agg.DecryptFail - r.lastM.DecryptFail)
	r.mtr.addQueueOverflow(agg.QueueOverflow - r.lastM.QueueOverflow)
	r.lastM = agg
}

// sendKeepalive transmits a keep-alive to the peer, both to drive the
// handshake/liveness ladder forward on the sender side and to refresh our
// own liveness accounting (spec.md §4.2: keep-alives flow in both
// directions independent of data).
func (r *Receiver) sendKeepalive(p *peer.Peer, now time.Time) {
	payload := encodeProbeTags(p.NextProbeTag(now), p.LastRemoteProbeTag())
	out := r.codec.Encode(&wire.Packet{FlowID: r.cfg.FlowID, Kind: wire.KindKeepalive, TSNTP: ntpNow(now), Payload: payload}, nil)
	if r.socket != nil {
		r.socket.Write(out, p.Config.Address)
	}
	p.MarkKeepaliveSent(now)
}

func (r *Receiver) emitDueNACKs(flowID uint32, now time.Time) {
	candidates := r.candidatesForFlow()
	target, ok := nacksched.SelectTarget(candidates)
	if !ok {
		return
	}

	due := r.nackSched.DueNACKs(flowID, target.RTT, now)
	if len(due) == 0 {
		return
	}
	payload := r.nackSched.EncodeNACKs(due)

	kind := wire.KindNACKRange
	if r.cfg.NACKType == wire.NACKBitmask {
		kind = wire.KindNACKBitmask
	}
	out := r.codec.Encode(&wire.Packet{FlowID: flowID, Kind: kind, Payload: payload}, nil)

	r.arena.Each(func(p *peer.Peer) {
		if p.ID.Index == target.PeerIndex && r.socket != nil {
			r.socket.Write(out, p.Config.Address)
		}
	})
}

func (r *Receiver) candidatesForFlow() []nacksched.Candidate {
	var candidates []nacksched.Candidate
	r.arena.Each(func(p *peer.Peer) {
		if !p.IsActive() {
			return
		}
		candidates = append(candidates, nacksched.Candidate{
			PeerIndex: p.ID.Index,
			RTT:       p.RTTSmoothed(),
			Weight:    p.Config.Weight,
		})
	})
	return candidates
}

// touchPeer drives a peer through the handshake/auth ladder on any received
// packet before refreshing its liveness timer (spec.md §4.2 transition
// table: HANDSHAKING -(keepalive)-> AUTHENTICATED -(auth)-> ACTIVE).
func (r *Receiver) touchPeer(pr *peer.Peer, from *net.UDPAddr, now time.Time) {
	if pr == nil {
		return
	}
	switch pr.State() {
	case peer.StateHandshaking, peer.StateAuthenticating:
		pr.OnKeepaliveReceived(now, false)
		if pr.State() == peer.StateAuthenticated {
			var local *net.UDPAddr
			if r.socket != nil {
				local = r.socket.LocalAddr()
			}
			pr.Authorize(from, local)
		}
	default:
		pr.OnAnyPacketReceived(now)
	}
}

func (r *Receiver) peerForAddr(addr *net.UDPAddr) *peer.Peer {
	if addr == nil {
		return nil
	}
	var found *peer.Peer
	r.arena.Each(func(p *peer.Peer) {
		if found != nil {
			return
		}
		if p.Config.Address != nil && p.Config.Address.String() == addr.String() {
			found = p
		}
	})
	return found
}

func (r *Receiver) forEachPeerAt(addr *net.UDPAddr, fn func(*peer.Peer)) {
	if addr == nil {
		return
	}
	if p := r.peerForAddr(addr); p != nil {
		fn(p)
	}
}
