package rist

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/ristgo/rist/internal/cryptoutil"
	"github.com/ristgo/rist/pkg/logging"
	"github.com/ristgo/rist/pkg/peer"
	"github.com/ristgo/rist/pkg/reactor"
	"github.com/ristgo/rist/pkg/sendcache"
	"github.com/ristgo/rist/pkg/wire"
)

// Sender is a RIST sending context (spec.md §6 "Sender:" API list).
type Sender struct {
	cfg   Config
	codec *wire.Codec
	arena *peer.Arena
	cache *sendcache.Cache
	rct   *reactor.Reactor
	stats *doubleBufferedStats
	log   *logging.Logger
	mtr   *metrics
	lastM Stats

	mu       sync.Mutex
	nextSeq  uint32
	socket   *reactor.Socket
	started  bool

	onConnect    peer.ConnectCallback
	onDisconnect peer.DisconnectCallback
	oobHandler   func(payload []byte, from *net.UDPAddr)
}

type dataWriteCmd struct{ payload []byte }
type oobWriteCmd struct {
	payload []byte
	to      *net.UDPAddr
}

// NewSender builds a Sender context (spec.md §6 "create(profile, flow_id,
// log_level)").
func NewSender(cfg Config) (*Sender, error) {
	if cfg.FlowID == 0 {
		return nil, newError(ErrConfigInvalid, "flow_id must be nonzero")
	}
	codec := wire.NewCodec(cfg.Profile)
	codec.HeaderMode = cfg.HeaderMode
	codec.SetCompressionLevel(cfg.CompressionLevel)

	if cfg.EncryptionPassphrase != "" {
		keySize := cfg.EncryptionKeySize
		if keySize == 0 {
			keySize = cryptoutil.KeySize128
		}
		if err := codec.SetEncryption(cfg.EncryptionPassphrase, keySize); err != nil {
			return nil, newError(ErrConfigInvalid, err.Error())
		}
	}

	historyCapacity := 4096
	maxAge := 500 * time.Millisecond
	if cfg.SessionTimeout > 0 {
		maxAge = cfg.SessionTimeout
	}

	s := &Sender{
		cfg:   cfg,
		codec: codec,
		arena: peer.NewArena(),
		cache: sendcache.New(historyCapacity, maxAge, 7, 0),
		stats: newDoubleBufferedStats(),
		log:   logging.New(cfg.LogLevel.toLoggingLevel()),
		mtr:   newMetrics(cfg.MetricsRegistry, "sender", cfg.FlowID),
	}
	s.rct = reactor.New(time.Millisecond, s.onPacket, s.onTick, s.onWrite)
	return s, nil
}

// AuthHandlerSet registers connect/disconnect callbacks applied to every
// peer created afterward (spec.md §6 "auth_handler_set").
func (s *Sender) AuthHandlerSet(connect peer.ConnectCallback, disconnect peer.DisconnectCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = connect
	s.onDisconnect = disconnect
}

// OOBSet registers the out-of-band data callback (spec.md §6 "oob_set").
func (s *Sender) OOBSet(cb func(payload []byte, from *net.UDPAddr)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oobHandler = cb
}

// PeerCreate adds a peer and starts its handshake (spec.md §6
// "peer_create(config) → peer").
func (s *Sender) PeerCreate(pc PeerConfig) (*peer.Peer, error) {
	cfg := pc.toPeerConfig(s.cfg.SessionTimeout, s.cfg.KeepaliveInterval)
	if err := cfg.Validate(); err != nil {
		return nil, newError(ErrConfigInvalid, err.Error())
	}
	if cfg.RecoveryMaxBitrateReturn > 0 {
		s.cache.SetReturnBitrate(cfg.RecoveryMaxBitrateReturn)
	}
	p := s.arena.Create(peer.RoleSender, cfg)
	p.SetAuthHandlers(s.onConnect, s.onDisconnect)
	p.Start(time.Now())
	return p, nil
}

// PeerDestroy drops a peer's arena slot, so its ID no longer resolves
// (spec.md §6 "peer_destroy(peer)"). It does not change the Peer's state,
// and there is no per-peer send queue to drain.
func (s *Sender) PeerDestroy(id peer.ID) {
	s.arena.Destroy(id)
}

// FlowIDGet returns the context's flow_id (spec.md §6 "flow_id_get()").
func (s *Sender) FlowIDGet() uint32 { return s.cfg.FlowID }

// Start binds the local socket and begins the reactor loop (spec.md §6
// "start()").
func (s *Sender) Start(localAddr *net.UDPAddr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return newError(ErrFatal, "already started")
	}
	sock, err := s.rct.Bind("sender", localAddr)
	if err != nil {
		return newError(ErrConfigInvalid, err.Error())
	}
	s.socket = sock
	s.started = true
	go s.rct.Run()
	return nil
}

// DataWrite submits a payload for transmission to every ACTIVE peer
// (spec.md §6 "data_write(block)"). It never blocks: the payload is
// handed to the reactor's SPSC ring and the call returns immediately.
func (s *Sender) DataWrite(payload []byte) error {
	if !s.rct.WriteRing.TryPush(dataWriteCmd{payload: payload}) {
		return newError(ErrQueueFull, "data_write: application-to-reactor ring full")
	}
	s.rct.Wake()
	return nil
}

// OOBWrite submits an out-of-band block to a specific peer address
// (spec.md §6 "oob_write(block)").
func (s *Sender) OOBWrite(payload []byte, to *net.UDPAddr) error {
	if !s.rct.WriteRing.TryPush(oobWriteCmd{payload: payload, to: to}) {
		return newError(ErrQueueFull, "oob_write: application-to-reactor ring full")
	}
	s.rct.Wake()
	return nil
}

// Stats returns the last-published stats snapshot (spec.md §5 "Shared
// resources": double-buffered stats).
func (s *Sender) Stats() Stats { return s.stats.Snapshot() }

// Destroy stops the reactor (closing its sockets and ending Run's loop)
// and closes the logger (spec.md §5 "Cancellation"). It returns without
// waiting for the reactor goroutine to exit.
func (s *Sender) Destroy() {
	s.rct.Stop()
	s.log.Close()
}

// onPacket handles inbound control traffic: NACK requests trigger
// retransmission from the send cache (spec.md data flow: "C5 observes and
// emits NACKs back" reaching the sender here).
func (s *Sender) onPacket(sourceLabel string, data []byte, from net.Addr, now time.Time) {
	udpFrom, _ := from.(*net.UDPAddr)

	p, err := s.codec.Decode(data)
	if err != nil {
		s.log.Debug("discarding malformed packet", "source", sourceLabel, "error", err.Error())
		return // spec.md §7: data-path corruption never propagates.
	}

	pr := s.peerForAddr(udpFrom)
	s.touchPeer(pr, udpFrom, now)

	switch p.Kind {
	case wire.KindNACKRange:
		entries, err := wire.DecodeNACKRange(p.Payload)
		if err != nil {
			return
		}
		for _, e := range entries {
			for _, seq := range e.Expand() {
				s.retransmit(seq, pr, udpFrom, now)
			}
		}
	case wire.KindNACKBitmask:
		entries, err := wire.DecodeNACKBitmask(p.Payload)
		if err != nil {
			return
		}
		for _, e := range entries {
			for _, seq := range e.Expand() {
				s.retransmit(seq, pr, udpFrom, now)
			}
		}
	case wire.KindOOB:
		s.mu.Lock()
		handler := s.oobHandler
		s.mu.Unlock()
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

// decodeProbeTags parses the 8-byte RTT probe tag/echo pair a keep-alive
// payload carries (spec.md §4.2 RTT probing, see pkg/peer.rtt.go).
func decodeProbeTags(payload []byte) (remoteTag, echoTag uint32, ok bool) {
	if len(payload) < 8 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint32(payload[0:4]), binary.BigEndian.Uint32(payload[4:8]), true
}

func (s *Sender) retransmit(seq uint32, pr *peer.Peer, to *net.UDPAddr, now time.Time) {
	var peerIndex uint32
	if pr != nil {
		if !pr.CanRetransmit() {
			return
		}
		peerIndex = pr.ID.Index
	}
	payload, ok := s.cache.Get(seq, peerIndex, now)
	if !ok {
		return
	}
	s.socket.Write(s.codec.MarkRetransmission(payload), to)
	if pr != nil {
		pr.RecordRetransmitted()
	}
}

// touchPeer drives a peer through the handshake/auth ladder on any received
// packet before refreshing its liveness timer (spec.md §4.2 transition
// table: HANDSHAKING -(keepalive)-> AUTHENTICATED -(auth)-> ACTIVE).
func (s *Sender) touchPeer(pr *peer.Peer, from *net.UDPAddr, now time.Time) {
	if pr == nil {
		return
	}
	switch pr.State() {
	case peer.StateHandshaking, peer.StateAuthenticating:
		pr.OnKeepaliveReceived(now, false)
		if pr.State() == peer.StateAuthenticated {
			var local *net.UDPAddr
			if s.socket != nil {
				local = s.socket.LocalAddr()
			}
			pr.Authorize(from, local)
		}
	default:
		pr.OnAnyPacketReceived(now)
	}
}

func (s *Sender) peerForAddr(addr *net.UDPAddr) *peer.Peer {
	if addr == nil {
		return nil
	}
	var found *peer.Peer
	s.arena.Each(func(p *peer.Peer) {
		if found != nil {
			return
		}
		if p.Config.Address != nil && p.Config.Address.String() == addr.String() {
			found = p
		}
	})
	return found
}

func (s *Sender) onTick(now time.Time) {
	s.arena.Each(func(p *peer.Peer) {
		if p.KeepaliveDue(now) {
			s.sendKeepalive(p, now)
		}
		if justDied := p.Tick(now); justDied {
			s.log.Warn("peer went dead", "peer_index", p.ID.Index, "session", p.SessionID.String())
			p.InvokeDisconnect()
		}
	})

	agg := s.aggregateStats()
	*s.stats.WriteSide() = agg
	s.publishMetrics(agg)
	s.stats.Swap()
}

// aggregateStats sums every peer's per-peer counters into one
// context-level snapshot (spec.md §7 "User-visible" statistics).
func (s *Sender) aggregateStats() Stats {
	var agg Stats
	s.arena.Each(func(p *peer.Peer) {
		snap := p.Stats.Snapshot()
		agg.Received += snap.Received
		agg.Recovered += snap.Recovered
		agg.Lost += snap.Lost
		agg.Retransmitted += snap.Retransmitted
		agg.Duplicates += snap.Duplicates
		agg.Late += snap.Late
		agg.DecryptFail += snap.DecryptFail
		agg.QueueOverflow += snap.QueueOverflow
	})
	return agg
}

// publishMetrics forwards the delta since the last tick to Prometheus;
// counters only move forward, so only increases are meaningful.
func (s *Sender) publishMetrics(agg Stats) {
	if s.mtr == nil {
		return
	}
	s.mtr.addReceived(agg.Received - s.lastM.Received)
	s.mtr.addRecovered(agg.Recovered - s.lastM.Recovered)
	s.mtr.addLost(agg.Lost - s.lastM.Lost)
	s.mtr.addRetransmitted(agg.Retransmitted - s.lastM.Retransmitted)
	s.mtr.addDuplicate(agg.Duplicates - s.lastM.Duplicates)
	s.mtr.addLate(agg.Late - s.lastM.Late)
	s.mtr.addDecryptFail(agg.DecryptFail - s.lastM.DecryptFail)
	s.mtr.addQueueOverflow(agg.QueueOverflow - s.lastM.QueueOverflow)
	s.lastM = agg
}

func (s *Sender) sendKeepalive(p *peer.Peer, now time.Time) {
	payload := encodeProbeTags(p.NextProbeTag(now), p.LastRemoteProbeTag())
	out := s.codec.Encode(&wire.Packet{FlowID: s.cfg.FlowID, Kind: wire.KindKeepalive, TSNTP: ntpNow(now), Payload: payload}, nil)
	if s.socket != nil {
		s.socket.Write(out, p.Config.Address)
	}
	p.MarkKeepaliveSent(now)
}

// encodeProbeTags packs a keep-alive's outbound RTT probe tag and the echo
// of the last tag received from the peer into an 8-byte payload.
func encodeProbeTags(tag, echo uint32) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], tag)
	binary.BigEndian.PutUint32(b[4:8], echo)
	return b
}

func (s *Sender) onWrite(v interface{}, now time.Time) {
	switch cmd := v.(type) {
	case dataWriteCmd:
		s.emitData(cmd.payload, now)
	case oobWriteCmd:
		out := s.codec.Encode(&wire.Packet{FlowID: s.cfg.FlowID, Kind: wire.KindOOB, Payload: cmd.payload}, nil)
		if s.socket != nil {
			s.socket.Write(out, cmd.to)
		}
	}
}

func (s *Sender) emitData(payload []byte, now time.Time) {
	s.mu.Lock()
	seq := s.nextSeq
	s.nextSeq++
	s.mu.Unlock()

	pkt := &wire.Packet{
		Seq:     seq,
		FlowID:  s.cfg.FlowID,
		TSNTP:   ntpNow(now),
		Kind:    wire.KindData,
		Payload: payload,
	}
	out := s.codec.Encode(pkt, nil)
	s.cache.Put(seq, payload, out, now)

	s.arena.Each(func(p *peer.Peer) {
		if !p.IsActive() || s.socket == nil {
			return
		}
		s.socket.Write(out, p.Config.Address)
	})
}

// ntpNow converts a wall-clock time to 64-bit NTP short format (upper 32
// bits seconds since the NTP epoch, lower 32 bits fraction).
func ntpNow(t time.Time) uint64 {
	const ntpEpochOffset = 2208988800 // seconds between 1900-01-01 and 1970-01-01
	sec := uint64(t.Unix()+ntpEpochOffset)
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	return sec<<32 | frac
}
