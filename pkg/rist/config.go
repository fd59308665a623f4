package rist

import (
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ristgo/rist/internal/cryptoutil"
	"github.com/ristgo/rist/pkg/logging"
	"github.com/ristgo/rist/pkg/peer"
	"github.com/ristgo/rist/pkg/wire"
)

// Config configures a Context at creation time (spec.md §6 "create(profile,
// flow_id, log_level)" plus the setters that follow it).
type Config struct {
	Profile    wire.Profile
	FlowID     uint32
	LogLevel   LogLevel
	CNAME      string
	HeaderMode wire.HeaderMode // advanced profile only

	SessionTimeout    time.Duration
	KeepaliveInterval time.Duration
	JitterMaxMS       int
	CompressionLevel  int // 0-10, spec.md compression_lz4_set

	NACKType wire.NACKEncoding // receiver only

	EncryptionPassphrase string
	EncryptionKeySize    cryptoutil.KeySize

	// MetricsRegistry, if set, exposes this context's counters as
	// Prometheus collectors (SPEC_FULL.md domain stack). Left nil, metrics
	// collection is skipped entirely; Stats() is unaffected either way.
	MetricsRegistry *prometheus.Registry
}

// DefaultConfig returns spec.md §5's documented context-wide defaults.
func DefaultConfig() Config {
	return Config{
		Profile:           wire.ProfileMain,
		SessionTimeout:    6000 * time.Millisecond,
		KeepaliveInterval: 1000 * time.Millisecond,
		JitterMaxMS:       5,
		NACKType:          wire.NACKRange,
	}
}

// PeerConfig mirrors spec.md §6's "Peer configuration options" table onto
// pkg/peer.Config, adding the transport address.
type PeerConfig struct {
	Address *net.UDPAddr
	GREDstPort int

	RecoveryMode             peer.RecoveryMode
	RecoveryMaxBitrate       int
	RecoveryMaxBitrateReturn int
	RecoveryLengthMinMS      int
	RecoveryLengthMaxMS      int
	RecoveryReorderBufferMS  int
	RecoveryRTTMinMS         int
	RecoveryRTTMaxMS         int
	Weight                   int
	BufferBloatMode          peer.BufferBloatMode
	BufferBloatLimit         int
	BufferBloatHardLimit     int
}

func (c PeerConfig) toPeerConfig(sessionTimeout, keepalive time.Duration) peer.Config {
	cfg := peer.DefaultConfig()
	cfg.Address = c.Address
	cfg.GREDstPort = c.GREDstPort
	cfg.RecoveryMode = c.RecoveryMode
	cfg.RecoveryMaxBitrate = c.RecoveryMaxBitrate
	cfg.RecoveryMaxBitrateReturn = c.RecoveryMaxBitrateReturn
	if c.RecoveryLengthMinMS > 0 {
		cfg.RecoveryLengthMinMS = c.RecoveryLengthMinMS
	}
	if c.RecoveryLengthMaxMS > 0 {
		cfg.RecoveryLengthMaxMS = c.RecoveryLengthMaxMS
	}
	if c.RecoveryReorderBufferMS > 0 {
		cfg.RecoveryReorderBufferMS = c.RecoveryReorderBufferMS
	}
	if c.RecoveryRTTMinMS > 0 {
		cfg.RecoveryRTTMinMS = c.RecoveryRTTMinMS
	}
	if c.RecoveryRTTMaxMS > 0 {
		cfg.RecoveryRTTMaxMS = c.RecoveryRTTMaxMS
	}
	cfg.Weight = c.Weight
	cfg.BufferBloatMode = c.BufferBloatMode
	if c.BufferBloatLimit > 0 {
		cfg.BufferBloatLimit = c.BufferBloatLimit
	}
	if c.BufferBloatHardLimit > 0 {
		cfg.BufferBloatHardLimit = c.BufferBloatHardLimit
	}
	cfg.SessionTimeout = sessionTimeout
	cfg.KeepaliveInterval = keepalive
	return cfg
}

// LogLevel mirrors SPEC_FULL.md's ambient logging section severities.
type LogLevel int

const (
	LogError LogLevel = iota
	LogWarn
	LogInfo
	LogDebug
)

func (l LogLevel) toLoggingLevel() logging.Level {
	switch l {
	case LogDebug:
		return logging.LevelDebug
	case LogInfo:
		return logging.LevelInfo
	case LogWarn:
		return logging.LevelWarn
	default:
		return logging.LevelError
	}
}
