package peer

import (
	"crypto/hmac"
	"crypto/sha256"
	"net"
	"testing"
	"time"

	"github.com/rs/xid"
)

func hmacSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Address = &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2000}
	cfg.SessionTimeout = 50 * time.Millisecond
	cfg.KeepaliveInterval = 10 * time.Millisecond
	return cfg
}

func TestNewAssignsUniqueSessionID(t *testing.T) {
	a := New(ID{Index: 1}, RoleSender, testConfig())
	b := New(ID{Index: 2}, RoleSender, testConfig())

	var zero xid.ID
	if a.SessionID == zero || b.SessionID == zero {
		t.Fatal("expected a non-zero session id on every new peer")
	}
	if a.SessionID == b.SessionID {
		t.Fatal("expected distinct peers to get distinct session ids")
	}
}

func TestStateTransitionsHandshakeToActive(t *testing.T) {
	p := New(ID{Index: 1}, RoleReceiver, testConfig())
	now := time.Now()

	p.Start(now)
	if got := p.State(); got != StateHandshaking {
		t.Fatalf("after Start: got %s want handshaking", got)
	}

	p.OnKeepaliveReceived(now, false)
	if got := p.State(); got != StateAuthenticated {
		t.Fatalf("after keepalive, no auth required: got %s want authenticated", got)
	}

	if !p.Authorize(cfgAddr(), cfgAddr()) {
		t.Fatal("expected Authorize to allow by default (nil callback)")
	}
	if got := p.State(); got != StateActive {
		t.Fatalf("after Authorize: got %s want active", got)
	}
}

func cfgAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 3000}
}

func TestAuthDenyGoesDead(t *testing.T) {
	p := New(ID{Index: 2}, RoleReceiver, testConfig())
	p.SetAuthHandlers(func(remote, local *net.UDPAddr) bool { return false }, nil)

	if p.Authorize(cfgAddr(), cfgAddr()) {
		t.Fatal("expected deny")
	}
	if got := p.State(); got != StateDead {
		t.Fatalf("got %s want dead", got)
	}
}

func TestKeepaliveTimeoutDrivesDyingThenDead(t *testing.T) {
	p := New(ID{Index: 3}, RoleReceiver, testConfig())
	now := time.Now()
	p.Start(now)
	p.OnKeepaliveReceived(now, false)
	p.Authorize(cfgAddr(), cfgAddr())

	disconnects := 0
	p.SetAuthHandlers(nil, func(id ID) { disconnects++ })

	if justDied := p.Tick(now); justDied {
		t.Fatal("should not die immediately")
	}

	afterTimeout := now.Add(p.Config.SessionTimeout + time.Millisecond)
	p.Tick(afterTimeout)
	if got := p.State(); got != StateDying {
		t.Fatalf("got %s want dying", got)
	}

	// Any traffic during DYING should resurrect the peer to ACTIVE.
	p.OnAnyPacketReceived(afterTimeout)
	if got := p.State(); got != StateActive {
		t.Fatalf("got %s want active after traffic resumed", got)
	}

	// Let it die for real this time: advance past 2x timeout with no traffic.
	p.Tick(afterTimeout)
	dead1 := p.Tick(afterTimeout.Add(2*p.Config.SessionTimeout + time.Millisecond))
	if !dead1 {
		t.Fatal("expected justDied=true exactly once on the tick that crosses 2x timeout")
	}
	p.InvokeDisconnect()

	dead2 := p.Tick(afterTimeout.Add(3 * p.Config.SessionTimeout))
	if dead2 {
		t.Fatal("expected justDied=false on subsequent ticks; must fire exactly once")
	}
	if disconnects != 1 {
		t.Fatalf("on_disconnect called %d times, want exactly 1", disconnects)
	}
}

func TestRTTSmoothingClampsToConfiguredRange(t *testing.T) {
	p := New(ID{Index: 4}, RoleSender, testConfig())
	p.Config.RecoveryRTTMinMS = 10
	p.Config.RecoveryRTTMaxMS = 100

	p.RTTSample(5 * time.Millisecond)
	if got := p.RTTSmoothed(); got < 10*time.Millisecond {
		t.Fatalf("got %v, want clamped to >= 10ms", got)
	}

	p.RTTSample(1000 * time.Millisecond)
	if got := p.RTTSmoothed(); got > 100*time.Millisecond {
		t.Fatalf("got %v, want clamped to <= 100ms", got)
	}
}

func TestAuthChallengeResponseRoundTrip(t *testing.T) {
	p := New(ID{Index: 5}, RoleReceiver, testConfig())
	secret := []byte("shared-secret")

	nonce, err := p.BeginAuth(secret)
	if err != nil {
		t.Fatalf("BeginAuth: %v", err)
	}

	mac := hmacSHA256(secret, nonce[:])
	if !p.CompleteAuth(mac) {
		t.Fatal("expected matching HMAC to authenticate")
	}
	if got := p.State(); got != StateAuthenticated {
		t.Fatalf("got %s want authenticated", got)
	}
}

func TestAuthChallengeMismatchGoesDead(t *testing.T) {
	p := New(ID{Index: 6}, RoleReceiver, testConfig())
	if _, err := p.BeginAuth([]byte("secret")); err != nil {
		t.Fatalf("BeginAuth: %v", err)
	}
	if p.CompleteAuth([]byte("not-the-right-mac")) {
		t.Fatal("expected mismatch to fail")
	}
	if got := p.State(); got != StateDead {
		t.Fatalf("got %s want dead", got)
	}
}

func TestArenaGenerationalHandlesRejectStaleID(t *testing.T) {
	a := NewArena()
	p := a.Create(RoleSender, testConfig())
	id := p.ID

	if _, ok := a.Lookup(id); !ok {
		t.Fatal("expected live lookup to succeed")
	}

	a.Destroy(id)
	if _, ok := a.Lookup(id); ok {
		t.Fatal("expected stale ID to fail lookup after destroy")
	}

	p2 := a.Create(RoleSender, testConfig())
	if p2.ID.Index != id.Index {
		t.Fatalf("expected slot reuse, got new index %d vs freed %d", p2.ID.Index, id.Index)
	}
	if p2.ID.Generation == id.Generation {
		t.Fatal("expected reused slot to bump generation")
	}
	if _, ok := a.Lookup(id); ok {
		t.Fatal("old generation must still fail after slot reuse")
	}
}
