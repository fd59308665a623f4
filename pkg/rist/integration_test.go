package rist

import (
	"net"
	"testing"
	"time"

	"github.com/ristgo/rist/pkg/outsched"
	"github.com/ristgo/rist/pkg/wire"
)

func localAddr(t *testing.T) *net.UDPAddr {
	t.Helper()
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
}

func TestSenderReceiverDataRoundTrip(t *testing.T) {
	senderCfg := DefaultConfig()
	senderCfg.FlowID = 42
	senderCfg.Profile = wire.ProfileMain
	senderCfg.KeepaliveInterval = 5 * time.Millisecond
	sender, err := NewSender(senderCfg)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Destroy()

	recvCfg := DefaultConfig()
	recvCfg.FlowID = 42
	recvCfg.Profile = wire.ProfileMain
	recvCfg.KeepaliveInterval = 5 * time.Millisecond
	receiver, err := NewReceiver(recvCfg)
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	defer receiver.Destroy()

	received := make(chan []byte, 16)
	receiver.DataCallbackSet(func(flowID uint32, payload []byte) {
		received <- payload
	})

	if err := receiver.Start(localAddr(t)); err != nil {
		t.Fatalf("receiver.Start: %v", err)
	}
	if err := sender.Start(localAddr(t)); err != nil {
		t.Fatalf("sender.Start: %v", err)
	}

	recvAddr := receiver.socket.LocalAddr()
	if _, err := sender.PeerCreate(PeerConfig{Address: recvAddr, Weight: 5}); err != nil {
		t.Fatalf("sender.PeerCreate: %v", err)
	}

	sendAddr := sender.socket.LocalAddr()
	if _, err := receiver.PeerCreate(PeerConfig{Address: sendAddr, Weight: 5}); err != nil {
		t.Fatalf("receiver.PeerCreate: %v", err)
	}

	// Give both reactors time to exchange keep-alives and walk each peer
	// HANDSHAKING -> AUTHENTICATED -> ACTIVE via the auth-free default path.
	time.Sleep(100 * time.Millisecond)

	if err := sender.DataWrite([]byte("hello, rist")); err != nil {
		t.Fatalf("DataWrite: %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != "hello, rist" {
			t.Fatalf("got %q", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered payload")
	}
}

func TestReceiverQueueModeDataRead(t *testing.T) {
	recvCfg := DefaultConfig()
	recvCfg.FlowID = 7
	receiver, err := NewReceiver(recvCfg)
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	receiver.deliveryMode = outsched.DeliveryQueue

	f := receiver.outFlowFor(7)
	f.Schedule([]byte("queued"), time.Now())
	f.Drain(time.Now().Add(10 * time.Millisecond))

	payload, ok := receiver.DataRead(7, 0)
	if !ok || string(payload) != "queued" {
		t.Fatalf("got %q ok=%v", payload, ok)
	}
}
