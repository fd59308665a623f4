package reactor

import (
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestSPSCRingPushPopFIFO(t *testing.T) {
	r := NewSPSCRing(4)
	for i := 0; i < 4; i++ {
		if !r.TryPush(i) {
			t.Fatalf("push %d should succeed", i)
		}
	}
	if r.TryPush(99) {
		t.Fatal("expected ring to be full")
	}
	for i := 0; i < 4; i++ {
		v, ok := r.TryPop()
		if !ok || v.(int) != i {
			t.Fatalf("got %v want %d", v, i)
		}
	}
}

func TestTimerWheelFiresAtDeadline(t *testing.T) {
	now := time.Now()
	w := NewTimerWheel(now)

	var fired int32
	w.Schedule(now, now.Add(10*time.Millisecond), func(time.Time) {
		atomic.AddInt32(&fired, 1)
	})

	w.Advance(now.Add(5 * time.Millisecond))
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("should not fire before deadline")
	}
	w.Advance(now.Add(11 * time.Millisecond))
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected exactly one fire, got %d", fired)
	}
}

func TestTimerCancelSuppressesFire(t *testing.T) {
	now := time.Now()
	w := NewTimerWheel(now)
	var fired int32
	h := w.Schedule(now, now.Add(5*time.Millisecond), func(time.Time) {
		atomic.AddInt32(&fired, 1)
	})
	h.Cancel()
	w.Advance(now.Add(10 * time.Millisecond))
	if fired != 0 {
		t.Fatal("cancelled timer must not fire")
	}
}

func TestReactorDeliversPacketsAndTicks(t *testing.T) {
	received := make(chan string, 1)
	var ticks int32

	rct := New(2*time.Millisecond,
		func(source string, data []byte, from net.Addr, now time.Time) {
			received <- string(data)
		},
		func(now time.Time) {
			atomic.AddInt32(&ticks, 1)
		},
		nil,
	)

	sock, err := rct.Bind("test", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	done := make(chan struct{})
	go func() {
		rct.Run()
		close(done)
	}()

	client, err := net.DialUDP("udp", nil, sock.LocalAddr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case data := <-received:
		if data != "hello" {
			t.Fatalf("got %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet delivery")
	}

	time.Sleep(20 * time.Millisecond)
	rct.Stop()
	<-done

	if atomic.LoadInt32(&ticks) == 0 {
		t.Fatal("expected at least one tick to fire")
	}
}
