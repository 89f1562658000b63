package dnslib

import (
	"net"
	"testing"
	"time"
)

// syncScheduler runs posted work inline on whatever goroutine calls
// RunLater; good enough for tests that don't care about serialization.
// RunAfter still arms a real timer — there's no faking a deadline without
// one — so it also satisfies TimerScheduler for Channel's tests.
type syncScheduler struct{}

func (syncScheduler) RunLater(fn func()) { fn() }

func (syncScheduler) RunAfter(d time.Duration, fn func()) func() bool {
	timer := time.AfterFunc(d, fn)
	return timer.Stop
}

func TestRegisterReadableFiresOnIncomingDatagram(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	peer, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen peer: %v", err)
	}
	defer peer.Close()

	factory := NewPolledFdFactory(syncScheduler{})
	fd := factory.NewPolledFd(conn)

	done := make(chan error, 1)
	fd.RegisterReadable(func(err error) { done <- err })

	if _, err := peer.WriteTo([]byte("ping"), conn.LocalAddr()); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error on readability, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("readable callback never fired")
	}
}

func TestShutdownUnblocksPendingRegisterReadable(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	factory := NewPolledFdFactory(syncScheduler{})
	fd := factory.NewPolledFd(conn)

	done := make(chan error, 1)
	fd.RegisterReadable(func(err error) { done <- err })

	want := newSentinelErr(t.Name())
	fd.Shutdown(want)

	select {
	case err := <-done:
		if err != want {
			t.Fatalf("expected shutdown status to be delivered, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not unblock pending readable registration")
	}
}

func TestIsStillReadableReflectsQueuedDatagram(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	peer, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen peer: %v", err)
	}
	defer peer.Close()

	factory := NewPolledFdFactory(syncScheduler{})
	fd := factory.NewPolledFd(conn)

	if fd.IsStillReadable() {
		t.Fatal("expected no datagram queued yet")
	}

	if _, err := peer.WriteTo([]byte("ping"), conn.LocalAddr()); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if !fd.IsStillReadable() {
		t.Fatal("expected queued datagram to be detected")
	}
}

// sentinelErr gives the shutdown test a distinguishable error value to
// check identity against, without reaching for a dnserr import just for
// that comparison.
type sentinelErr struct{ s string }

func newSentinelErr(s string) error  { return &sentinelErr{s} }
func (e *sentinelErr) Error() string { return e.s }
