package dnsdriver

import (
	"net"
	"testing"

	"github.com/aresdns/aresdns/internal/dnslib"
)

func newTestPolledFd(t *testing.T) (*dnslib.PolledFd, net.PacketConn) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	factory := dnslib.NewPolledFdFactory(noopScheduler{})
	return factory.NewPolledFd(conn), conn
}

type noopScheduler struct{}

func (noopScheduler) RunLater(fn func()) { fn() }

func TestFdSetPopAndPut(t *testing.T) {
	s := NewFdSet()
	fd, conn := newTestPolledFd(t)
	defer conn.Close()

	s.Put(conn, fd)
	if s.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", s.Len())
	}

	got, ok := s.Pop(conn)
	if !ok || got != fd {
		t.Fatalf("expected Pop to return the same PolledFd")
	}
	if s.Len() != 0 {
		t.Fatalf("expected Pop to remove the entry")
	}
	if _, ok := s.Pop(conn); ok {
		t.Fatalf("expected second Pop to miss")
	}
}

func TestFdSetReconcileShutsDownUnclaimedIdleSocket(t *testing.T) {
	s := NewFdSet()
	fd, conn := newTestPolledFd(t)
	defer conn.Close()

	s.Put(conn, fd)
	s.Reconcile(nil) // nothing active anymore, and fd has no registrations

	if readable, writable := fd.Registered(); readable || writable {
		t.Fatalf("expected no pending registrations on a freshly built PolledFd")
	}
	// Shutdown closes the underlying conn; a second read should now fail.
	buf := make([]byte, 1)
	if _, _, err := conn.ReadFrom(buf); err == nil {
		t.Fatal("expected reconcile to have shut down the unclaimed socket")
	}
}

func TestFdSetReconcileKeepsStillActiveSocket(t *testing.T) {
	s := NewFdSet()
	fd, conn := newTestPolledFd(t)
	defer conn.Close()

	s.Put(conn, fd)
	s.Reconcile([]*dnslib.PolledFd{fd})

	if s.Len() != 1 {
		t.Fatalf("expected the still-active socket to remain tracked")
	}
}
