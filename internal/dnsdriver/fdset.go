package dnsdriver

import (
	"net"
	"sync"

	"github.com/aresdns/aresdns/internal/dnslib"
)

// FdSet is the active-socket bookkeeping a Request's work cycle reconciles
// on every pass: pop an entry by its socket handle to decide whether the
// library still wants it, push the handles the library reports this time,
// and iterate what's left over to drain or shut down.
type FdSet struct {
	mu  sync.Mutex
	fds map[net.PacketConn]*dnslib.PolledFd
}

// NewFdSet returns an empty FdSet.
func NewFdSet() *FdSet {
	return &FdSet{fds: make(map[net.PacketConn]*dnslib.PolledFd)}
}

// Pop removes and returns the PolledFd registered under handle, if any.
func (s *FdSet) Pop(handle net.PacketConn) (*dnslib.PolledFd, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fd, ok := s.fds[handle]
	if ok {
		delete(s.fds, handle)
	}
	return fd, ok
}

// Put registers fd under handle, replacing whatever was there before.
func (s *FdSet) Put(handle net.PacketConn, fd *dnslib.PolledFd) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fds[handle] = fd
}

// Each iterates every entry currently in the set. fn must not call back
// into the FdSet.
func (s *FdSet) Each(fn func(net.PacketConn, *dnslib.PolledFd)) {
	s.mu.Lock()
	snapshot := make(map[net.PacketConn]*dnslib.PolledFd, len(s.fds))
	for k, v := range s.fds {
		snapshot[k] = v
	}
	s.mu.Unlock()
	for k, v := range snapshot {
		fn(k, v)
	}
}

// Len reports how many sockets are currently tracked.
func (s *FdSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fds)
}

// Reconcile replaces the set's contents with active, shutting down any
// previously tracked PolledFd that active no longer claims and that has no
// readable/writable registration left to drain.
func (s *FdSet) Reconcile(active []*dnslib.PolledFd) {
	next := make(map[net.PacketConn]*dnslib.PolledFd, len(active))
	for _, fd := range active {
		next[fd.WrappedSocket()] = fd
	}

	s.mu.Lock()
	stale := s.fds
	s.fds = next
	s.mu.Unlock()

	for handle, fd := range stale {
		if _, stillActive := next[handle]; stillActive {
			continue
		}
		if readable, writable := fd.Registered(); readable || writable {
			continue
		}
		fd.Shutdown(nil)
	}
}
