package dnsdriver

import (
	"sync"

	"github.com/aresdns/aresdns/internal/engine"
)

// baseRequest is the cancel/timeout/shutdown state machine shared by every
// Request kind (Hostname, SRV, TXT): one mutex-guarded finished/cancelled
// pair, one deadline timer handle, and the sub-query cancel functions to
// run if the request is aborted before they complete on their own.
// HostnameRequest, SRVRequest, and TXTRequest each embed it instead of
// re-implementing the same bookkeeping three times.
type baseRequest struct {
	mu sync.Mutex

	r       *Resolver
	timeout engine.Handle
	cancels []func()

	finished  bool
	cancelled bool
}

// armTimeout starts this request's deadline, invoking onTimeout unless the
// request finishes on its own first. A zero QueryTimeout means no timer is
// armed at all; see Resolver.armTimeout.
func (b *baseRequest) armTimeout(onTimeout func()) {
	b.timeout = b.r.armTimeout(onTimeout)
}

// trackCancel records a sub-query's cancel function so Cancel or a timeout
// can abort it later.
func (b *baseRequest) trackCancel(cancel func()) {
	b.mu.Lock()
	b.cancels = append(b.cancels, cancel)
	b.mu.Unlock()
}

// cancelQueriesLocked aborts every tracked sub-query. Must be called with
// mu held.
func (b *baseRequest) cancelQueriesLocked() {
	for _, c := range b.cancels {
		c()
	}
}

func (b *baseRequest) stopTimeoutLocked() {
	if b.timeout.Valid() {
		b.r.eng.Cancel(b.timeout)
	}
}

// finishLocked marks the request finished and stops its deadline timer. It
// reports whether this call performed the transition; false means the
// request had already finished — naturally, by timeout, or by Cancel — and
// the caller must not publish anything.
func (b *baseRequest) finishLocked() bool {
	if b.finished {
		return false
	}
	b.finished = true
	b.stopTimeoutLocked()
	return true
}

// Cancel aborts the request. Cancellation is silent: onDone is never
// invoked for a request that Cancel finishes. It reports whether this call
// performed the cancellation, false if the request had already finished
// (on its own, by timeout, or by an earlier Cancel).
func (b *baseRequest) Cancel() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.finishLocked() {
		return false
	}
	b.cancelled = true
	b.cancelQueriesLocked()
	return true
}
