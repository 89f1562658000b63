package dnslib

import (
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/aresdns/aresdns/internal/dnserr"
	"github.com/aresdns/aresdns/internal/log"
)

const defaultDNSPort = "53"

// Channel is the wrapped library's entry point: a resolver-selection and
// retry policy layered over a set of in-flight queries, each backed by one
// PolledFd. A Channel is safe for concurrent use, but since every callback
// it invokes is posted through the owning Scheduler, callers driven by the
// same engine never actually race with it.
type Channel struct {
	factory *PolledFdFactory
	sched   TimerScheduler

	mu             sync.Mutex
	resolvers      []string // host:port, already validated
	retries        uint
	attemptTimeout time.Duration
	nextID         uint64
	queries        map[uint64]*query
	closed         bool
}

type query struct {
	id           uint64
	name         string
	qtype        uint16
	resolverIdx  int
	attemptsLeft uint
	fd           *PolledFd
	onDone       func(*dns.Msg, error)
	cancelled    bool

	attemptSeq       int
	stopAttemptTimer func() bool
}

// stopTimer cancels q's per-attempt deadline, if one is armed, and clears
// it so a later attempt doesn't try to cancel a stale reference.
func (q *query) stopTimer() {
	if q.stopAttemptTimer != nil {
		q.stopAttemptTimer()
		q.stopAttemptTimer = nil
	}
}

// NewChannel builds a Channel bound to sched, querying resolvers in order
// and retrying up to retries times across the list before giving up.
// resolvers must be non-empty, already-resolved "host:port" or "host"
// strings; SetServersPorts can replace them later. attemptTimeout bounds a
// single wire attempt independent of any deadline the caller enforces on
// the whole query; zero disables it, leaving only hard errors (and the
// caller's own deadline) able to end an attempt.
func NewChannel(sched TimerScheduler, resolvers []string, retries uint, attemptTimeout time.Duration) (*Channel, error) {
	c := &Channel{
		factory:        NewPolledFdFactory(sched),
		sched:          sched,
		retries:        retries,
		attemptTimeout: attemptTimeout,
		queries:        make(map[uint64]*query),
	}
	if err := c.SetServersPorts(resolvers); err != nil {
		return nil, err
	}
	return c, nil
}

// SetServersPorts replaces the resolver list used by queries issued after
// this call; in-flight queries keep the resolver they already picked.
func (c *Channel) SetServersPorts(resolvers []string) error {
	if len(resolvers) == 0 {
		return dnserr.New(dnserr.InvalidArgument, "channel requires at least one resolver")
	}
	normalized := make([]string, len(resolvers))
	for i, r := range resolvers {
		host, port, err := net.SplitHostPort(r)
		if err != nil {
			host, port = r, defaultDNSPort
		}
		normalized[i] = net.JoinHostPort(host, port)
	}
	c.mu.Lock()
	c.resolvers = normalized
	c.mu.Unlock()
	return nil
}

// Query issues name/qtype against the first configured resolver and closes
// done exactly once; after that, result returns either the parsed reply or
// a *dnserr*-coded error. cancel aborts the query with a Cancelled error.
func (c *Channel) Query(name string, qtype uint16) (cancel func(), done <-chan struct{}, result func() (*dns.Msg, error)) {
	ch := make(chan struct{})
	var (
		mu  sync.Mutex
		msg *dns.Msg
		err error
	)
	onDone := func(m *dns.Msg, e error) {
		mu.Lock()
		msg, err = m, e
		mu.Unlock()
		close(ch)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		onDone(nil, dnserr.New(dnserr.Internal, "channel is shut down"))
		return func() {}, ch, func() (*dns.Msg, error) { mu.Lock(); defer mu.Unlock(); return msg, err }
	}
	c.nextID++
	q := &query{
		id:           c.nextID,
		name:         dns.Fqdn(name),
		qtype:        qtype,
		attemptsLeft: c.retries + 1,
		onDone:       onDone,
	}
	c.queries[q.id] = q
	c.mu.Unlock()

	c.sendAttempt(q)

	cancelFn := func() { c.cancelQuery(q.id) }
	resultFn := func() (*dns.Msg, error) {
		mu.Lock()
		defer mu.Unlock()
		return msg, err
	}
	return cancelFn, ch, resultFn
}

func (c *Channel) cancelQuery(id uint64) {
	c.mu.Lock()
	q, ok := c.queries[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.queries, id)
	c.mu.Unlock()

	q.cancelled = true
	q.stopTimer()
	if q.fd != nil {
		q.fd.Shutdown(dnserr.New(dnserr.Cancelled, "query cancelled"))
	}
	q.onDone(nil, dnserr.New(dnserr.Cancelled, "query cancelled"))
}

// Cancel shuts down every in-flight query, delivering a Cancelled error to
// each pending onDone exactly once, and marks the channel unusable for
// further queries.
func (c *Channel) Cancel() {
	c.mu.Lock()
	c.closed = true
	pending := c.queries
	c.queries = make(map[uint64]*query)
	c.mu.Unlock()

	for _, q := range pending {
		q.cancelled = true
		q.stopTimer()
		if q.fd != nil {
			q.fd.Shutdown(dnserr.New(dnserr.Cancelled, "channel cancelled"))
		}
		q.onDone(nil, dnserr.New(dnserr.Cancelled, "channel cancelled"))
	}
}

// ActiveFds returns every socket currently backing an in-flight query, for
// status reporting and for the driver's backup poll to reconcile against.
func (c *Channel) ActiveFds() []*PolledFd {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*PolledFd, 0, len(c.queries))
	for _, q := range c.queries {
		if q.fd != nil {
			out = append(out, q.fd)
		}
	}
	return out
}

// ForceProcess drives a read attempt on fd's owning query right now,
// independent of whatever readiness callback fd already has pending. It
// backs the driver's backup poll: the defense against a readiness
// notification that was missed, leaving a query's retry timer stuck,
// mirroring the wrapped library's own forced process(fd, fd) pass. It is a
// no-op if fd isn't backing a live query, or if fd's pending registration
// has already been claimed or delivered by the time this runs.
func (c *Channel) ForceProcess(fd *PolledFd) {
	c.mu.Lock()
	var q *query
	for _, cand := range c.queries {
		if cand.fd == fd && !cand.cancelled {
			q = cand
			break
		}
	}
	c.mu.Unlock()
	if q == nil || !fd.ClaimReadable() {
		return
	}
	c.handleReadable(q, nil)
}

func (c *Channel) sendAttempt(q *query) {
	c.mu.Lock()
	resolvers := c.resolvers
	c.mu.Unlock()

	if q.resolverIdx >= len(resolvers) {
		c.finish(q, nil, dnserr.New(dnserr.NotFound, "exhausted all configured resolvers"))
		return
	}
	addrStr := resolvers[q.resolverIdx]

	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		c.retryOrFail(q, dnserr.Wrap(dnserr.Internal, "opening query socket", err))
		return
	}
	addr, err := net.ResolveUDPAddr("udp", addrStr)
	if err != nil {
		_ = conn.Close()
		c.finish(q, nil, dnserr.Wrap(dnserr.InvalidArgument, "resolving server address "+addrStr, err))
		return
	}

	msg := new(dns.Msg)
	msg.SetQuestion(q.name, q.qtype)
	msg.RecursionDesired = true
	packed, err := msg.Pack()
	if err != nil {
		_ = conn.Close()
		c.finish(q, nil, dnserr.Wrap(dnserr.Internal, "packing query", err))
		return
	}

	fd := c.factory.NewPolledFd(conn)
	q.fd = fd

	if _, err := conn.WriteTo(packed, addr); err != nil {
		c.retryOrFail(q, dnserr.Wrap(dnserr.Internal, "sending query to "+addrStr, err))
		return
	}

	fd.RegisterReadable(func(readErr error) {
		if q.fd != fd {
			// A retry already replaced this socket; its shutdown wake-up
			// must not fail the attempt now in flight.
			return
		}
		c.handleReadable(q, readErr)
	})

	q.attemptSeq++
	seq := q.attemptSeq
	if c.attemptTimeout > 0 {
		q.stopAttemptTimer = c.sched.RunAfter(c.attemptTimeout, func() { c.attemptTimedOut(q, seq) })
	}
}

// attemptTimedOut fires when a single wire attempt's own deadline elapses
// without a reply ever arriving — a silently-dropped UDP packet, the most
// common real-world failure mode, as opposed to a hard read/write error.
// seq guards against a timer left over from an attempt that has already
// moved on by the time it fires.
func (c *Channel) attemptTimedOut(q *query, seq int) {
	if q.cancelled || q.attemptSeq != seq {
		return
	}
	c.mu.Lock()
	_, stillPending := c.queries[q.id]
	c.mu.Unlock()
	if !stillPending {
		return
	}
	c.retryOrFail(q, dnserr.New(dnserr.DeadlineExceeded, "no reply within the per-attempt timeout"))
}

func (c *Channel) handleReadable(q *query, readErr error) {
	if q.cancelled {
		return
	}
	c.mu.Lock()
	_, stillPending := c.queries[q.id]
	c.mu.Unlock()
	if !stillPending {
		return
	}
	if readErr != nil {
		c.retryOrFail(q, dnserr.Wrap(dnserr.Internal, "waiting for reply", readErr))
		return
	}

	buf := make([]byte, dns.DefaultMsgSize)
	n, _, err := q.fd.WrappedSocket().ReadFrom(buf)
	if err != nil {
		c.retryOrFail(q, dnserr.Wrap(dnserr.Internal, "reading reply", err))
		return
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(buf[:n]); err != nil {
		c.retryOrFail(q, dnserr.Wrap(dnserr.Internal, "unpacking reply", err))
		return
	}

	if reply.Rcode != dns.RcodeSuccess {
		c.retryOrFail(q, dnserr.New(dnserr.NotFound, dns.RcodeToString[reply.Rcode]))
		return
	}

	q.fd.Shutdown(nil)
	c.finish(q, reply, nil)
}

func (c *Channel) retryOrFail(q *query, cause error) {
	q.stopTimer()
	if q.fd != nil {
		q.fd.Shutdown(cause)
		q.fd = nil
	}
	q.attemptsLeft--
	if q.attemptsLeft == 0 {
		c.finish(q, nil, cause)
		return
	}
	q.resolverIdx++
	log.Debug("dnslib: retrying query", "name", q.name, "cause", cause)
	c.sendAttempt(q)
}

func (c *Channel) finish(q *query, reply *dns.Msg, err error) {
	q.stopTimer()
	c.mu.Lock()
	_, stillPending := c.queries[q.id]
	delete(c.queries, q.id)
	c.mu.Unlock()
	if !stillPending {
		return
	}
	q.onDone(reply, err)
}
