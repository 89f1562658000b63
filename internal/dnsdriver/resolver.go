package dnsdriver

import (
	"net"
	"time"

	"github.com/aresdns/aresdns/internal/dnserr"
	"github.com/aresdns/aresdns/internal/dnslib"
	"github.com/aresdns/aresdns/internal/engine"
	"github.com/aresdns/aresdns/internal/log"
)

// DefaultResolvers is used when no server override is configured. It
// matches the well-known public resolvers a fresh install has no other way
// to discover; a production deployment is expected to set
// config.ResolverConfig.Servers to its network's actual resolvers.
var DefaultResolvers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// Options configures a Resolver's retry and timeout policy. The zero value
// is not valid for Servers/BackupPollInterval/Retries; use NewOptions or
// populate every field.
type Options struct {
	Servers []string
	// QueryTimeout bounds how long a request waits for a reply before it is
	// reported as failed. Zero means no deadline: the request is bounded
	// only by the resolver list and retry count, never by a timer.
	QueryTimeout       time.Duration
	BackupPollInterval time.Duration
	Retries            uint
	// AttemptTimeout bounds a single wire attempt against one resolver,
	// independent of QueryTimeout, so a silently-dropped reply retries
	// instead of hanging until the whole request's deadline fires.
	AttemptTimeout time.Duration
	TraceDriver    bool
}

// NewOptions returns Options with the package's defaults, overridden by any
// non-zero field the caller supplies in override. QueryTimeout is the
// exception: it is never defaulted, since zero is itself a meaningful
// choice (no deadline) rather than "unset" — pass override.QueryTimeout
// explicitly whenever a bounded wait is wanted.
func NewOptions(override Options) Options {
	o := Options{
		Servers:            DefaultResolvers,
		QueryTimeout:       override.QueryTimeout,
		BackupPollInterval: time.Second,
		Retries:            2,
		AttemptTimeout:     2 * time.Second,
	}
	if len(override.Servers) > 0 {
		o.Servers = override.Servers
	}
	if override.BackupPollInterval > 0 {
		o.BackupPollInterval = override.BackupPollInterval
	}
	if override.Retries > 0 {
		o.Retries = override.Retries
	}
	if override.AttemptTimeout > 0 {
		o.AttemptTimeout = override.AttemptTimeout
	}
	o.TraceDriver = override.TraceDriver
	return o
}

// clock is the slice of *engine.Engine a Resolver needs: post work, arm a
// timer, cancel one. Depending on this narrow interface rather than the
// concrete engine is what lets tests substitute a synchronous fake for
// cancellation-ordering assertions instead of racing the real background
// loop.
type clock interface {
	RunLater(fn func())
	RunAfter(d time.Duration, fn func()) engine.Handle
	Cancel(h engine.Handle) bool
}

// Resolver is the entry point callers use to issue hostname, SRV, and TXT
// lookups. One Resolver owns one dnslib.Channel and is bound to a single
// clock; every callback it ever invokes runs on that clock.
type Resolver struct {
	eng     clock
	channel *dnslib.Channel
	opts    Options

	fdSet      *FdSet
	backupPoll engine.Handle
	shutdown   bool
}

// New builds a Resolver bound to eng, using opts for resolver selection,
// timeout, and retry policy. It also arms a recurring backup poll that
// reconciles the driver's FdSet against the channel's current socket set,
// a paranoia check against a missed readiness notification.
func New(eng clock, opts Options) (*Resolver, error) {
	ch, err := dnslib.NewChannel(clockScheduler{eng}, opts.Servers, opts.Retries, opts.AttemptTimeout)
	if err != nil {
		return nil, dnserr.Wrap(dnserr.Internal, "constructing resolver channel", err)
	}
	r := &Resolver{eng: eng, channel: ch, opts: opts, fdSet: NewFdSet()}
	r.armBackupPoll()
	return r, nil
}

// clockScheduler adapts a clock to dnslib.TimerScheduler, translating
// engine.Handle into a plain cancel closure so dnslib never has to import
// internal/engine's types.
type clockScheduler struct{ clock }

func (s clockScheduler) RunAfter(d time.Duration, fn func()) func() bool {
	h := s.clock.RunAfter(d, fn)
	return func() bool { return s.clock.Cancel(h) }
}

func (r *Resolver) armBackupPoll() {
	r.backupPoll = r.eng.RunAfter(r.opts.BackupPollInterval, r.runBackupPoll)
}

func (r *Resolver) runBackupPoll() {
	if r.shutdown {
		return
	}
	r.fdSet.Reconcile(r.channel.ActiveFds())
	r.fdSet.Each(func(_ net.PacketConn, fd *dnslib.PolledFd) {
		if fd.IsStillReadable() {
			r.trace("dnsdriver: backup poll forcing a stuck socket to process")
			r.channel.ForceProcess(fd)
		}
	})
	r.armBackupPoll()
}

// ActiveSockets reports how many sockets the FdSet is currently tracking,
// for status reporting.
func (r *Resolver) ActiveSockets() int {
	return r.fdSet.Len()
}

// SetServers replaces the resolver list used by queries issued after this
// call returns.
func (r *Resolver) SetServers(servers []string) error {
	return r.channel.SetServersPorts(servers)
}

// Shutdown cancels every in-flight request this Resolver has issued and
// stops the backup poll.
func (r *Resolver) Shutdown() {
	r.shutdown = true
	r.eng.Cancel(r.backupPoll)
	r.channel.Cancel()
}

// armTimeout posts onTimeout after the resolver's configured query timeout
// unless cancelled first, returning the engine.Handle so the caller can
// cancel it once the request completes on its own. A zero QueryTimeout
// means no deadline: no timer is armed, and the returned Handle is
// deliberately invalid so Cancel on it is a no-op.
func (r *Resolver) armTimeout(onTimeout func()) engine.Handle {
	if r.opts.QueryTimeout == 0 {
		return engine.Handle{}
	}
	return r.eng.RunAfter(r.opts.QueryTimeout, onTimeout)
}

func (r *Resolver) trace(msg string, kv ...any) {
	if r.opts.TraceDriver {
		log.Debug(msg, kv...)
	}
}

// isIPLiteral reports whether host is already a textual IPv4 or IPv6
// address, letting hostname resolution short-circuit the wire round trip
// exactly as the wrapped library's own literal check does.
func isIPLiteral(host string) net.IP {
	return net.ParseIP(host)
}
