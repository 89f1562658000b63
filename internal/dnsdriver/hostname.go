package dnsdriver

import (
	"net"
	"strconv"

	"github.com/miekg/dns"
	"go.uber.org/multierr"

	"github.com/aresdns/aresdns/internal/dnserr"
	"github.com/aresdns/aresdns/internal/rfc6724"
)

// HostnameResult is the outcome of a hostname lookup: every resolved
// address, already sorted by destination-address preference (RFC 6724).
type HostnameResult struct {
	Addrs []rfc6724.Addr
}

// HostnameRequest tracks one in-flight A/AAAA fan-out lookup.
type HostnameRequest struct {
	baseRequest

	host   string
	port   uint16
	onDone func(HostnameResult, error)

	pending   int
	addrs     []rfc6724.Addr
	lastErr   error
	succeeded bool
}

// CreateHostnameRequest builds and starts a hostname lookup. defaultPort is
// used when host does not already carry a "host:port" suffix. onDone runs
// at most once, on the Resolver's engine, and never after a Cancel that
// reported true.
func (r *Resolver) CreateHostnameRequest(host, defaultPort string, onDone func(HostnameResult, error)) *HostnameRequest {
	req := &HostnameRequest{onDone: onDone}
	req.r = r
	req.start(host, defaultPort)
	return req
}

func (req *HostnameRequest) start(hostport, defaultPort string) {
	host, port := hostport, defaultPort
	if h, p, err := net.SplitHostPort(hostport); err == nil {
		host, port = h, p
	}
	req.host = host

	portNum, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		req.finishImmediate(HostnameResult{}, dnserr.Wrap(dnserr.InvalidArgument, "invalid port "+port, err))
		return
	}
	req.port = uint16(portNum)

	if ip := isIPLiteral(host); ip != nil {
		req.finishImmediate(HostnameResult{Addrs: []rfc6724.Addr{{IP: ip, Port: req.port}}}, nil)
		return
	}

	pending := 1
	issueAAAA := IPv6LoopbackAvailable()
	if issueAAAA {
		pending = 2
	}

	req.mu.Lock()
	req.pending = pending
	req.mu.Unlock()

	req.armTimeout(func() { req.onTimeout() })

	req.issue(dns.TypeA)
	if issueAAAA {
		req.issue(dns.TypeAAAA)
	}
}

func (req *HostnameRequest) issue(qtype uint16) {
	cancel, done, result := req.r.channel.Query(req.host, qtype)
	req.trackCancel(cancel)

	go func() {
		<-done
		msg, err := result()
		req.r.eng.RunLater(func() { req.onQueryDone(qtype, msg, err) })
	}()
}

func (req *HostnameRequest) onQueryDone(qtype uint16, msg *dns.Msg, err error) {
	req.mu.Lock()
	defer req.mu.Unlock()
	if req.finished {
		return
	}

	req.pending--
	if err != nil {
		req.lastErr = multierr.Append(req.lastErr, err)
	} else {
		req.succeeded = true
		req.addrs = append(req.addrs, addrsFromMsg(msg, qtype, req.port)...)
	}

	if req.pending == 0 {
		req.publishLocked()
	}
}

func (req *HostnameRequest) onTimeout() {
	req.mu.Lock()
	defer req.mu.Unlock()
	if req.finished {
		return
	}
	req.lastErr = dnserr.New(dnserr.DeadlineExceeded, "hostname lookup timed out")
	req.cancelQueriesLocked()
	req.publishLocked()
}

// publishLocked must be called with req.mu held; it finishes the request
// (unless something else already has) and posts the result through the
// engine exactly once.
func (req *HostnameRequest) publishLocked() {
	if !req.finishLocked() {
		return
	}

	sorted := rfc6724.Sort(req.addrs)
	result := HostnameResult{Addrs: sorted}
	var err error
	if !req.succeeded {
		if req.lastErr != nil {
			err = req.lastErr
		} else {
			err = dnserr.New(dnserr.NotFound, "no addresses found for "+req.host)
		}
	}
	onDone := req.onDone
	req.r.eng.RunLater(func() { onDone(result, err) })
}

// finishImmediate is used by the IP-literal and bad-port short-circuits
// that never set up a timeout or sub-queries.
func (req *HostnameRequest) finishImmediate(result HostnameResult, err error) {
	req.mu.Lock()
	req.finished = true
	req.mu.Unlock()
	onDone := req.onDone
	req.r.eng.RunLater(func() { onDone(result, err) })
}

func addrsFromMsg(msg *dns.Msg, qtype uint16, port uint16) []rfc6724.Addr {
	var out []rfc6724.Addr
	for _, rr := range msg.Answer {
		switch qtype {
		case dns.TypeA:
			if a, ok := rr.(*dns.A); ok {
				out = append(out, rfc6724.Addr{IP: a.A, Port: port})
			}
		case dns.TypeAAAA:
			if a, ok := rr.(*dns.AAAA); ok {
				out = append(out, rfc6724.Addr{IP: a.AAAA, Port: port})
			}
		}
	}
	return out
}
