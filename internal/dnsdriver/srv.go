package dnsdriver

import (
	"strings"

	"github.com/miekg/dns"

	"github.com/aresdns/aresdns/internal/dnserr"
	"github.com/aresdns/aresdns/internal/dnslib"
)

// SRVRequest tracks one in-flight SRV lookup, targeting the gRPC load
// balancer's conventional "_grpclb._tcp.<host>" name.
type SRVRequest struct {
	baseRequest

	onDone func([]dnslib.SRVRecord, error)
}

// CreateSRVRequest builds and starts a SRV lookup for host. Resolution
// against a loopback host is skipped entirely — it can never have a useful
// load-balancer SRV record — and returns NotFound immediately, matching the
// wrapped library's localhost short-circuit.
func (r *Resolver) CreateSRVRequest(host string, onDone func([]dnslib.SRVRecord, error)) *SRVRequest {
	req := &SRVRequest{onDone: onDone}
	req.r = r
	req.start(host)
	return req
}

func (req *SRVRequest) start(host string) {
	if isLoopbackHost(host) {
		req.finishImmediate(nil, dnserr.New(dnserr.NotFound, "SRV lookup skipped for loopback host"))
		return
	}

	name := "_grpclb._tcp." + strings.TrimSuffix(host, ".")
	cancel, done, result := req.r.channel.Query(name, dns.TypeSRV)
	req.trackCancel(cancel)

	req.armTimeout(func() { req.onTimeout() })

	go func() {
		<-done
		msg, err := result()
		req.r.eng.RunLater(func() { req.onDoneInternal(msg, err) })
	}()
}

func (req *SRVRequest) onDoneInternal(msg *dns.Msg, err error) {
	req.mu.Lock()
	defer req.mu.Unlock()
	if !req.finishLocked() {
		return
	}

	if err != nil {
		req.dispatch(nil, err)
		return
	}
	records := dnslib.ParseSRVReply(msg)
	if len(records) == 0 {
		req.dispatch(nil, dnserr.New(dnserr.NotFound, "no SRV records found"))
		return
	}
	req.dispatch(records, nil)
}

func (req *SRVRequest) onTimeout() {
	req.mu.Lock()
	defer req.mu.Unlock()
	if !req.finishLocked() {
		return
	}
	req.cancelQueriesLocked()
	req.dispatch(nil, dnserr.New(dnserr.DeadlineExceeded, "SRV lookup timed out"))
}

func (req *SRVRequest) dispatch(records []dnslib.SRVRecord, err error) {
	onDone := req.onDone
	req.r.eng.RunLater(func() { onDone(records, err) })
}

func (req *SRVRequest) finishImmediate(records []dnslib.SRVRecord, err error) {
	req.mu.Lock()
	req.finished = true
	req.mu.Unlock()
	req.dispatch(records, err)
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSuffix(strings.ToLower(host), ".")
	if h == "localhost" {
		return true
	}
	ip := isIPLiteral(host)
	return ip != nil && ip.IsLoopback()
}
