package dnsdriver

import (
	"strings"

	"github.com/miekg/dns"

	"github.com/aresdns/aresdns/internal/dnserr"
	"github.com/aresdns/aresdns/internal/dnslib"
)

// serviceConfigAttributePrefix marks the TXT record carrying a gRPC service
// config. Every other TXT record returned for the same name is ignored.
const serviceConfigAttributePrefix = "grpc_config="

// TXTRequest tracks one in-flight TXT lookup, targeting
// "_grpc_config.<host>" and reassembling a value split across the strings
// of one TXT record back into a single string.
type TXTRequest struct {
	baseRequest

	onDone func(string, error)
}

// CreateTXTRequest builds and starts a TXT lookup for host. As with SRV
// lookups, a loopback host is skipped and reported NotFound immediately.
func (r *Resolver) CreateTXTRequest(host string, onDone func(string, error)) *TXTRequest {
	req := &TXTRequest{onDone: onDone}
	req.r = r
	req.start(host)
	return req
}

func (req *TXTRequest) start(host string) {
	if isLoopbackHost(host) {
		req.finishImmediate("", dnserr.New(dnserr.NotFound, "TXT lookup skipped for loopback host"))
		return
	}

	name := "_grpc_config." + strings.TrimSuffix(host, ".")
	cancel, done, result := req.r.channel.Query(name, dns.TypeTXT)
	req.trackCancel(cancel)

	req.armTimeout(func() { req.onTimeout() })

	go func() {
		<-done
		msg, err := result()
		req.r.eng.RunLater(func() { req.onDoneInternal(msg, err) })
	}()
}

func (req *TXTRequest) onDoneInternal(msg *dns.Msg, err error) {
	req.mu.Lock()
	defer req.mu.Unlock()
	if !req.finishLocked() {
		return
	}

	if err != nil {
		req.dispatch("", err)
		return
	}
	value, ok := reassembleServiceConfig(dnslib.ParseTXTChunks(msg))
	if !ok {
		req.dispatch("", dnserr.New(dnserr.NotFound, "no grpc_config= TXT record found"))
		return
	}
	req.dispatch(value, nil)
}

// reassembleServiceConfig finds the first TXT record whose chunks begin
// with "grpc_config=" and concatenates its chunks, stripping the prefix.
// The wrapped driver this is grounded on is explicit that when multiple
// qualifying records exist the first one wins; later ones are ignored.
func reassembleServiceConfig(chunks []dnslib.TXTChunk) (string, bool) {
	var (
		building bool
		sb       strings.Builder
		found    bool
	)
	for _, c := range chunks {
		if c.RecordStart {
			if found {
				break
			}
			building = strings.HasPrefix(c.Data, serviceConfigAttributePrefix)
			if building {
				sb.WriteString(strings.TrimPrefix(c.Data, serviceConfigAttributePrefix))
				found = true
				continue
			}
		}
		if building {
			sb.WriteString(c.Data)
		}
	}
	return sb.String(), found
}

func (req *TXTRequest) onTimeout() {
	req.mu.Lock()
	defer req.mu.Unlock()
	if !req.finishLocked() {
		return
	}
	req.cancelQueriesLocked()
	req.dispatch("", dnserr.New(dnserr.DeadlineExceeded, "TXT lookup timed out"))
}

func (req *TXTRequest) dispatch(value string, err error) {
	onDone := req.onDone
	req.r.eng.RunLater(func() { onDone(value, err) })
}

func (req *TXTRequest) finishImmediate(value string, err error) {
	req.mu.Lock()
	req.finished = true
	req.mu.Unlock()
	req.dispatch(value, err)
}
