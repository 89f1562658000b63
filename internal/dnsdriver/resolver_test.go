package dnsdriver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/aresdns/aresdns/internal/dnserr"
	"github.com/aresdns/aresdns/internal/dnslib"
	"github.com/aresdns/aresdns/internal/engine"
)

// fakeServer answers A/AAAA/SRV/TXT queries from canned data, simulating a
// resolver well enough to exercise the driver's fan-out and parsing without
// reaching out to a real network.
type fakeServer struct {
	conn    net.PacketConn
	answers map[uint16][]dns.RR // keyed by qtype
	delay   time.Duration
}

func startFakeServer(t *testing.T, answers map[uint16][]dns.RR) *fakeServer {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{conn: conn, answers: answers}
	go s.serve()
	return s
}

func (s *fakeServer) serve() {
	buf := make([]byte, dns.DefaultMsgSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		req := new(dns.Msg)
		if err := req.Unpack(buf[:n]); err != nil {
			continue
		}
		resp := new(dns.Msg)
		resp.SetReply(req)
		if len(req.Question) == 1 {
			resp.Answer = s.answers[req.Question[0].Qtype]
		}
		out, err := resp.Pack()
		if err != nil {
			continue
		}
		if _, err := s.conn.WriteTo(out, addr); err != nil {
			return
		}
	}
}

func (s *fakeServer) addr() string { return s.conn.LocalAddr().String() }
func (s *fakeServer) close()       { _ = s.conn.Close() }

func startEngine(t *testing.T) (*engine.Engine, func()) {
	t.Helper()
	eng := engine.New()
	ctx, cancel := context.WithCancel(context.Background())
	eng.Run(ctx)
	return eng, func() { cancel(); eng.Close() }
}

// fakeClock is a synchronous, single-threaded stand-in for *engine.Engine:
// RunLater runs its callback inline on the calling goroutine instead of
// posting it across the real engine's channel, making completion order
// deterministic for cancellation-race assertions. RunAfter/Cancel delegate
// to a real engine so timers stay genuine (there is no faking a timer
// without one). Because RunLater runs inline, a callback posted while a
// request's own mutex is held must never call back into that request —
// none of the driver's production callbacks do.
type fakeClock struct {
	real *engine.Engine
}

func startFakeClock(t *testing.T) *fakeClock {
	t.Helper()
	eng, stop := startEngine(t)
	t.Cleanup(stop)
	return &fakeClock{real: eng}
}

func (f *fakeClock) RunLater(fn func())                               { fn() }
func (f *fakeClock) RunAfter(d time.Duration, fn func()) engine.Handle { return f.real.RunAfter(d, fn) }
func (f *fakeClock) Cancel(h engine.Handle) bool                       { return f.real.Cancel(h) }

func aRecord(name string, ip net.IP) dns.RR {
	return &dns.A{Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60}, A: ip}
}

func aaaaRecord(name string, ip net.IP) dns.RR {
	return &dns.AAAA{Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 60}, AAAA: ip}
}

func TestHostnameRequestMergesAAndAAAA(t *testing.T) {
	srv := startFakeServer(t, map[uint16][]dns.RR{
		dns.TypeA:    {aRecord("example.com.", net.ParseIP("10.0.0.1"))},
		dns.TypeAAAA: {aaaaRecord("example.com.", net.ParseIP("2001:db8::1"))},
	})
	defer srv.close()

	eng, stop := startEngine(t)
	defer stop()

	r, err := New(eng, NewOptions(Options{Servers: []string{srv.addr()}, Retries: 0}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	var got HostnameResult
	var gotErr error
	r.CreateHostnameRequest("example.com", "443", func(res HostnameResult, err error) {
		got, gotErr = res, err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hostname request never completed")
	}

	if gotErr != nil {
		t.Fatalf("expected success, got %v", gotErr)
	}
	if len(got.Addrs) != 2 {
		t.Fatalf("expected 2 merged addresses, got %d: %+v", len(got.Addrs), got.Addrs)
	}
	for _, a := range got.Addrs {
		if a.Port != 443 {
			t.Errorf("expected default port 443 applied to %v, got %d", a.IP, a.Port)
		}
	}
}

func TestHostnameRequestIPLiteralShortCircuits(t *testing.T) {
	eng, stop := startEngine(t)
	defer stop()

	r, err := New(eng, NewOptions(Options{Servers: []string{"127.0.0.1:1"}}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	var got HostnameResult
	r.CreateHostnameRequest("192.0.2.5:8080", "443", func(res HostnameResult, err error) {
		if err != nil {
			t.Errorf("expected no error for literal, got %v", err)
		}
		got = res
		close(done)
	})

	<-done
	if len(got.Addrs) != 1 || !got.Addrs[0].IP.Equal(net.ParseIP("192.0.2.5")) {
		t.Fatalf("expected the literal address back unchanged, got %+v", got.Addrs)
	}
	if got.Addrs[0].Port != 8080 {
		t.Errorf("expected port from the literal's own host:port, got %d", got.Addrs[0].Port)
	}
}

func TestHostnameRequestPartialFailureStillSucceeds(t *testing.T) {
	srv := startFakeServer(t, map[uint16][]dns.RR{
		dns.TypeA: {aRecord("example.com.", net.ParseIP("10.0.0.1"))},
		// No AAAA records -> NOERROR reply with an empty answer section
	})
	defer srv.close()

	eng, stop := startEngine(t)
	defer stop()

	r, err := New(eng, NewOptions(Options{Servers: []string{srv.addr()}, Retries: 0}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	var got HostnameResult
	var gotErr error
	r.CreateHostnameRequest("example.com", "80", func(res HostnameResult, err error) {
		got, gotErr = res, err
		close(done)
	})

	<-done
	if gotErr != nil {
		t.Fatalf("expected partial success to be reported as success, got %v", gotErr)
	}
	if len(got.Addrs) != 1 {
		t.Fatalf("expected 1 address from the successful A query, got %d", len(got.Addrs))
	}
}

func TestHostnameRequestCancel(t *testing.T) {
	srv := startFakeServer(t, map[uint16][]dns.RR{
		dns.TypeA: {aRecord("example.com.", net.ParseIP("10.0.0.1"))},
	})
	srv.delay = 500 * time.Millisecond
	defer srv.close()

	// A fakeClock removes the real engine's own posting goroutine from the
	// picture, so the only reason left to wait past srv.delay is to prove
	// the slow reply itself — once it finally arrives at the already-shut-
	// down socket — still can't reach onDone.
	clk := startFakeClock(t)

	r, err := New(clk, NewOptions(Options{Servers: []string{srv.addr()}, Retries: 0}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var calls int
	req := r.CreateHostnameRequest("example.com", "80", func(res HostnameResult, err error) {
		calls++
	})
	if !req.Cancel() {
		t.Fatal("expected the first Cancel to report it performed the cancellation")
	}
	if req.Cancel() {
		t.Fatal("expected a second Cancel on an already-finished request to report false")
	}

	// Give the delayed reply time to arrive; onDone must never fire for a
	// cancelled request, cancellation is silent.
	time.Sleep(600 * time.Millisecond)
	if calls != 0 {
		t.Fatalf("expected onDone to never be invoked after Cancel, got %d calls", calls)
	}
}

// startSilentServer listens but never answers, simulating a resolver that
// drops every query on the floor. It exists to drive a request's own
// deadline timer without racing a real reply.
func startSilentServer(t *testing.T) *fakeServer {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{conn: conn}
	go func() {
		buf := make([]byte, dns.DefaultMsgSize)
		for {
			if _, _, err := s.conn.ReadFrom(buf); err != nil {
				return
			}
		}
	}()
	return s
}

func TestHostnameRequestTimeoutCarriesDeadline(t *testing.T) {
	srv := startSilentServer(t)
	defer srv.close()

	clk := startFakeClock(t)
	r, err := New(clk, NewOptions(Options{Servers: []string{srv.addr()}, QueryTimeout: 50 * time.Millisecond, Retries: 0}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	var gotErr error
	r.CreateHostnameRequest("example.com", "80", func(_ HostnameResult, err error) {
		gotErr = err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hostname request never timed out")
	}
	if dnserr.Of(gotErr) != dnserr.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", gotErr)
	}
}

func TestSRVRequestTimeoutCarriesDeadline(t *testing.T) {
	srv := startSilentServer(t)
	defer srv.close()

	clk := startFakeClock(t)
	r, err := New(clk, NewOptions(Options{Servers: []string{srv.addr()}, QueryTimeout: 50 * time.Millisecond, Retries: 0}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	var gotErr error
	r.CreateSRVRequest("example.com", func(_ []dnslib.SRVRecord, err error) {
		gotErr = err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SRV request never timed out")
	}
	if dnserr.Of(gotErr) != dnserr.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", gotErr)
	}
}

func TestTXTRequestTimeoutCarriesDeadline(t *testing.T) {
	srv := startSilentServer(t)
	defer srv.close()

	clk := startFakeClock(t)
	r, err := New(clk, NewOptions(Options{Servers: []string{srv.addr()}, QueryTimeout: 50 * time.Millisecond, Retries: 0}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	var gotErr error
	r.CreateTXTRequest("example.com", func(_ string, err error) {
		gotErr = err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("TXT request never timed out")
	}
	if dnserr.Of(gotErr) != dnserr.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", gotErr)
	}
}

func TestResolverBackupPollReArmsAndStopsOnShutdown(t *testing.T) {
	clk := startFakeClock(t)
	r, err := New(clk, NewOptions(Options{Servers: []string{"127.0.0.1:1"}, BackupPollInterval: time.Hour}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first := r.backupPoll
	r.runBackupPoll()
	second := r.backupPoll
	if second == first {
		t.Fatal("expected runBackupPoll to re-arm itself with a fresh handle")
	}
	if !second.Valid() {
		t.Fatal("expected the re-armed backup poll handle to be valid")
	}

	r.Shutdown()
	stopped := r.backupPoll
	r.runBackupPoll()
	if r.backupPoll != stopped {
		t.Fatal("expected runBackupPoll to be a no-op once the resolver is shut down")
	}
}

func TestResolverBackupPollReconcilesActiveSocket(t *testing.T) {
	srv := startFakeServer(t, map[uint16][]dns.RR{
		dns.TypeA: {aRecord("example.com.", net.ParseIP("10.0.0.1"))},
	})
	srv.delay = 200 * time.Millisecond
	defer srv.close()

	clk := startFakeClock(t)
	r, err := New(clk, NewOptions(Options{Servers: []string{srv.addr()}, BackupPollInterval: time.Hour, Retries: 0}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	r.CreateHostnameRequest("example.com", "80", func(_ HostnameResult, _ error) {
		close(done)
	})

	r.runBackupPoll()
	if r.ActiveSockets() == 0 {
		t.Fatal("expected the backup poll to reconcile the in-flight query's socket into the FdSet")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hostname request never completed")
	}
}

func TestSRVRequestResolvesLoadBalancerName(t *testing.T) {
	srv := startFakeServer(t, map[uint16][]dns.RR{
		dns.TypeSRV: {&dns.SRV{
			Hdr:      dns.RR_Header{Name: "_grpclb._tcp.example.com.", Rrtype: dns.TypeSRV},
			Priority: 0, Weight: 0, Port: 50051, Target: "lb.example.com.",
		}},
	})
	defer srv.close()

	eng, stop := startEngine(t)
	defer stop()

	r, err := New(eng, NewOptions(Options{Servers: []string{srv.addr()}, Retries: 0}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	var gotErr error
	var got []dnslib.SRVRecord
	r.CreateSRVRequest("example.com", func(recs []dnslib.SRVRecord, err error) {
		got, gotErr = recs, err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SRV request never completed")
	}
	if gotErr != nil {
		t.Fatalf("expected success, got %v", gotErr)
	}
	if len(got) != 1 || got[0].Host != "lb.example.com" || got[0].Port != 50051 {
		t.Fatalf("unexpected SRV records: %+v", got)
	}
}

func TestSRVRequestSkipsLoopback(t *testing.T) {
	eng, stop := startEngine(t)
	defer stop()

	r, err := New(eng, NewOptions(Options{Servers: []string{"127.0.0.1:1"}}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	var gotErr error
	r.CreateSRVRequest("localhost", func(_ []dnslib.SRVRecord, err error) {
		gotErr = err
		close(done)
	})
	<-done
	if dnserr.Of(gotErr) != dnserr.NotFound {
		t.Fatalf("expected NotFound for loopback host, got %v", gotErr)
	}
}
