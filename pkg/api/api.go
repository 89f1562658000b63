// Package api exposes a JSON-over-HTTP API for the resolver daemon. It
// listens on a Unix domain socket (path comes from config) and delegates
// all resolution work to internal/dnsdriver.Resolver. No third-party HTTP
// framework is used — just net/http + encoding/json — keeping the binary
// small and dependency-free for the transport layer itself.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aresdns/aresdns/internal/buildinfo"
	"github.com/aresdns/aresdns/internal/dnsdriver"
	"github.com/aresdns/aresdns/internal/dnserr"
	"github.com/aresdns/aresdns/internal/dnslib"
	"github.com/aresdns/aresdns/internal/log"
	"github.com/aresdns/aresdns/internal/socket"
)

// LookupHostnameRequest is a request to resolve a hostname to addresses.
type LookupHostnameRequest struct {
	Host        string `json:"host"`
	DefaultPort string `json:"default_port,omitempty"`
}

// LookupHostnameResponse carries the resolved addresses, in RFC 6724 order.
type LookupHostnameResponse struct {
	Addrs []AddrDTO `json:"addrs"`
}

// AddrDTO is the wire form of an rfc6724.Addr.
type AddrDTO struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

// LookupSRVRequest is a request to resolve a gRPC load balancer's SRV
// record for host.
type LookupSRVRequest struct {
	Host string `json:"host"`
}

// SRVRecordDTO is the wire form of a dnslib.SRVRecord.
type SRVRecordDTO struct {
	Host     string `json:"host"`
	Port     uint16 `json:"port"`
	Priority uint16 `json:"priority"`
	Weight   uint16 `json:"weight"`
}

// LookupSRVResponse carries the resolved SRV records.
type LookupSRVResponse struct {
	Records []SRVRecordDTO `json:"records"`
}

// LookupTXTRequest is a request to resolve a gRPC service config TXT record
// for host.
type LookupTXTRequest struct {
	Host string `json:"host"`
}

// LookupTXTResponse carries the reassembled service config value.
type LookupTXTResponse struct {
	Value string `json:"value"`
}

// StatusResponse represents the server status response.
type StatusResponse struct {
	ActiveSockets int           `json:"active_sockets"`
	Uptime        time.Duration `json:"uptime"`
	Version       string        `json:"version"`
	Commit        string        `json:"commit"`
}

// -------- server -----------------------------------------------------

// Server handles HTTP API requests over a Unix domain socket.
type Server struct {
	resolver *dnsdriver.Resolver
	start    time.Time
	mux      *http.ServeMux
	srv      *http.Server
}

// New creates a new API server backed by resolver.
func New(resolver *dnsdriver.Resolver) *Server {
	s := &Server{
		resolver: resolver,
		start:    time.Now(),
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("/v1/lookup/hostname", s.handleLookupHostname)
	s.mux.HandleFunc("/v1/lookup/srv", s.handleLookupSRV)
	s.mux.HandleFunc("/v1/lookup/txt", s.handleLookupTXT)
	s.mux.HandleFunc("/v1/status", s.handleStatus)

	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe starts the Unix-socket HTTP server.
func (s *Server) ListenAndServe(path string) error {
	ln, err := socket.Listen(path)
	if err != nil {
		return err
	}
	return s.srv.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

func (s *Server) handleLookupHostname(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req LookupHostnameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Host == "" {
		http.Error(w, "host required", http.StatusBadRequest)
		return
	}
	defaultPort := req.DefaultPort
	if defaultPort == "" {
		defaultPort = "443"
	}

	reqID := uuid.NewString()
	log.Debug("api: hostname lookup started", "request_id", reqID, "host", req.Host)
	result, err := awaitHostname(r.Context(), s.resolver, req.Host, defaultPort)
	if err != nil {
		log.Debug("api: hostname lookup failed", "request_id", reqID, "err", err)
		writeLookupError(w, err)
		return
	}
	log.Debug("api: hostname lookup succeeded", "request_id", reqID, "addrs", len(result.Addrs))

	resp := LookupHostnameResponse{Addrs: make([]AddrDTO, len(result.Addrs))}
	for i, a := range result.Addrs {
		resp.Addrs[i] = AddrDTO{IP: a.IP.String(), Port: a.Port}
	}
	writeJSON(w, resp)
}

func (s *Server) handleLookupSRV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req LookupSRVRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Host == "" {
		http.Error(w, "host required", http.StatusBadRequest)
		return
	}

	reqID := uuid.NewString()
	log.Debug("api: SRV lookup started", "request_id", reqID, "host", req.Host)
	records, err := awaitSRV(r.Context(), s.resolver, req.Host)
	if err != nil {
		log.Debug("api: SRV lookup failed", "request_id", reqID, "err", err)
		writeLookupError(w, err)
		return
	}
	log.Debug("api: SRV lookup succeeded", "request_id", reqID, "records", len(records))

	resp := LookupSRVResponse{Records: make([]SRVRecordDTO, len(records))}
	for i, rec := range records {
		resp.Records[i] = SRVRecordDTO{Host: rec.Host, Port: rec.Port, Priority: rec.Priority, Weight: rec.Weight}
	}
	writeJSON(w, resp)
}

func (s *Server) handleLookupTXT(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req LookupTXTRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Host == "" {
		http.Error(w, "host required", http.StatusBadRequest)
		return
	}

	reqID := uuid.NewString()
	log.Debug("api: TXT lookup started", "request_id", reqID, "host", req.Host)
	value, err := awaitTXT(r.Context(), s.resolver, req.Host)
	if err != nil {
		log.Debug("api: TXT lookup failed", "request_id", reqID, "err", err)
		writeLookupError(w, err)
		return
	}
	log.Debug("api: TXT lookup succeeded", "request_id", reqID)
	writeJSON(w, LookupTXTResponse{Value: value})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := StatusResponse{
		ActiveSockets: s.resolver.ActiveSockets(),
		Uptime:        time.Since(s.start),
		Version:       buildinfo.Version,
		Commit:        buildinfo.Commit,
	}
	writeJSON(w, resp)
}

// awaitHostname bridges the resolver's callback-style API to the blocking
// request/response shape an HTTP handler needs, honoring the request's
// context for cancellation.
func awaitHostname(ctx context.Context, resolver *dnsdriver.Resolver, host, defaultPort string) (dnsdriver.HostnameResult, error) {
	type outcome struct {
		result dnsdriver.HostnameResult
		err    error
	}
	ch := make(chan outcome, 1)
	req := resolver.CreateHostnameRequest(host, defaultPort, func(res dnsdriver.HostnameResult, err error) {
		ch <- outcome{res, err}
	})
	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		req.Cancel()
		return dnsdriver.HostnameResult{}, ctx.Err()
	}
}

func awaitSRV(ctx context.Context, resolver *dnsdriver.Resolver, host string) ([]dnslib.SRVRecord, error) {
	type outcome struct {
		records []dnslib.SRVRecord
		err     error
	}
	ch := make(chan outcome, 1)
	req := resolver.CreateSRVRequest(host, func(records []dnslib.SRVRecord, err error) {
		ch <- outcome{records, err}
	})
	select {
	case o := <-ch:
		return o.records, o.err
	case <-ctx.Done():
		req.Cancel()
		return nil, ctx.Err()
	}
}

func awaitTXT(ctx context.Context, resolver *dnsdriver.Resolver, host string) (string, error) {
	type outcome struct {
		value string
		err   error
	}
	ch := make(chan outcome, 1)
	req := resolver.CreateTXTRequest(host, func(value string, err error) {
		ch <- outcome{value, err}
	})
	select {
	case o := <-ch:
		return o.value, o.err
	case <-ctx.Done():
		req.Cancel()
		return "", ctx.Err()
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("encoding response: %v", err), http.StatusInternalServerError)
	}
}

func writeLookupError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch dnserr.Of(err) {
	case dnserr.NotFound:
		status = http.StatusNotFound
	case dnserr.InvalidArgument:
		status = http.StatusBadRequest
	case dnserr.DeadlineExceeded:
		status = http.StatusGatewayTimeout
	case dnserr.Cancelled:
		status = http.StatusRequestTimeout
	}
	http.Error(w, err.Error(), status)
}
