// Package client is a thin convenience wrapper for CLI tools to call the
// resolver daemon's JSON API over a Unix domain socket. Its methods return
// the DTOs from pkg/api directly, so callers get strongly-typed results
// instead of generic maps.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/aresdns/aresdns/pkg/api"
)

// Client holds an http.Client wired to a Unix socket.
type Client struct {
	hc   *http.Client
	base string // dummy scheme+host for Request.URL (http://unix)
}

// New returns a Client that dials the given Unix-domain socket path.
func New(socketPath string) *Client {
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
	}
	tr := &http.Transport{DialContext: dial}
	return &Client{hc: &http.Client{Transport: tr}, base: "http://unix"}
}

// --------------------------- commands ------------------------------

// LookupHostname resolves host to a sorted list of addresses.
func (c *Client) LookupHostname(ctx context.Context, host, defaultPort string) (api.LookupHostnameResponse, error) {
	var out api.LookupHostnameResponse
	req := api.LookupHostnameRequest{Host: host, DefaultPort: defaultPort}
	err := c.post(ctx, "/v1/lookup/hostname", req, &out)
	return out, err
}

// LookupSRV resolves host's gRPC load balancer SRV record.
func (c *Client) LookupSRV(ctx context.Context, host string) (api.LookupSRVResponse, error) {
	var out api.LookupSRVResponse
	req := api.LookupSRVRequest{Host: host}
	err := c.post(ctx, "/v1/lookup/srv", req, &out)
	return out, err
}

// LookupTXT resolves host's gRPC service config TXT record.
func (c *Client) LookupTXT(ctx context.Context, host string) (api.LookupTXTResponse, error) {
	var out api.LookupTXTResponse
	req := api.LookupTXTRequest{Host: host}
	err := c.post(ctx, "/v1/lookup/txt", req, &out)
	return out, err
}

// Status retrieves the current status of the daemon.
func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.get(ctx, "/v1/status", &out)
	return out, err
}

// --------------------------- HTTP helpers --------------------------

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.base+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
