// Package dnsdriver implements the asynchronous DNS resolution state
// machine that sits between a caller and internal/dnslib's channel: it owns
// per-lookup timeout and fan-out policy, while dnslib owns the socket
// plumbing, per-attempt retries, and wire codec.
//
// A Resolver is built once per event loop (internal/engine.Engine) and
// issues HostnameRequest, SRVRequest, and TXTRequest values, mirroring the
// three lookup shapes the wrapped c-ares-style driver exposes: hostname
// resolution fans out A and AAAA queries and merges + sorts the combined
// address list per RFC 6724; SRV resolution targets a gRPC load-balancer's
// conventional "_grpclb._tcp.<host>" name; TXT resolution targets
// "_grpc_config.<host>" and reassembles a value the authoritative server
// split across the strings of a single TXT record.
//
// Every request type follows the same life cycle: Start arms the query (or
// queries) and a query_timeout, the completion callback runs once on the
// owning engine, and Cancel — callable at any point up to completion —
// aborts the outstanding queries silently: the callback is never invoked
// for a request that Cancel finished. A request's callback never fires more
// than once, and never fires synchronously from inside Start or Cancel.
package dnsdriver
