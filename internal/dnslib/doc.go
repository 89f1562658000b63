// Package dnslib is the "wrapped DNS library" collaborator the resolver
// driver (internal/dnsdriver) is built against: a small callback-driven,
// non-blocking DNS engine with its own socket state machine, modeled on
// c-ares' channel/getsock/process contract.
//
// A Channel owns zero or more in-flight queries. Each query owns exactly
// one UDP socket (a PolledFd) at a time, re-homing onto a fresh one when it
// retries against the next configured resolver. dnslib never blocks the
// caller: PolledFd arms its own one-shot readiness wait on a background
// goroutine and posts the query's continuation back through the Scheduler,
// so every completion, retry, and final callback still runs serialized with
// the rest of the owning engine's work. internal/dnsdriver only has to hand
// Channel a name and wait on the done channel Query returns; it does not
// drive socket readiness itself.
//
// Wire encoding and parsing is delegated to github.com/miekg/dns; this
// package owns only the socket I/O, retry, and resolver-selection policy
// around it.
package dnslib
