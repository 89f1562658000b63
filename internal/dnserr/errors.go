// Package dnserr defines the small error taxonomy shared by the resolver
// driver and the library it wraps: InvalidArgument, Internal, NotFound,
// Unknown, Cancelled, and DeadlineExceeded. Every error surfaced across a
// package boundary in this module carries one of these codes so callers can
// branch on Code(err) instead of string-matching.
package dnserr

import (
	"errors"
	"fmt"
)

// Code classifies why a resolver operation failed.
type Code int

const (
	// Unknown is the zero value: a failure with no more specific code.
	Unknown Code = iota
	// InvalidArgument means the caller supplied an unparseable or
	// incomplete name, port, or DNS-server override.
	InvalidArgument
	// Internal means library/channel construction itself failed.
	Internal
	// NotFound means the wrapped library reported no records for a query.
	NotFound
	// Cancelled means a query was cancelled. A request's own Cancel never
	// surfaces it through the request's callback; Resolver.Shutdown, which
	// cancels the channel under every in-flight request, does.
	Cancelled
	// DeadlineExceeded means a deadline fired before a reply arrived,
	// either the whole request's query_timeout or, if retries ran out
	// first, one wire attempt's own shorter per-attempt timeout.
	DeadlineExceeded
)

func (c Code) String() string {
	switch c {
	case InvalidArgument:
		return "InvalidArgument"
	case Internal:
		return "Internal"
	case NotFound:
		return "NotFound"
	case Cancelled:
		return "Cancelled"
	case DeadlineExceeded:
		return "DeadlineExceeded"
	default:
		return "Unknown"
	}
}

type codedError struct {
	code Code
	msg  string
	err  error
}

func (e *codedError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

func (e *codedError) Unwrap() error { return e.err }

// New builds an error carrying code, with no wrapped cause.
func New(code Code, msg string) error {
	return &codedError{code: code, msg: msg}
}

// Wrap builds an error carrying code that wraps cause.
func Wrap(code Code, msg string, cause error) error {
	return &codedError{code: code, msg: msg, err: cause}
}

// Of reports the Code carried by err, or Unknown if err does not carry one.
func Of(err error) Code {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return Unknown
}

// Is reports whether err (or something it wraps) carries code.
func Is(err error, code Code) bool {
	return Of(err) == code
}
