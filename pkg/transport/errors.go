package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrorKind classifies a transport failure. It is the only failure
// description that leaves this package; callers never look at error text.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindRefused
	KindTCPTimeout
	KindAuthFailed
	KindKeyLength
	KindUnreachable
	KindPatternNotDetected
)

func (k ErrorKind) String() string {
	switch k {
	case KindRefused:
		return "connection refused"
	case KindTCPTimeout:
		return "tcp timeout"
	case KindAuthFailed:
		return "authentication failed"
	case KindKeyLength:
		return "unsupported key length"
	case KindUnreachable:
		return "unreachable or unsupported device"
	case KindPatternNotDetected:
		return "pattern not detected"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failure of this kind on the primary protocol
// warrants one attempt over the fallback protocol.
func (k ErrorKind) Retryable() bool {
	return k == KindRefused || k == KindTCPTimeout || k == KindKeyLength
}

// Error is the structured failure returned by dialers and sessions.
type Error struct {
	Kind     ErrorKind
	Protocol Protocol
	Address  string
	Err      error
}

func (e *Error) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("transport: %s %s via %s: %v", e.Kind, e.Address, e.Protocol, e.Err)
	}
	return fmt.Sprintf("transport: %s via %s: %v", e.Kind, e.Protocol, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a transport error anywhere in err's chain,
// or KindUnknown when err carries no transport classification.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// classify maps a low-level dial or handshake failure onto an ErrorKind.
// x/crypto/ssh reports authentication and algorithm negotiation failures
// only as formatted errors, so those two cases match on message text here,
// at the boundary, and nowhere else.
func classify(proto Protocol, address string, err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	e := &Error{Kind: KindUnknown, Protocol: proto, Address: address, Err: err}

	var ne net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		e.Kind = KindRefused
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		e.Kind = KindTCPTimeout
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.EOF):
		e.Kind = KindUnreachable
	default:
		msg := err.Error()
		switch {
		case strings.Contains(msg, "unable to authenticate"):
			e.Kind = KindAuthFailed
		case strings.Contains(msg, "no common algorithm"),
			strings.Contains(msg, "insecure"),
			strings.Contains(msg, "key size"):
			e.Kind = KindKeyLength
		}
	}
	return e
}
