package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrorKind is a closed classification of transport-level failures. Every
// socket error the Connection can observe maps to exactly one kind; the kind
// decides policy (only Refused is retryable).
type ErrorKind int

const (
	// Refused: the connection was refused by the peer. The usual cause is a
	// backend process that has not bound its listening socket yet, so this
	// kind is retried with backoff.
	Refused ErrorKind = iota
	// RemoteClosed: the remote host closed the connection mid-exchange.
	RemoteClosed
	// HostNotFound: the host address was not found.
	HostNotFound
	// PermissionDenied: the operation failed for lack of privileges.
	PermissionDenied
	// ResourceExhausted: the local system ran out of resources, e.g. too
	// many open sockets.
	ResourceExhausted
	// Timeout: the socket operation timed out, including a per-request
	// deadline expiring.
	Timeout
	// DatagramTooLarge: the message exceeded the operating system's limit.
	DatagramTooLarge
	// NetworkError: the network itself failed, e.g. interface down.
	NetworkError
	// Unknown: an unidentified error occurred.
	Unknown
)

var errorKindNames = map[ErrorKind]string{
	Refused:           "connection refused",
	RemoteClosed:      "remote host closed the connection",
	HostNotFound:      "host address not found",
	PermissionDenied:  "permission denied",
	ResourceExhausted: "local resources exhausted",
	Timeout:           "socket operation timed out",
	DatagramTooLarge:  "datagram too large",
	NetworkError:      "network error",
	Unknown:           "unidentified error",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return "unidentified error"
}

// Error is a transport failure tagged with its kind. It wraps the
// underlying error for errors.Is/As chains.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify wraps err in an *Error with the matching kind. A nil err returns
// nil. An err that is already an *Error is returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: kindOf(err), Err: err}
}

func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return Refused
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return RemoteClosed
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return PermissionDenied
	case errors.Is(err, syscall.EMFILE),
		errors.Is(err, syscall.ENFILE),
		errors.Is(err, syscall.ENOBUFS):
		return ResourceExhausted
	case errors.Is(err, syscall.EMSGSIZE):
		return DatagramTooLarge
	case errors.Is(err, syscall.ENETDOWN),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.EHOSTDOWN):
		return NetworkError
	case errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded):
		return Timeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return HostNotFound
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	return Unknown
}
