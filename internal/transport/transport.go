// Package transport is the byte-stream socket layer used by the chat server
// and client. Operations report a Status instead of failing so that the
// event loop can tell "no data right now" apart from a dead peer.
package transport

import (
	"errors"
	"fmt"
)

var (
	ErrClosed      = errors.New("transport: socket closed")
	ErrInvalidPort = errors.New("transport: invalid port")
	ErrInvalidHost = errors.New("transport: invalid host")
)

// Status is the outcome of a socket operation
type Status int

const (
	StatusOK Status = iota
	StatusWouldBlock
	StatusClosed
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWouldBlock:
		return "WOULD_BLOCK"
	case StatusClosed:
		return "CLOSED"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Result reports a status and the number of bytes moved. Err is set for
// StatusError.
type Result struct {
	Status Status
	N      int
	Err    error
}

// OK reports whether the operation fully succeeded
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Stream is a connected byte stream
type Stream interface {
	// Send writes all of p or reports why it could not
	Send(p []byte) Result
	// Receive reads at most len(p) bytes
	Receive(p []byte) Result
	SetNonBlocking(nonBlocking bool) error
	// Shutdown stops both directions without releasing the descriptor,
	// waking any goroutine blocked in Receive.
	Shutdown() error
	Close() error
	FD() int
}

// Listener accepts incoming streams
type Listener interface {
	// Accept returns StatusWouldBlock when no connection is pending in
	// non-blocking mode
	Accept() (Stream, Result)
	SetNonBlocking(nonBlocking bool) error
	Addr() string
	Close() error
	FD() int
}

func validatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return nil
}
