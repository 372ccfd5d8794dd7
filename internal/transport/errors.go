package transport

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("transport closed")
)

// ConnectionError reports a failure to establish a transport: resolve,
// connect, bind or listen. It is reported once and never retried.
type ConnectionError struct {
	Op   string // "resolve", "dial", "listen"
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Addr == "" {
		return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("connection %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError reports a send or receive failure on an established
// connection. It terminates that connection only.
type TransportError struct {
	Op   string // "send", "receive"
	Peer string
	Err  error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Peer == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Peer, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err carries a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsTransportError reports whether err carries a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
