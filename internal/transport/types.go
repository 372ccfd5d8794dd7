// Package transport holds what the stream server and the stream client share:
// the wire read sizes and the error taxonomy surfaced to the presentation layer.
package transport

import "time"

// The stream transport has no framing. A message boundary is whatever one
// read call returns, so these sizes are the only "message length" there is.
const (
	// ServerReadSize is the largest chunk the relay reads from a peer at once.
	ServerReadSize = 511
	// ClientReadSize is the largest chunk a session reads from the relay at once.
	ClientReadSize = 512
)

// MaxInputLen caps what the terminal client accepts per line before Send.
const MaxInputLen = 255

// EventKind classifies an engine notice.
type EventKind string

const (
	EventListening    EventKind = "listening"
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventMessage      EventKind = "message"
)

// Notice is what the engine reports to OnEvent subscribers.
//
// Text is the human-readable server log line
// ("Client connected.", the relayed chunk, ...).
type Notice struct {
	Kind   EventKind
	Text   string
	PeerID string
	Remote string
	Bytes  int
	// Recipients is the number of peers the chunk was written to (message only).
	Recipients int

	// Disconnected only: what the connection sent over its lifetime and how
	// long it stayed.
	Messages  int64
	Received  int64
	Connected time.Duration
}
