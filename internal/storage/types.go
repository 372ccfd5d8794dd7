package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file, no database needed
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type EventKind string

const (
	PeerConnected    EventKind = "connected"
	PeerDisconnected EventKind = "disconnected"
)

// PeerEvent is one audit row. Messages, Bytes and Duration are only set on
// disconnect and cover the whole connection.
type PeerEvent struct {
	At       time.Time     `json:"at"`
	Kind     EventKind     `json:"kind"`
	PeerID   string        `json:"peer_id"`
	Remote   string        `json:"remote"`
	Messages int64         `json:"messages,omitempty"`
	Bytes    int64         `json:"bytes,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}
