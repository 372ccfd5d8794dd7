package peer

import (
	"sync"
	"time"
)

// WriteFailure records one peer write that failed during a broadcast.
// The peer stays registered; only its own receive loop removes it.
type WriteFailure struct {
	Conn *Conn
	Err  error
}

// Result summarizes one Broadcast call.
type Result struct {
	Delivered int
	Failed    []WriteFailure
}

type Registry struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}

	// writeTimeout bounds each per-peer write; zero blocks indefinitely.
	writeTimeout time.Duration
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Conn]struct{})}
}

// SetWriteTimeout changes the per-peer write bound for later broadcasts.
func (r *Registry) SetWriteTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	r.mu.Lock()
	r.writeTimeout = d
	r.mu.Unlock()
}

func (r *Registry) WriteTimeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeTimeout
}

// Register adds c. Registering the same Conn twice keeps a single entry.
func (r *Registry) Register(c *Conn) {
	if c == nil {
		return
	}
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
}

// Unregister removes c and reports whether it was present.
func (r *Registry) Unregister(c *Conn) bool {
	if c == nil {
		return false
	}
	r.mu.Lock()
	_, ok := r.conns[c]
	delete(r.conns, c)
	r.mu.Unlock()
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	n := len(r.conns)
	r.mu.Unlock()
	return n
}

// Contains reports whether c is registered.
func (r *Registry) Contains(c *Conn) bool {
	r.mu.Lock()
	_, ok := r.conns[c]
	r.mu.Unlock()
	return ok
}

// Snapshot returns the registered connections in no particular order.
func (r *Registry) Snapshot() []*Conn {
	r.mu.Lock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	r.mu.Unlock()
	return out
}

// Broadcast writes msg to every registered connection except exclude.
//
// The registry mutex is held for the whole fan-out, so membership cannot
// change mid-scan and concurrent broadcasts are serialized. Write errors are
// collected, never acted on.
func (r *Registry) Broadcast(msg []byte, exclude *Conn) Result {
	var res Result
	if len(msg) == 0 {
		return res
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.conns {
		if c == exclude {
			continue
		}
		if err := c.write(msg, r.writeTimeout); err != nil {
			res.Failed = append(res.Failed, WriteFailure{Conn: c, Err: err})
			continue
		}
		res.Delivered++
	}
	return res
}
