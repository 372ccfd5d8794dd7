package peer

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Conn is the registry's handle to one live stream peer.
type Conn struct {
	id     string
	remote string
	nc     net.Conn

	alive     atomic.Bool
	closeOnce sync.Once
	closeErr  error

	connectedAt time.Time
}

// NewConn wraps nc. The returned Conn is alive until Close.
func NewConn(nc net.Conn) *Conn {
	c := &Conn{
		id:          uuid.NewString(),
		nc:          nc,
		connectedAt: time.Now(),
	}
	if nc != nil && nc.RemoteAddr() != nil {
		c.remote = nc.RemoteAddr().String()
	}
	c.alive.Store(true)
	return c
}

func (c *Conn) ID() string             { return c.id }
func (c *Conn) Remote() string         { return c.remote }
func (c *Conn) Alive() bool            { return c.alive.Load() }
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// Read is a single blocking read on the underlying handle.
func (c *Conn) Read(p []byte) (int, error) { return c.nc.Read(p) }

// write sends p in full. A positive timeout bounds the write; zero means
// block until the peer accepts the bytes or the handle fails.
func (c *Conn) write(p []byte, timeout time.Duration) error {
	if timeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(timeout))
		defer func() { _ = c.nc.SetWriteDeadline(time.Time{}) }()
	}
	_, err := c.nc.Write(p)
	return err
}

// Close marks the connection dead and closes the handle. Safe to call more
// than once; later calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}
