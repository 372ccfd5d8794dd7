// Package session is the client side of the stream relay: one connection,
// a background receive loop, and a fire-and-forget Send.
package session

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"relaychat/internal/transport"
	logx "relaychat/pkg/logx"
)

const defaultDialTimeout = 5 * time.Second

type Option func(*Session)

func WithLogger(log logx.Logger) Option { return func(s *Session) { s.log = log } }

// WithDialTimeout bounds resolve+connect. Zero means no bound beyond ctx.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Session) { s.dialTimeout = d }
}

// WithOnMessage installs the inbound handler before the receive loop starts,
// so no chunk can arrive unobserved.
func WithOnMessage(fn func(text string)) Option {
	return func(s *Session) { s.setOnMessage(fn) }
}

// WithOnClose is called once, from the receive loop, when the session ends.
// err is nil after Disconnect and a *transport.TransportError otherwise.
func WithOnClose(fn func(err error)) Option {
	return func(s *Session) { s.onClose = fn }
}

// WithReadSize overrides transport.ClientReadSize.
func WithReadSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.readSize = n
		}
	}
}

// Session is one participant's connection to a relay.
type Session struct {
	log         logx.Logger
	dialTimeout time.Duration
	readSize    int
	onClose     func(error)

	nc        net.Conn
	remote    string
	onMessage atomic.Pointer[func(string)]

	connected  atomic.Bool
	disconnect atomic.Bool
	closeOnce  sync.Once
	wmu        sync.Mutex
	done       chan struct{}
}

// Connect resolves host, opens a stream connection to host:port and starts the
// receive loop. Every failure to get connected is a *transport.ConnectionError.
func Connect(ctx context.Context, host string, port int, opts ...Option) (*Session, error) {
	s := &Session{
		dialTimeout: defaultDialTimeout,
		readSize:    transport.ClientReadSize,
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if port <= 0 || port > 65535 {
		return nil, &transport.ConnectionError{Op: "dial", Addr: addr, Err: &net.AddrError{Err: "invalid port", Addr: strconv.Itoa(port)}}
	}

	d := net.Dialer{Timeout: s.dialTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		op := "dial"
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			op = "resolve"
		}
		return nil, &transport.ConnectionError{Op: op, Addr: addr, Err: err}
	}

	s.nc = nc
	s.remote = nc.RemoteAddr().String()
	s.log = s.log.With(logx.String("comp", "session"), logx.String("remote", s.remote))
	s.connected.Store(true)

	go s.receive()

	s.log.Debug("connected")
	return s, nil
}

// Send writes text verbatim. Empty text is ignored.
func (s *Session) Send(text string) error {
	if text == "" {
		return nil
	}
	if !s.connected.Load() {
		return &transport.TransportError{Op: "send", Peer: s.remote, Err: transport.ErrNotConnected}
	}

	s.wmu.Lock()
	_, err := s.nc.Write([]byte(text))
	s.wmu.Unlock()
	if err != nil {
		return &transport.TransportError{Op: "send", Peer: s.remote, Err: err}
	}
	return nil
}

// OnMessage replaces the inbound handler. A nil fn discards inbound chunks.
func (s *Session) OnMessage(fn func(text string)) { s.setOnMessage(fn) }

func (s *Session) setOnMessage(fn func(string)) {
	if fn == nil {
		s.onMessage.Store(nil)
		return
	}
	s.onMessage.Store(&fn)
}

// Disconnect marks the session not connected and closes the handle; the
// receive loop then exits through its own read failure. Safe to call more
// than once.
func (s *Session) Disconnect() {
	s.disconnect.Store(true)
	s.shutdown()
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		s.connected.Store(false)
		_ = s.nc.Close()
	})
}

func (s *Session) Connected() bool { return s.connected.Load() }

// Remote is the relay address the session is connected to.
func (s *Session) Remote() string { return s.remote }

// Done is closed when the receive loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) receive() {
	defer close(s.done)

	buf := make([]byte, s.readSize)
	var readErr error
	for {
		n, err := s.nc.Read(buf)
		if n > 0 {
			if fn := s.onMessage.Load(); fn != nil {
				(*fn)(string(buf[:n]))
			}
		}
		if err != nil {
			readErr = err
			break
		}
	}

	s.shutdown()

	var closeErr error
	if !s.disconnect.Load() {
		closeErr = &transport.TransportError{Op: "receive", Peer: s.remote, Err: readErr}
		s.log.Warn("connection lost", logx.Err(readErr))
	} else {
		s.log.Debug("disconnected")
	}
	if s.onClose != nil {
		s.onClose(closeErr)
	}
}
