package relay

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"relaychat/internal/eventbus"
	"relaychat/internal/peer"
	"relaychat/internal/transport"
	logx "relaychat/pkg/logx"
)

// Recorder receives relay measurements. Implementations must be safe for
// concurrent use; calls happen on connection goroutines.
type Recorder interface {
	PeerConnected()
	PeerDisconnected()
	MessageRelayed(bytes, delivered, failed int, took time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) PeerConnected()                           {}
func (nopRecorder) PeerDisconnected()                        {}
func (nopRecorder) MessageRelayed(int, int, int, time.Duration) {}

type Option func(*Engine)

func WithLogger(log logx.Logger) Option { return func(e *Engine) { e.log = log } }

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.rec = r
		}
	}
}

// WithBus publishes notices on an existing bus instead of a private one.
func WithBus(b eventbus.Bus) Option {
	return func(e *Engine) {
		if b != nil {
			e.bus = b
		}
	}
}

// WithReadSize overrides transport.ServerReadSize.
func WithReadSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.readSize = n
		}
	}
}

// WithWriteTimeout bounds each per-peer write during a broadcast. Zero, the
// default, lets a slow peer hold up the whole broadcast.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Engine) { e.writeTimeout = d }
}

// WithNoticeBuffer sets how many notices a subscriber may lag behind before
// the bus starts dropping them for it.
func WithNoticeBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.noticeBuf = n
		}
	}
}

// WithLifecycleHandler calls fn with every Connected and Disconnected notice
// on the connection's own goroutine, bypassing the bus, so none is ever
// dropped. fn holds up only that connection: Connected runs before its first
// read and Disconnected after it has left the registry.
func WithLifecycleHandler(fn func(transport.Notice)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.lifecycle = append(e.lifecycle, fn)
		}
	}
}

// WithNoticeHandler subscribes fn before the accept loop starts, so it sees
// every notice including the first connections.
func WithNoticeHandler(fn func(transport.Notice)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.early = append(e.early, fn)
		}
	}
}

// Engine owns one listener and the Registry of peers accepted on it.
type Engine struct {
	log          logx.Logger
	rec          Recorder
	bus          eventbus.Bus
	readSize     int
	noticeBuf    int
	writeTimeout time.Duration
	early        []func(transport.Notice)
	lifecycle    []func(transport.Notice)

	reg *peer.Registry
	ln  net.Listener

	// handles tracks every open connection for Close. It has its own lock
	// because the registry lock may be held by a broadcast stuck on a write.
	hmu     sync.Mutex
	handles map[*peer.Conn]struct{}

	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	stopping  chan struct{}
	done      chan struct{}

	smu        sync.Mutex
	subs       []*subscription
	subsClosed bool
}

// StartServer listens on every interface at port and starts accepting.
func StartServer(port int, opts ...Option) (*Engine, error) {
	return Listen(net.JoinHostPort("", strconv.Itoa(port)), opts...)
}

// Listen binds addr ("host:port") and starts the accept loop.
// Bind and listen failures are returned as *transport.ConnectionError.
func Listen(addr string, opts ...Option) (*Engine, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &transport.ConnectionError{Op: "listen", Addr: addr, Err: err}
	}
	return Serve(ln, opts...), nil
}

// Serve runs the engine on an already bound listener, which it then owns.
func Serve(ln net.Listener, opts ...Option) *Engine {
	e := &Engine{
		rec:       nopRecorder{},
		readSize:  transport.ServerReadSize,
		noticeBuf: noticeBuffer,
		reg:       peer.NewRegistry(),
		handles:   map[*peer.Conn]struct{}{},
		ln:        ln,
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.bus == nil {
		e.bus = eventbus.New()
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	e.log = e.log.With(logx.String("comp", "relay"))
	e.reg.SetWriteTimeout(e.writeTimeout)

	for _, fn := range e.early {
		e.subscribe(fn)
	}

	e.wg.Add(1)
	go e.acceptLoop()

	e.emit(transport.Notice{Kind: transport.EventListening, Text: "Server started.", Remote: ln.Addr().String()})
	e.log.Info("relay listening", logx.String("addr", ln.Addr().String()), logx.Int("read_size", e.readSize), logx.Duration("write_timeout", e.writeTimeout))
	return e
}

func (e *Engine) Addr() net.Addr           { return e.ln.Addr() }
func (e *Engine) Registry() *peer.Registry { return e.reg }
func (e *Engine) Peers() int               { return e.reg.Len() }

// Done is closed once Close has finished tearing the engine down.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Broadcast relays msg to every registered peer except exclude.
func (e *Engine) Broadcast(msg []byte, exclude *peer.Conn) peer.Result {
	start := time.Now()
	res := e.reg.Broadcast(msg, exclude)
	for _, f := range res.Failed {
		e.log.Warn("peer write failed", logx.String("peer", f.Conn.ID()), logx.String("remote", f.Conn.Remote()), logx.Err(f.Err))
	}
	if len(msg) > 0 {
		e.rec.MessageRelayed(len(msg), res.Delivered, len(res.Failed), time.Since(start))
	}
	return res
}

func (e *Engine) acceptLoop() {
	defer e.wg.Done()

	var backoff time.Duration
	for {
		nc, err := e.ln.Accept()
		if err != nil {
			if e.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			// Anything else (EMFILE, ECONNABORTED, ENOBUFS, timeouts) is
			// transient; only Close ends the loop.
			backoff = nextBackoff(backoff)
			e.log.Warn("accept failed; retrying", logx.Err(err), logx.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-e.stopping:
				return
			}
			continue
		}
		backoff = 0

		c := peer.NewConn(nc)
		if !e.track(c) {
			// Close won the race; the handle never reaches the registry.
			_ = c.Close()
			return
		}
		e.reg.Register(c)
		e.rec.PeerConnected()

		e.wg.Add(1)
		go e.serve(c)
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur == 0 {
		return 5 * time.Millisecond
	}
	cur *= 2
	if cur > time.Second {
		cur = time.Second
	}
	return cur
}

// serve is the per-connection routine: read, broadcast, repeat until the
// read fails, then remove and close itself.
func (e *Engine) serve(c *peer.Conn) {
	defer e.wg.Done()

	e.announce(transport.Notice{Kind: transport.EventConnected, Text: "Client connected.", PeerID: c.ID(), Remote: c.Remote()})
	e.log.Debug("peer connected", logx.String("peer", c.ID()), logx.String("remote", c.Remote()), logx.Int("peers", e.reg.Len()))

	buf := make([]byte, e.readSize)
	var (
		readErr  error
		messages int64
		total    int64
	)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			messages++
			total += int64(n)
			chunk := buf[:n]
			res := e.Broadcast(chunk, c)
			e.emit(transport.Notice{
				Kind:       transport.EventMessage,
				Text:       string(chunk),
				PeerID:     c.ID(),
				Remote:     c.Remote(),
				Bytes:      n,
				Recipients: res.Delivered,
			})
		}
		if err != nil {
			readErr = err
			break
		}
	}

	e.reg.Unregister(c)
	_ = c.Close()
	e.untrack(c)
	e.rec.PeerDisconnected()

	took := time.Since(c.ConnectedAt())
	e.log.Debug("peer disconnected",
		logx.String("peer", c.ID()),
		logx.String("remote", c.Remote()),
		logx.Duration("connected_for", took),
		logx.String("reason", readErr.Error()),
	)
	e.announce(transport.Notice{
		Kind:      transport.EventDisconnected,
		Text:      "Client disconnected.",
		PeerID:    c.ID(),
		Remote:    c.Remote(),
		Messages:  messages,
		Received:  total,
		Connected: took,
	})
}

func (e *Engine) track(c *peer.Conn) bool {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	if e.closed.Load() {
		return false
	}
	e.handles[c] = struct{}{}
	return true
}

func (e *Engine) untrack(c *peer.Conn) {
	e.hmu.Lock()
	delete(e.handles, c)
	e.hmu.Unlock()
}

// Close stops accepting and closes every open connection. It waits for the
// connection goroutines to exit and then for notice handlers to drain.
// Safe to call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.stopping)
		e.hmu.Lock()
		e.closed.Store(true)
		open := make([]*peer.Conn, 0, len(e.handles))
		for c := range e.handles {
			open = append(open, c)
		}
		e.hmu.Unlock()

		err = e.ln.Close()
		for _, c := range open {
			_ = c.Close()
		}
		e.wg.Wait()

		e.smu.Lock()
		subs := e.subs
		e.subs = nil
		e.subsClosed = true
		e.smu.Unlock()
		for _, s := range subs {
			s.stop()
		}
		e.log.Info("relay stopped", logx.Int("closed_peers", len(open)))
		close(e.done)
	})
	return err
}
