package app

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"relaychat/internal/eventbus"
	"relaychat/internal/relay"
	"relaychat/internal/storage"
	"relaychat/internal/transport"
	logx "relaychat/pkg/logx"
)

type memStore struct {
	mu  sync.Mutex
	evs []storage.PeerEvent
}

func (m *memStore) AppendPeerEvent(_ context.Context, e storage.PeerEvent) error {
	m.mu.Lock()
	m.evs = append(m.evs, e)
	m.mu.Unlock()
	return nil
}

func (m *memStore) RecentPeerEvents(context.Context, int) ([]storage.PeerEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.PeerEvent(nil), m.evs...), nil
}

func (m *memStore) Close() error { return nil }

func TestNoticeSinkAuditsLifecycle(t *testing.T) {
	st := &memStore{}
	s := newNoticeSink(logx.Nop(), st, 100)

	s.Lifecycle(transport.Notice{Kind: transport.EventConnected, Text: "Client connected.", PeerID: "a", Remote: "r"})
	s.Handle(transport.Notice{Kind: transport.EventMessage, Text: "one", PeerID: "a", Bytes: 3})
	s.Lifecycle(transport.Notice{
		Kind: transport.EventDisconnected, Text: "Client disconnected.", PeerID: "a", Remote: "r",
		Messages: 2, Received: 7, Connected: time.Second,
	})

	evs, _ := st.RecentPeerEvents(context.Background(), 0)
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2", len(evs))
	}
	if evs[0].Kind != storage.PeerConnected || evs[1].Kind != storage.PeerDisconnected {
		t.Fatalf("kinds = %s, %s", evs[0].Kind, evs[1].Kind)
	}
	if evs[1].Messages != 2 || evs[1].Bytes != 7 || evs[1].Duration != time.Second {
		t.Fatalf("disconnect row = %+v", evs[1])
	}
}

// slowStore makes every audit write lag so the bus subscriber falls behind.
type slowStore struct {
	memStore
	delay time.Duration
}

func (s *slowStore) AppendPeerEvent(ctx context.Context, e storage.PeerEvent) error {
	time.Sleep(s.delay)
	return s.memStore.AppendPeerEvent(ctx, e)
}

func TestLaggingSinkKeepsEveryDisconnect(t *testing.T) {
	st := &slowStore{delay: 5 * time.Millisecond}
	sink := newNoticeSink(logx.Nop(), st, 100)
	bus := eventbus.New()

	// The bus subscriber stalls until released, so with a one-slot buffer
	// almost every notice is dropped on its way to Handle.
	release := make(chan struct{})
	var once sync.Once
	eng, err := relay.Listen("127.0.0.1:0",
		relay.WithBus(bus),
		relay.WithNoticeBuffer(1),
		relay.WithNoticeHandler(func(n transport.Notice) {
			<-release
			sink.Handle(n)
		}),
		relay.WithLifecycleHandler(sink.Lifecycle),
	)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer func() {
		once.Do(func() { close(release) })
		_ = eng.Close()
	}()

	const clients = 12
	for i := 0; i < clients; i++ {
		c, err := net.DialTimeout("tcp", eng.Addr().String(), time.Second)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		if _, err := c.Write([]byte("hi")); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = c.Close()
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		evs, _ := st.RecentPeerEvents(context.Background(), 0)
		if len(evs) == 2*clients {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit rows = %d, want %d", len(evs), 2*clients)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if bus.Dropped() == 0 {
		t.Fatal("expected the lagging subscriber to drop notices")
	}
	if eng.Peers() != 0 {
		t.Fatalf("peers = %d after every client left", eng.Peers())
	}

	evs, _ := st.RecentPeerEvents(context.Background(), 0)
	gone := 0
	for _, e := range evs {
		if e.Kind == storage.PeerDisconnected {
			gone++
		}
	}
	if gone != clients {
		t.Fatalf("disconnect rows = %d, want %d", gone, clients)
	}
}

func TestNoticeSinkRateLimitsMessageLines(t *testing.T) {
	var out bytes.Buffer
	s := newNoticeSink(logx.NewWriter(&out, "info"), nil, 2)

	for i := 0; i < 10; i++ {
		s.Handle(transport.Notice{Kind: transport.EventMessage, Text: "spam", PeerID: "a", Bytes: 4})
	}
	if got := strings.Count(out.String(), "spam"); got > 3 {
		t.Fatalf("logged %d message lines, want burst-limited", got)
	}
	if s.Suppressed() == 0 {
		t.Fatal("expected suppressed lines")
	}
}

func TestNoticeSinkSilent(t *testing.T) {
	var out bytes.Buffer
	s := newNoticeSink(logx.NewWriter(&out, "info"), nil, -1)
	s.Handle(transport.Notice{Kind: transport.EventMessage, Text: "quiet", PeerID: "a"})
	if strings.Contains(out.String(), "quiet") {
		t.Fatalf("message logged while silenced: %q", out.String())
	}

	s.SetRate(5)
	s.Handle(transport.Notice{Kind: transport.EventMessage, Text: "loud", PeerID: "a"})
	if !strings.Contains(out.String(), "loud") {
		t.Fatalf("message not logged after SetRate: %q", out.String())
	}
}
