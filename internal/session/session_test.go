package session

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaychat/internal/relay"
	"relaychat/internal/transport"
)

func startRelay(t *testing.T) (*relay.Engine, string, int) {
	t.Helper()
	e, err := relay.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	host, portStr, err := net.SplitHostPort(e.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return e, host, port
}

type inbox struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *inbox) add(s string) {
	b.mu.Lock()
	b.buf.WriteString(s)
	b.mu.Unlock()
}

func (b *inbox) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSessionsExchangeThroughRelay(t *testing.T) {
	e, host, port := startRelay(t)
	ctx := context.Background()

	var inA, inB inbox
	a, err := Connect(ctx, host, port, WithOnMessage(inA.add))
	require.NoError(t, err)
	defer a.Disconnect()
	b, err := Connect(ctx, host, port, WithOnMessage(inB.add))
	require.NoError(t, err)
	defer b.Disconnect()

	require.Eventually(t, func() bool { return e.Peers() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.True(t, a.Connected())

	require.NoError(t, a.Send("hello"))
	require.Eventually(t, func() bool { return strings.Contains(inB.String(), "hello") }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.NotContains(t, inA.String(), "hello")
}

func TestSendEmptyIsNoop(t *testing.T) {
	_, host, port := startRelay(t)
	s, err := Connect(context.Background(), host, port)
	require.NoError(t, err)
	defer s.Disconnect()
	require.NoError(t, s.Send(""))
}

func TestConnectRefusedIsConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = Connect(context.Background(), "127.0.0.1", port, WithDialTimeout(time.Second))
	require.Error(t, err)
	require.True(t, transport.IsConnectionError(err), "got %T: %v", err, err)
}

func TestConnectInvalidPort(t *testing.T) {
	_, err := Connect(context.Background(), "127.0.0.1", 0)
	require.True(t, transport.IsConnectionError(err))
	_, err = Connect(context.Background(), "127.0.0.1", 70000)
	require.True(t, transport.IsConnectionError(err))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	_, host, port := startRelay(t)
	closed := make(chan error, 2)
	s, err := Connect(context.Background(), host, port, WithOnClose(func(err error) { closed <- err }))
	require.NoError(t, err)

	s.Disconnect()
	s.Disconnect()
	require.False(t, s.Connected())

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not exit")
	}
	require.NoError(t, <-closed)
	require.Len(t, closed, 0)

	err = s.Send("late")
	require.Error(t, err)
	require.True(t, transport.IsTransportError(err))
	require.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestServerGoneEndsSession(t *testing.T) {
	e, host, port := startRelay(t)
	closed := make(chan error, 1)
	s, err := Connect(context.Background(), host, port, WithOnClose(func(err error) { closed <- err }))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.Peers() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.Close())

	select {
	case err := <-closed:
		require.True(t, transport.IsTransportError(err), "got %T: %v", err, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not notice the relay going away")
	}
	require.False(t, s.Connected())
}

func TestOnMessageCanBeReplaced(t *testing.T) {
	e, host, port := startRelay(t)
	ctx := context.Background()

	var first, second inbox
	a, err := Connect(ctx, host, port)
	require.NoError(t, err)
	defer a.Disconnect()
	b, err := Connect(ctx, host, port, WithOnMessage(first.add))
	require.NoError(t, err)
	defer b.Disconnect()
	require.Eventually(t, func() bool { return e.Peers() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.Send("one"))
	require.Eventually(t, func() bool { return strings.Contains(first.String(), "one") }, 2*time.Second, 5*time.Millisecond)

	b.OnMessage(second.add)
	require.NoError(t, a.Send("two"))
	require.Eventually(t, func() bool { return strings.Contains(second.String(), "two") }, 2*time.Second, 5*time.Millisecond)
	require.NotContains(t, first.String(), "two")
}
