package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaychat/internal/config"
	"relaychat/internal/relay"
	logx "relaychat/pkg/logx"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestRunEchoesAndRelays(t *testing.T) {
	e, err := relay.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer e.Close()
	_, portStr, _ := net.SplitHostPort(e.Addr().String())
	port, _ := strconv.Atoi(portStr)

	other, err := net.Dial("tcp", e.Addr().String())
	require.NoError(t, err)
	defer other.Close()

	inR, inW := io.Pipe()
	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, inR, out, "127.0.0.1", port, time.Second, logx.Nop()) }()

	require.Eventually(t, func() bool { return e.Peers() == 2 }, 2*time.Second, 5*time.Millisecond)

	_, err = io.WriteString(inW, "\nhello\n")
	require.NoError(t, err)

	_ = other.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := other.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	_, err = other.Write([]byte("back at you"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "You: hello") && strings.Contains(s, "back at you")
	}, 2*time.Second, 5*time.Millisecond)

	_ = inW.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after stdin closed")
	}
}

func TestRunReportsConnectionFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	err = run(context.Background(), strings.NewReader(""), io.Discard, "127.0.0.1", port, time.Second, logx.Nop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection failed")
}

func TestClientDialTimeout(t *testing.T) {
	cfg := config.Defaults()
	d, err := clientDialTimeout(cfg)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, d)

	cfg.Client.DialTimeout = "750ms"
	d, err = clientDialTimeout(cfg)
	require.NoError(t, err)
	require.Equal(t, 750*time.Millisecond, d)

	cfg.Client.DialTimeout = "-1s"
	_, err = clientDialTimeout(cfg)
	require.Error(t, err)
}
