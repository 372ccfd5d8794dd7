//go:build unix

package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaychat/internal/ring"
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

type participant struct {
	in   *io.PipeWriter
	out  *syncBuffer
	done chan error
}

func launch(ctx context.Context, t *testing.T, o options) *participant {
	t.Helper()
	r, w := io.Pipe()
	p := &participant{in: w, out: &syncBuffer{}, done: make(chan error, 1)}
	go func() { p.done <- run(ctx, r, p.out, o, logx.Nop()) }()
	return p
}

func (p *participant) say(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(p.in, line+"\n")
	require.NoError(t, err)
}

func (p *participant) sees(t *testing.T, want string) {
	t.Helper()
	require.Eventually(t, func() bool { return strings.Contains(p.out.String(), want) },
		3*time.Second, 10*time.Millisecond, "want %q in %q", want, p.out.String())
}

func (p *participant) stop(t *testing.T) {
	t.Helper()
	_ = p.in.Close()
	select {
	case err := <-p.done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("participant did not exit")
	}
}

func TestHostAndParticipantChat(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := launch(ctx, t, options{host: true, ring: "chat", dir: dir, cleanup: true})
	host.sees(t, "Hosting ring")

	guest := launch(ctx, t, options{ring: "chat", dir: dir})
	guest.say(t, "alice")
	guest.sees(t, "as alice")

	host.say(t, "welcome")
	guest.sees(t, "Server: welcome")
	host.sees(t, "Server: welcome")

	guest.say(t, "")
	guest.say(t, "thanks")
	host.sees(t, "alice: thanks")

	guest.stop(t)
	host.stop(t)

	_, err := ring.Open("chat", ring.WithDir(dir))
	require.ErrorIs(t, err, ring.ErrNotFound)
}

func TestParticipantDefaultsName(t *testing.T) {
	dir := t.TempDir()
	l, err := ring.Create("chat", ring.WithDir(dir))
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	guest := launch(ctx, t, options{ring: "chat", dir: dir})
	guest.say(t, "")
	guest.sees(t, "as "+ring.DefaultLabel)
	guest.say(t, "hi")
	guest.sees(t, "Client: hi")
	guest.stop(t)
}

func TestParticipantWithoutHost(t *testing.T) {
	err := run(context.Background(), strings.NewReader("bob\n"), io.Discard, options{ring: "missing", dir: t.TempDir()}, logx.Nop())
	require.Error(t, err)
	require.ErrorIs(t, err, ring.ErrNotFound)
}
