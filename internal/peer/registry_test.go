package peer

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// pipePeer returns a registry-side Conn and the far end of the pipe.
func pipePeer(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	near, far := net.Pipe()
	t.Cleanup(func() {
		_ = near.Close()
		_ = far.Close()
	})
	return NewConn(near), far
}

// readOnce reads one chunk from c in the background.
func readOnce(c net.Conn) <-chan string {
	out := make(chan string, 1)
	go func() {
		buf := make([]byte, 512)
		n, err := c.Read(buf)
		if err != nil {
			close(out)
			return
		}
		out <- string(buf[:n])
	}()
	return out
}

func TestBroadcastSkipsExcludedPeer(t *testing.T) {
	r := NewRegistry()
	sender, senderFar := pipePeer(t)
	a, aFar := pipePeer(t)
	b, bFar := pipePeer(t)
	r.Register(sender)
	r.Register(a)
	r.Register(b)

	gotA := readOnce(aFar)
	gotB := readOnce(bFar)

	res := r.Broadcast([]byte("hello"), sender)
	if res.Delivered != 2 || len(res.Failed) != 0 {
		t.Fatalf("Broadcast result = %+v, want 2 delivered", res)
	}
	for name, ch := range map[string]<-chan string{"a": gotA, "b": gotB} {
		select {
		case msg := <-ch:
			if msg != "hello" {
				t.Fatalf("%s got %q, want hello", name, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s did not receive broadcast", name)
		}
	}

	// Nothing may arrive at the sender.
	_ = senderFar.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := senderFar.Read(buf); err == nil {
		t.Fatalf("sender received its own message: %q", buf[:n])
	}
}

func TestBroadcastWithNoPeers(t *testing.T) {
	r := NewRegistry()
	res := r.Broadcast([]byte("anyone?"), nil)
	if res.Delivered != 0 || len(res.Failed) != 0 {
		t.Fatalf("Broadcast result = %+v, want zero value", res)
	}

	// Only the excluded peer registered: still no writes.
	c, _ := pipePeer(t)
	r.Register(c)
	res = r.Broadcast([]byte("anyone?"), c)
	if res.Delivered != 0 || len(res.Failed) != 0 {
		t.Fatalf("Broadcast result = %+v, want zero value", res)
	}
}

func TestRegisterIsSetLike(t *testing.T) {
	r := NewRegistry()
	c, _ := pipePeer(t)

	r.Register(c)
	r.Register(c)
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	if !r.Unregister(c) {
		t.Fatalf("first Unregister should report presence")
	}
	if r.Unregister(c) {
		t.Fatalf("second Unregister should be a no-op")
	}
	if r.Len() != 0 || r.Contains(c) {
		t.Fatalf("registry still holds conn after Unregister")
	}
	r.Register(nil)
	if r.Len() != 0 {
		t.Fatalf("nil conn must not be registered")
	}
}

func TestFailedWriteKeepsPeerRegistered(t *testing.T) {
	r := NewRegistry()
	dead, deadFar := pipePeer(t)
	live, liveFar := pipePeer(t)
	r.Register(dead)
	r.Register(live)

	_ = deadFar.Close()
	got := readOnce(liveFar)

	res := r.Broadcast([]byte("ping"), nil)
	if res.Delivered != 1 {
		t.Fatalf("Delivered = %d, want 1", res.Delivered)
	}
	if len(res.Failed) != 1 || res.Failed[0].Conn != dead {
		t.Fatalf("Failed = %+v, want the dead peer", res.Failed)
	}
	if !r.Contains(dead) {
		t.Fatalf("peer must only be removed by its own receive loop")
	}
	if msg := <-got; msg != "ping" {
		t.Fatalf("live peer got %q", msg)
	}
}

func TestWriteTimeoutBoundsSlowPeer(t *testing.T) {
	r := NewRegistry()
	r.SetWriteTimeout(30 * time.Millisecond)
	slow, _ := pipePeer(t) // nobody reads the far end

	start := time.Now()
	res := r.Broadcast([]byte("stuck"), nil)
	if len(res.Failed) != 1 {
		t.Fatalf("expected the unread pipe to time out, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("broadcast took %v with a 30ms write timeout", elapsed)
	}
	if !slow.Alive() {
		t.Fatalf("a timed-out write must not mark the peer dead")
	}
}

func TestConcurrentMembershipAndBroadcast(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		c, far := pipePeer(t)
		go func() { _, _ = io.Copy(io.Discard, far) }()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Register(c)
				r.Broadcast([]byte("x"), c)
				r.Unregister(c)
			}
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("Len = %d after all peers left", r.Len())
	}
}

func TestCloseMarksConnDead(t *testing.T) {
	c, _ := pipePeer(t)
	if !c.Alive() {
		t.Fatalf("new conn should be alive")
	}
	_ = c.Close()
	_ = c.Close()
	if c.Alive() {
		t.Fatalf("closed conn should not be alive")
	}
	if c.ID() == "" {
		t.Fatalf("conn should carry an id")
	}
}
