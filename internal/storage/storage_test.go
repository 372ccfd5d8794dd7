package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "relaychat/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop())
	if !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("err = %v, want ErrUnknownDriver", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		if _, err := Open(Config{Driver: driver}, logx.Nop()); err == nil {
			t.Fatalf("%s: expected path error", driver)
		}
	}
}

func TestStoresRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "audit.db")
			st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()

			ctx := context.Background()
			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			events := []PeerEvent{
				{At: base, Kind: PeerConnected, PeerID: "a", Remote: "127.0.0.1:1"},
				{At: base.Add(time.Second), Kind: PeerConnected, PeerID: "b", Remote: "127.0.0.1:2"},
				{At: base.Add(2 * time.Second), Kind: PeerDisconnected, PeerID: "a", Remote: "127.0.0.1:1", Messages: 3, Bytes: 42, Duration: 2 * time.Second},
			}
			for _, e := range events {
				if err := st.AppendPeerEvent(ctx, e); err != nil {
					t.Fatalf("AppendPeerEvent: %v", err)
				}
			}

			got, err := st.RecentPeerEvents(ctx, 2)
			if err != nil {
				t.Fatalf("RecentPeerEvents: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("len = %d, want 2", len(got))
			}
			if got[0].PeerID != "b" || got[1].PeerID != "a" || got[1].Kind != PeerDisconnected {
				t.Fatalf("order wrong: %+v", got)
			}
			last := got[1]
			if last.Messages != 3 || last.Bytes != 42 || last.Duration != 2*time.Second {
				t.Fatalf("counters lost: %+v", last)
			}
			if !last.At.Equal(events[2].At) {
				t.Fatalf("At = %v, want %v", last.At, events[2].At)
			}

			all, err := st.RecentPeerEvents(ctx, 10)
			if err != nil || len(all) != 3 {
				t.Fatalf("all = %d, %v", len(all), err)
			}
		})
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "audit")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := st.AppendPeerEvent(context.Background(), PeerEvent{Kind: PeerConnected}); err != ErrDisabled {
		t.Fatalf("append after close = %v, want ErrDisabled", err)
	}
}
