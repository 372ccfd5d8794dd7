package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	t.Parallel()
	r := New()
	r.PeerConnected()
	r.PeerConnected()
	r.PeerDisconnected()
	r.MessageRelayed(5, 1, 0, time.Millisecond)
	r.MessageRelayed(7, 0, 1, time.Millisecond)

	if got := testutil.ToFloat64(r.peers); got != 1 {
		t.Fatalf("peers = %v", got)
	}
	if got := testutil.ToFloat64(r.bytes); got != 12 {
		t.Fatalf("bytes = %v", got)
	}
	snap := r.Snapshot()
	want := Snapshot{Peers: 1, Connections: 2, Disconnections: 1, Messages: 2, Bytes: 12, Deliveries: 1, Failures: 1}
	if snap != want {
		t.Fatalf("snapshot = %+v, want %+v", snap, want)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	t.Parallel()
	r := New()
	r.PeerConnected()
	var dropped uint64 = 3
	r.WatchDropped("notices_dropped_total", "Notices dropped", func() uint64 { return dropped })

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"relaychat_relay_peers 1", "relaychat_notices_dropped_total 3", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
