package stats

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"relaychat/internal/observability/metrics"
	logx "relaychat/pkg/logx"
)

type fakeSource struct {
	mu   sync.Mutex
	snap metrics.Snapshot
}

func (f *fakeSource) set(s metrics.Snapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
}

func (f *fakeSource) get() metrics.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func TestReportComputesDeltas(t *testing.T) {
	src := &fakeSource{}
	var out bytes.Buffer
	r := New(Config{}, src.get, logx.NewWriter(&out, "info"))

	src.set(metrics.Snapshot{Peers: 2, Connections: 3, Disconnections: 1, Messages: 10, Bytes: 2048})
	first := r.Report()
	if first.Messages != 10 || first.Bytes != 2048 || first.Joined != 3 || first.Left != 1 {
		t.Fatalf("first report = %+v", first)
	}

	src.set(metrics.Snapshot{Peers: 1, Connections: 3, Disconnections: 2, Messages: 15, Bytes: 3048})
	second := r.Report()
	if second.Messages != 5 || second.Bytes != 1000 || second.Joined != 0 || second.Left != 1 {
		t.Fatalf("second report = %+v", second)
	}
	if second.Total.Peers != 1 {
		t.Fatalf("peers = %d", second.Total.Peers)
	}
	if r.Reports() != 2 {
		t.Fatalf("reports = %d", r.Reports())
	}
	if !strings.Contains(out.String(), "relay stats") {
		t.Fatalf("log output missing report: %q", out.String())
	}
	if s := second.String(); !strings.Contains(s, "5 messages") || !strings.Contains(s, "1.0 kB") {
		t.Fatalf("String() = %q", s)
	}
}

func TestReporterRunsOnSchedule(t *testing.T) {
	src := &fakeSource{}
	r := New(Config{Enabled: true, Schedule: "@every 1s"}, src.get, logx.Nop())
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for r.Reports() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no scheduled report")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDisabledReporterNeverRuns(t *testing.T) {
	r := New(Config{Enabled: false, Schedule: "@every 1s"}, nil, logx.Nop())
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(1200 * time.Millisecond)
	r.Stop(context.Background())
	if r.Reports() != 0 {
		t.Fatalf("reports = %d", r.Reports())
	}
}

func TestApplyValidates(t *testing.T) {
	r := New(Config{}, nil, logx.Nop())
	if err := r.Apply(Config{Enabled: true, Schedule: "nope"}); err == nil {
		t.Fatal("expected schedule error")
	}
	if err := r.Apply(Config{Enabled: true, Schedule: "1m", Timezone: "Not/AZone"}); err == nil {
		t.Fatal("expected timezone error")
	}
	if err := r.Apply(Config{Enabled: true, Schedule: "1m", Timezone: "UTC"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// Disabled configs skip validation.
	if err := r.Apply(Config{Schedule: "nope"}); err != nil {
		t.Fatalf("Apply disabled: %v", err)
	}
}

func TestApplyRestartsRunningSchedule(t *testing.T) {
	r := New(Config{Enabled: true, Schedule: "1h"}, nil, logx.Nop())
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(context.Background())

	if err := r.Apply(Config{Enabled: true, Schedule: "@every 1s"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for r.Reports() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("new schedule never fired")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
