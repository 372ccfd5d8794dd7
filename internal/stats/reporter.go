// Package stats logs a periodic summary of relay activity on a cron or
// interval schedule.
package stats

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"relaychat/internal/observability/metrics"
	logx "relaychat/pkg/logx"
)

type Config struct {
	Enabled  bool
	Schedule string
	Timezone string
}

// Source returns the current counters.
type Source func() metrics.Snapshot

// Report is what one run logged.
type Report struct {
	At       time.Time
	Window   time.Duration
	Total    metrics.Snapshot
	Messages int64
	Bytes    int64
	Joined   int64
	Left     int64
}

func (r Report) String() string {
	return fmt.Sprintf("%d peers; last %s: %s messages, %s, %d joined, %d left",
		r.Total.Peers,
		r.Window.Round(time.Second),
		humanize.Comma(r.Messages),
		humanize.Bytes(uint64(max(r.Bytes, 0))),
		r.Joined, r.Left,
	)
}

type Reporter struct {
	log    logx.Logger
	src    Source
	parser cron.Parser

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	last    metrics.Snapshot
	lastAt  time.Time
	reports int
}

func New(cfg Config, src Source, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{
		log: log.With(logx.String("comp", "stats")),
		src: src,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cfg:    cfg,
		lastAt: time.Now(),
	}
}

// Validate checks that cfg's schedule parses.
func (r *Reporter) Validate(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	if _, err := r.parser.Parse(spec.CronSpec()); err != nil {
		return fmt.Errorf("stats.schedule: %w", err)
	}
	_, err = loadLocation(cfg.Timezone)
	return err
}

// Apply swaps the config and restarts the schedule if it is running.
func (r *Reporter) Apply(cfg Config) error {
	if err := r.Validate(cfg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	running := r.c != nil
	r.cfg = cfg
	if running {
		r.stopLocked(context.Background())
		return r.startLocked()
	}
	return nil
}

// Start begins scheduled reports. A disabled config is a no-op.
func (r *Reporter) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}
	return r.startLocked()
}

func (r *Reporter) startLocked() error {
	if !r.cfg.Enabled {
		return nil
	}
	spec, err := ParseSchedule(r.cfg.Schedule)
	if err != nil {
		return err
	}
	loc, err := loadLocation(r.cfg.Timezone)
	if err != nil {
		return err
	}
	c := cron.New(cron.WithParser(r.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(spec.CronSpec(), func() { r.Report() }); err != nil {
		return fmt.Errorf("stats.schedule: %w", err)
	}
	c.Start()
	r.c = c
	r.log.Debug("stats schedule started", logx.String("schedule", spec.CronSpec()), logx.String("source", spec.Source))
	return nil
}

// Stop halts the schedule and waits for a running report, bounded by ctx.
func (r *Reporter) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(ctx)
}

func (r *Reporter) stopLocked(ctx context.Context) {
	if r.c == nil {
		return
	}
	done := r.c.Stop()
	r.c = nil
	// Report() takes r.mu; release it while the last job finishes.
	r.mu.Unlock()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	r.mu.Lock()
}

// Report logs one summary now and returns it.
func (r *Reporter) Report() Report {
	now := time.Now()
	var cur metrics.Snapshot
	if r.src != nil {
		cur = r.src()
	}

	r.mu.Lock()
	prev, prevAt := r.last, r.lastAt
	r.last, r.lastAt = cur, now
	r.reports++
	r.mu.Unlock()

	rep := Report{
		At:       now,
		Window:   now.Sub(prevAt),
		Total:    cur,
		Messages: cur.Messages - prev.Messages,
		Bytes:    cur.Bytes - prev.Bytes,
		Joined:   cur.Connections - prev.Connections,
		Left:     cur.Disconnections - prev.Disconnections,
	}
	r.log.Info("relay stats",
		logx.Int64("peers", cur.Peers),
		logx.Int64("messages", rep.Messages),
		logx.String("bytes", humanize.Bytes(uint64(max(rep.Bytes, 0)))),
		logx.Int64("joined", rep.Joined),
		logx.Int64("left", rep.Left),
		logx.Int64("write_failures", cur.Failures-prev.Failures),
		logx.Duration("window", rep.Window),
	)
	return rep
}

// Reports counts runs so far.
func (r *Reporter) Reports() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("stats.timezone: %w", err)
	}
	return loc, nil
}
