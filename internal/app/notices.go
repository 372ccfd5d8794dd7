package app

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaychat/internal/storage"
	"relaychat/internal/transport"
	logx "relaychat/pkg/logx"
)

// noticeSink turns relay notices into the server log and the peer audit.
// Handle runs on the engine's notice goroutine, one notice at a time, and may
// miss notices when it lags. Lifecycle runs on connection goroutines and sees
// every connect and disconnect, so the audit never depends on the bus.
type noticeSink struct {
	log   logx.Logger
	store storage.Store

	mu         sync.Mutex
	limiter    *rate.Limiter
	silent     bool
	suppressed int
}

func newNoticeSink(log logx.Logger, store storage.Store, perSec int) *noticeSink {
	s := &noticeSink{
		log:   log.With(logx.String("comp", "server")),
		store: store,
	}
	s.SetRate(perSec)
	return s
}

// SetRate caps message log lines per second; negative silences them.
func (s *noticeSink) SetRate(perSec int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = perSec < 0
	if perSec <= 0 {
		perSec = 1
	}
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
		return
	}
	s.limiter.SetLimit(rate.Limit(perSec))
	s.limiter.SetBurst(perSec)
}

func (s *noticeSink) Handle(n transport.Notice) {
	switch n.Kind {
	case transport.EventListening:
		s.log.Info(n.Text, logx.String("addr", n.Remote))
	case transport.EventMessage:
		s.logMessage(n)
	}
}

// Lifecycle logs and audits one connect or disconnect.
func (s *noticeSink) Lifecycle(n transport.Notice) {
	now := time.Now()
	switch n.Kind {
	case transport.EventConnected:
		s.log.Info(n.Text, logx.String("peer", n.PeerID), logx.String("remote", n.Remote))
		s.audit(storage.PeerEvent{At: now, Kind: storage.PeerConnected, PeerID: n.PeerID, Remote: n.Remote})
	case transport.EventDisconnected:
		s.log.Info(n.Text, logx.String("peer", n.PeerID), logx.String("remote", n.Remote), logx.Int64("messages", n.Messages))
		s.audit(storage.PeerEvent{
			At:       now,
			Kind:     storage.PeerDisconnected,
			PeerID:   n.PeerID,
			Remote:   n.Remote,
			Messages: n.Messages,
			Bytes:    n.Received,
			Duration: n.Connected,
		})
	}
}

func (s *noticeSink) logMessage(n transport.Notice) {
	s.mu.Lock()
	if s.silent {
		s.mu.Unlock()
		return
	}
	if !s.limiter.Allow() {
		s.suppressed++
		s.mu.Unlock()
		return
	}
	skipped := s.suppressed
	s.suppressed = 0
	s.mu.Unlock()

	fields := []logx.Field{
		logx.String("peer", n.PeerID),
		logx.Int("bytes", n.Bytes),
		logx.Int("recipients", n.Recipients),
	}
	if skipped > 0 {
		fields = append(fields, logx.Int("suppressed", skipped))
	}
	s.log.Info(n.Text, fields...)
}

func (s *noticeSink) audit(ev storage.PeerEvent) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.AppendPeerEvent(ctx, ev); err != nil {
		s.log.Warn("peer audit write failed", logx.String("peer", ev.PeerID), logx.Err(err))
	}
}

// Suppressed is the number of message lines dropped since the last one logged.
func (s *noticeSink) Suppressed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed
}
