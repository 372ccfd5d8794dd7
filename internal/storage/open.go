package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logx "relaychat/pkg/logx"
)

// Store is the audit persistence API used by relayd.
type Store interface {
	AppendPeerEvent(ctx context.Context, e PeerEvent) error
	// RecentPeerEvents returns up to limit events, oldest first.
	RecentPeerEvents(ctx context.Context, limit int) ([]PeerEvent, error)
	Close() error
}

// ErrUnknownDriver is returned by Open for a driver name it does not know.
var ErrUnknownDriver = errors.New("unknown storage driver")

// Drivers lists the accepted driver names besides "none".
var Drivers = []string{"file", "sqlite"}

// Open returns the audit store for cfg.Driver, or (nil, nil) when auditing
// is off ("" or "none").
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("%w %q (want one of %s)", ErrUnknownDriver, driver, strings.Join(Drivers, ", "))
	}
}
