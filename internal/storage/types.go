package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"herald/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and Open returns
// (nil, nil); callers treat a nil Store as "no history".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SendRecord is one resolved send attempt. Keep it compact and
// schema-stable.
type SendRecord struct {
	At         time.Time
	JobID      string
	Nation     string
	TelegramID string
	Class      string
	DryRun     bool
	OK         bool
	Error      string
}

// Store is the persistence API used by the dispatch path.
type Store interface {
	AppendSend(ctx context.Context, rec SendRecord) error
	// Sent reports whether telegramID was already delivered (ok, not dry-run)
	// to nation by any earlier job.
	Sent(ctx context.Context, nation, telegramID string) (bool, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
