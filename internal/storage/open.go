package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "fencewatch/pkg/logx"
)

// Store is the minimal persistence API used by the engine and the surface.
type Store interface {
	AppendHistory(ctx context.Context, e HistoryEntry) error
	RecentHistory(ctx context.Context, limit int) ([]HistoryEntry, error)
	PruneHistory(ctx context.Context) (removed int64, err error)
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
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
