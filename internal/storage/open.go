package storage

import (
	"context"
	"errors"
	"strings"

	logx "github.com/4ndry11/zvnews/pkg/logx"
)

// Store is the persistence API used by the subscriber registry, the
// delivery ledger, and the command loop's update offset.
//
// Save* methods replace the whole stored set; Load* methods return what
// is currently stored. Missing or unreadable state loads as empty, never
// as an error the caller has to treat as fatal.
type Store interface {
	LoadSubscribers(ctx context.Context) ([]string, error)
	SaveSubscribers(ctx context.Context, ids []string) error

	LoadDeliveries(ctx context.Context) (map[string]Delivery, error)
	SaveDeliveries(ctx context.Context, recs map[string]Delivery) error

	LoadOffset(ctx context.Context) (int64, error)
	SaveOffset(ctx context.Context, offset int64) error

	Close() error
}

// Open initializes the configured store.
// An empty or "none"/"memory" driver yields the in-memory store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "none", "memory":
		return newMemStore(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
