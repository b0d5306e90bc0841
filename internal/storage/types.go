package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "memory": process-local, lost on restart
//   - "file": dependency-free JSON files
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", the memory driver is used so callers
// never have to nil-check the store.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Delivery records one delivered article: its title (kept for fuzzy
// matching) and when it was marked delivered.
// Keep it compact and schema-stable.
type Delivery struct {
	Title string
	At    time.Time
}
