//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	logx "github.com/4ndry11/zvnews/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const offsetKey = "update_offset"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadSubscribers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if strings.TrimSpace(id) != "" {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

func (s *sqliteStore) SaveSubscribers(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscribers`); err != nil {
		return err
	}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO subscribers(id) VALUES(?)`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadDeliveries(ctx context.Context) (map[string]Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, title, at FROM deliveries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Delivery{}
	for rows.Next() {
		var key, title, at string
		if err := rows.Scan(&key, &title, &at); err != nil {
			return nil, err
		}
		if key == "" {
			continue
		}
		t, perr := time.Parse(time.RFC3339Nano, at)
		if perr != nil {
			t = time.Time{}
		}
		out[key] = Delivery{Title: title, At: t}
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveDeliveries(ctx context.Context, recs map[string]Delivery) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM deliveries`); err != nil {
		return err
	}
	for key, d := range recs {
		if key == "" {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO deliveries(key, title, at) VALUES(?,?,?)`,
			key, d.Title, d.At.Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadOffset(ctx context.Context) (int64, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM state WHERE k = ?`, offsetKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, perr := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if perr != nil {
		s.log.Warn("stored offset unreadable; starting from 0", logx.String("value", v))
		return 0, nil
	}
	return n, nil
}

func (s *sqliteStore) SaveOffset(ctx context.Context, offset int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state(k, v) VALUES(?,?)
		 ON CONFLICT(k) DO UPDATE SET v=excluded.v`,
		offsetKey, strconv.FormatInt(offset, 10),
	)
	return err
}
