package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "github.com/4ndry11/zvnews/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.subscribers.json (JSON array of chat IDs)
//   - <prefix>.deliveries.json  (JSON object: identity -> {title, at})
//   - <prefix>.offset.json      (JSON object: {offset})
//
// Each Save* rewrites its file atomically (tmp + rename). Missing or
// unparseable files load as empty state with a warning, not an error.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	subsPath       string
	deliveriesPath string
	offsetPath     string

	closed bool
}

type deliveryRecord struct {
	Title string `json:"title"`
	At    string `json:"at"`
}

type offsetRecord struct {
	Offset int64 `json:"offset"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &fileStore{
		log:            log,
		subsPath:       prefix + ".subscribers.json",
		deliveriesPath: prefix + ".deliveries.json",
		offsetPath:     prefix + ".offset.json",
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fileStore) LoadSubscribers(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	b, err := os.ReadFile(s.subsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("subscribers load failed; starting empty", logx.String("path", s.subsPath), logx.Err(err))
		}
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		s.log.Warn("subscribers file corrupt; starting empty", logx.String("path", s.subsPath), logx.Err(err))
		return nil, nil
	}
	out := ids[:0]
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *fileStore) SaveSubscribers(ctx context.Context, ids []string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if ids == nil {
		ids = []string{}
	}
	return writeAtomic(s.subsPath, ids)
}

func (s *fileStore) LoadDeliveries(ctx context.Context) (map[string]Delivery, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := map[string]Delivery{}
	b, err := os.ReadFile(s.deliveriesPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("deliveries load failed; starting empty", logx.String("path", s.deliveriesPath), logx.Err(err))
		}
		return out, nil
	}
	var raw map[string]deliveryRecord
	if err := json.Unmarshal(b, &raw); err != nil {
		s.log.Warn("deliveries file corrupt; starting empty", logx.String("path", s.deliveriesPath), logx.Err(err))
		return out, nil
	}
	for k, r := range raw {
		if k == "" {
			continue
		}
		// A record with an unparseable timestamp keeps a zero time; it
		// never matches a recency window and gets swept.
		at, err := time.Parse(time.RFC3339Nano, r.At)
		if err != nil {
			at = time.Time{}
		}
		out[k] = Delivery{Title: r.Title, At: at}
	}
	return out, nil
}

func (s *fileStore) SaveDeliveries(ctx context.Context, recs map[string]Delivery) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	raw := make(map[string]deliveryRecord, len(recs))
	for k, d := range recs {
		if k == "" {
			continue
		}
		raw[k] = deliveryRecord{Title: d.Title, At: d.At.Format(time.RFC3339Nano)}
	}
	return writeAtomic(s.deliveriesPath, raw)
}

func (s *fileStore) LoadOffset(ctx context.Context) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	b, err := os.ReadFile(s.offsetPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("offset load failed; starting from 0", logx.String("path", s.offsetPath), logx.Err(err))
		}
		return 0, nil
	}
	var r offsetRecord
	if err := json.Unmarshal(b, &r); err != nil {
		s.log.Warn("offset file corrupt; starting from 0", logx.String("path", s.offsetPath), logx.Err(err))
		return 0, nil
	}
	return r.Offset, nil
}

func (s *fileStore) SaveOffset(ctx context.Context, offset int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return writeAtomic(s.offsetPath, offsetRecord{Offset: offset})
}

// writeAtomic marshals v and replaces path via tmp + rename so readers
// never observe a partial file.
func writeAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
