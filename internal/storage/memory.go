package storage

import (
	"context"
	"sync"
)

// memStore keeps everything in process memory. It backs tests and setups
// where durability is not required.
type memStore struct {
	mu         sync.Mutex
	subs       []string
	deliveries map[string]Delivery
	offset     int64
	closed     bool
}

func newMemStore() *memStore {
	return &memStore{deliveries: map[string]Delivery{}}
}

func (s *memStore) LoadSubscribers(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]string, len(s.subs))
	copy(out, s.subs)
	return out, nil
}

func (s *memStore) SaveSubscribers(ctx context.Context, ids []string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.subs = make([]string, len(ids))
	copy(s.subs, ids)
	return nil
}

func (s *memStore) LoadDeliveries(ctx context.Context) (map[string]Delivery, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make(map[string]Delivery, len(s.deliveries))
	for k, v := range s.deliveries {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) SaveDeliveries(ctx context.Context, recs map[string]Delivery) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.deliveries = make(map[string]Delivery, len(recs))
	for k, v := range recs {
		s.deliveries[k] = v
	}
	return nil
}

func (s *memStore) LoadOffset(ctx context.Context) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.offset, nil
}

func (s *memStore) SaveOffset(ctx context.Context, offset int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.offset = offset
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
