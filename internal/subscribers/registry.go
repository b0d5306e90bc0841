package subscribers

import (
	"context"
	"sort"
	"sync"

	"github.com/4ndry11/zvnews/internal/metrics"
	"github.com/4ndry11/zvnews/internal/storage"
	logx "github.com/4ndry11/zvnews/pkg/logx"
)

// Registry is the subscriber set. Memory is the source of truth for the
// running process; every mutation writes the full set through to storage
// best-effort so restarts recover it. Unreadable stored state loads as
// an empty set.
type Registry struct {
	log logx.Logger
	st  storage.Store

	// mu serializes mutate-then-persist so concurrent writers cannot
	// overwrite each other's snapshot.
	mu  sync.Mutex
	ids map[string]struct{}
}

// New loads the subscriber set from st. Load failures are logged and
// start empty rather than failing startup.
func New(ctx context.Context, st storage.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{log: log, st: st, ids: map[string]struct{}{}}

	ids, err := st.LoadSubscribers(ctx)
	if err != nil {
		log.Warn("subscriber set load failed; starting empty", logx.Err(err))
		ids = nil
	}
	for _, id := range ids {
		if id != "" {
			r.ids[id] = struct{}{}
		}
	}
	metrics.Get().Subscribers.Set(float64(len(r.ids)))
	return r
}

// Add inserts id and reports whether it was newly added. Adding an
// existing id is a no-op returning false.
func (r *Registry) Add(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = struct{}{}
	r.persistLocked(ctx)
	metrics.Get().Subscribers.Set(float64(len(r.ids)))
	return true
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[id]; !ok {
		return false
	}
	delete(r.ids, id)
	r.persistLocked(ctx)
	metrics.Get().Subscribers.Set(float64(len(r.ids)))
	return true
}

func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok
}

// List returns the current membership, sorted for stable persistence and
// logs. Broadcast order carries no guarantee.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func (r *Registry) listLocked() []string {
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) persistLocked(ctx context.Context) {
	if err := r.st.SaveSubscribers(ctx, r.listLocked()); err != nil {
		r.log.Warn("subscriber set persist failed; memory stays authoritative", logx.Err(err))
	}
}
