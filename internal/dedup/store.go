package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/4ndry11/zvnews/internal/metrics"
	"github.com/4ndry11/zvnews/internal/storage"
	logx "github.com/4ndry11/zvnews/pkg/logx"
)

// Defaults for the match horizons.
const (
	DefaultExactWindow = 7 * 24 * time.Hour
	DefaultFuzzyWindow = 3 * 24 * time.Hour
	DefaultThreshold   = 0.85
)

// Options tune the duplicate checks.
type Options struct {
	ExactWindow time.Duration // identity match horizon
	FuzzyWindow time.Duration // title similarity horizon
	Threshold   float64       // Jaccard cutoff for a fuzzy hit
}

func (o Options) withDefaults() Options {
	if o.ExactWindow <= 0 {
		o.ExactWindow = DefaultExactWindow
	}
	if o.FuzzyWindow <= 0 {
		o.FuzzyWindow = DefaultFuzzyWindow
	}
	if o.Threshold <= 0 || o.Threshold > 1 {
		o.Threshold = DefaultThreshold
	}
	return o
}

type record struct {
	title string
	at    time.Time
}

// Store is the delivery ledger: which articles were already sent, keyed
// by identity (URL), with titles kept for near-duplicate detection.
//
// Memory is the source of truth; every mutation writes the full record
// set through to storage best-effort. Unreadable stored state loads as
// an empty ledger.
type Store struct {
	log logx.Logger
	st  storage.Store
	opt Options

	// mu serializes mutate-then-persist so concurrent writers cannot
	// overwrite each other's snapshot.
	mu   sync.Mutex
	recs map[string]record

	now func() time.Time
}

// New loads the ledger from st. Load failures are logged and start empty.
func New(ctx context.Context, st storage.Store, opt Options, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{
		log:  log,
		st:   st,
		opt:  opt.withDefaults(),
		recs: map[string]record{},
		now:  time.Now,
	}

	recs, err := st.LoadDeliveries(ctx)
	if err != nil {
		log.Warn("delivery ledger load failed; starting empty", logx.Err(err))
		recs = nil
	}
	for k, d := range recs {
		s.recs[k] = record{title: d.Title, at: d.At}
	}
	metrics.Get().DedupRecords.Set(float64(len(s.recs)))
	return s
}

// IsDuplicate reports whether an article with this identity and title was
// already delivered recently: an exact identity hit within ExactWindow,
// or any record whose title similarity reaches Threshold within
// FuzzyWindow.
//
// Every check scans the full ledger, O(n) per call. Fine at the expected
// single-digit-thousands volume; an inverted token index is the upgrade
// path if the ledger outgrows that.
func (s *Store) IsDuplicate(identity, title string) bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics.Get().DedupChecksTotal.Inc()

	if r, ok := s.recs[identity]; ok && within(r.at, now, s.opt.ExactWindow) {
		metrics.Get().DedupHitsTotal.WithLabelValues("exact").Inc()
		return true
	}

	in := tokens(title)
	if len(in) == 0 {
		return false
	}
	for _, r := range s.recs {
		if !within(r.at, now, s.opt.FuzzyWindow) {
			continue
		}
		if jaccard(in, tokens(r.title)) >= s.opt.Threshold {
			metrics.Get().DedupHitsTotal.WithLabelValues("fuzzy").Inc()
			return true
		}
	}
	return false
}

// within reports whether at falls inside the trailing window ending at
// now. A zero time (malformed stored timestamp) never matches.
func within(at, now time.Time, window time.Duration) bool {
	if at.IsZero() {
		return false
	}
	return now.Sub(at) <= window
}

// MarkDelivered records the article as delivered at the given time,
// overwriting any previous record for the identity, and persists the
// full ledger. The store does not enforce uniqueness; callers decide
// when re-delivery is intentional.
func (s *Store) MarkDelivered(ctx context.Context, identity, title string, at time.Time) {
	if identity == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recs[identity] = record{title: title, at: at}
	s.persistLocked(ctx)
	metrics.Get().DedupRecords.Set(float64(len(s.recs)))
}

// SweepExpired removes records older than maxAge and returns how many
// were removed. The ledger is persisted only when something was removed.
// Zero-time records (malformed timestamps) are always older than any
// horizon and get swept.
func (s *Store) SweepExpired(ctx context.Context, maxAge time.Duration) int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, r := range s.recs {
		if now.Sub(r.at) > maxAge {
			delete(s.recs, k)
			removed++
		}
	}
	if removed > 0 {
		s.persistLocked(ctx)
	}
	metrics.Get().DedupSweptTotal.Add(float64(removed))
	metrics.Get().DedupRecords.Set(float64(len(s.recs)))
	return removed
}

// Len returns the current record count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// Apply swaps the match horizons at runtime. Records are untouched;
// the new windows take effect on the next check.
func (s *Store) Apply(opt Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opt = opt.withDefaults()
}

func (s *Store) persistLocked(ctx context.Context) {
	out := make(map[string]storage.Delivery, len(s.recs))
	for k, r := range s.recs {
		out[k] = storage.Delivery{Title: r.title, At: r.at}
	}
	if err := s.st.SaveDeliveries(ctx, out); err != nil {
		s.log.Warn("delivery ledger persist failed; memory stays authoritative", logx.Err(err))
	}
}
