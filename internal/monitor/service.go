// Package monitor runs the periodic news cycle: fetch every configured
// query over a trailing window, drop articles the ledger has already
// seen, translate the survivors, and hand them to the broadcaster.
package monitor

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/4ndry11/zvnews/internal/broadcast"
	"github.com/4ndry11/zvnews/internal/eventbus"
	"github.com/4ndry11/zvnews/internal/metrics"
	"github.com/4ndry11/zvnews/internal/news"
	logx "github.com/4ndry11/zvnews/pkg/logx"
)

// Source fetches articles for one query over a time window.
type Source interface {
	Fetch(ctx context.Context, q news.Query, from, to time.Time) ([]news.Item, error)
}

// Translator rewrites an item into the target language. Failures fall
// back to the original text inside the implementation.
type Translator interface {
	TranslateItem(ctx context.Context, it news.Item) news.Item
}

// Ledger answers duplicate checks and ages out old delivery records.
type Ledger interface {
	IsDuplicate(identity, title string) bool
	SweepExpired(ctx context.Context, maxAge time.Duration) int
	Len() int
}

// Broadcaster delivers a batch to all subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, items []news.Item) broadcast.Report
}

// Config is the monitor schedule and query set.
type Config struct {
	Enabled    bool
	Schedule   string        // cron spec, @every descriptor, or bare duration
	Window     time.Duration // trailing fetch window
	SweepEvery int           // run a ledger sweep every N cycles
	Retention  time.Duration // delivery records older than this are swept
	Queries    []news.Query
}

const (
	defaultSchedule   = "@every 1h"
	defaultWindow     = time.Hour
	defaultSweepEvery = 24
	defaultRetention  = 30 * 24 * time.Hour
)

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = defaultSchedule
	}
	if c.Window <= 0 {
		c.Window = defaultWindow
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = defaultSweepEvery
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	if len(c.Queries) == 0 {
		c.Queries = news.DefaultQueries()
	}
	return c
}

// CycleStats summarizes one monitor cycle. Published on the event bus as
// eventbus.CycleFinished data.
type CycleStats struct {
	Queries  int
	Errors   int
	Fetched  int
	Fresh    int
	Sent     int
	Failed   int
	Swept    int
	Duration time.Duration
}

// SweepStats is the eventbus.SweepFinished payload.
type SweepStats struct {
	Removed   int
	Remaining int
}

// Service owns the cron entry and the cycle loop state.
type Service struct {
	log    logx.Logger
	src    Source
	trans  Translator // nil disables translation
	ledger Ledger
	bc     Broadcaster
	bus    eventbus.Bus

	parser cron.Parser

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	entry   cron.EntryID
	runCtx  context.Context
	running bool // overlap guard for cycles
	cycles  int

	wg  sync.WaitGroup
	now func() time.Time
}

func New(cfg Config, src Source, trans Translator, ledger Ledger, bc Broadcaster, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		src:    src,
		trans:  trans,
		ledger: ledger,
		bc:     bc,
		bus:    bus,
		cfg:    cfg.withDefaults(),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
	}
}

// ValidateSchedule reports whether s would be accepted by Start/Apply.
func (s *Service) ValidateSchedule(spec string) error {
	_, err := s.parseSchedule(spec)
	return err
}

// parseSchedule accepts a cron spec, an @every descriptor, or a bare Go
// duration ("45m"), which is normalized to @every.
func (s *Service) parseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if d, err := time.ParseDuration(spec); err == nil && d > 0 {
		return cron.Every(d), nil
	}
	return s.parser.Parse(spec)
}

// Start registers the cron entry and kicks an immediate first cycle.
// It is a no-op when the monitor is disabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("monitor disabled")
		return nil
	}

	sched, err := s.parseSchedule(s.cfg.Schedule)
	if err != nil {
		return err
	}

	s.runCtx = ctx
	s.c = cron.New(cron.WithParser(s.parser))
	s.entry = s.c.Schedule(sched, cron.FuncJob(func() { s.cycle(ctx) }))
	s.c.Start()
	s.log.Info("monitor started",
		logx.String("schedule", s.cfg.Schedule),
		logx.Duration("window", s.cfg.Window),
		logx.Int("queries", len(s.cfg.Queries)),
	)

	// First cycle runs now rather than a full period from now.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cycle(ctx)
	}()
	return nil
}

// Stop halts the cron entry and waits for an in-flight cycle, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.runCtx = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("monitor stopped")
	case <-ctx.Done():
	}
}

// Apply swaps the config at runtime. A schedule or enabled-flag change
// re-registers the cron entry; query and window changes take effect on
// the next cycle.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cfg
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if cfg.Enabled == prev.Enabled && cfg.Schedule == prev.Schedule {
		return
	}

	s.c.Remove(s.entry)
	s.entry = 0
	if !cfg.Enabled {
		s.log.Info("monitor disabled by config change")
		return
	}
	sched, err := s.parseSchedule(cfg.Schedule)
	if err != nil {
		s.log.Error("new schedule rejected; keeping previous entry unscheduled",
			logx.String("schedule", cfg.Schedule),
			logx.Err(err),
		)
		return
	}
	ctx := s.runCtx
	s.entry = s.c.Schedule(sched, cron.FuncJob(func() { s.cycle(ctx) }))
	s.log.Info("monitor rescheduled", logx.String("schedule", cfg.Schedule))
}

// RunOnce executes a single cycle immediately, subject to the same
// overlap guard as scheduled runs.
func (s *Service) RunOnce(ctx context.Context) CycleStats {
	return s.cycle(ctx)
}

func (s *Service) cycle(ctx context.Context) CycleStats {
	// Overlap control: a still-running cycle wins over a new tick.
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("cycle still running; skipping tick")
		return CycleStats{}
	}
	s.running = true
	cfg := s.cfg
	s.cycles++
	n := s.cycles
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in monitor cycle",
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			metrics.Get().CyclesTotal.WithLabelValues("degraded").Inc()
		}
	}()

	start := s.now()
	stats := s.runCycle(ctx, cfg, start)
	stats.Duration = s.now().Sub(start)

	if cfg.SweepEvery > 0 && n%cfg.SweepEvery == 0 {
		stats.Swept = s.sweep(ctx, cfg.Retention)
	}

	outcome := "ok"
	switch {
	case ctx.Err() != nil:
		outcome = "canceled"
	case stats.Errors > 0:
		outcome = "degraded"
	}
	metrics.Get().CyclesTotal.WithLabelValues(outcome).Inc()
	metrics.Get().CycleDuration.Observe(stats.Duration.Seconds())

	fields := []logx.Field{
		logx.Int("queries", stats.Queries),
		logx.Int("errors", stats.Errors),
		logx.Int("fetched", stats.Fetched),
		logx.Int("fresh", stats.Fresh),
		logx.Int("sent", stats.Sent),
		logx.Duration("took", stats.Duration),
	}
	if stats.Fresh > 0 || stats.Errors > 0 {
		s.log.Info("cycle finished", fields...)
	} else {
		s.log.Debug("cycle finished", fields...)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.CycleFinished, Time: s.now(), Data: stats})
	}
	return stats
}

func (s *Service) runCycle(ctx context.Context, cfg Config, start time.Time) CycleStats {
	stats := CycleStats{Queries: len(cfg.Queries)}

	to := start
	from := to.Add(-cfg.Window)

	// seen collapses the same article surfacing under several queries
	// within this cycle; the ledger only knows about delivered ones.
	seen := make(map[string]struct{})
	var fresh []news.Item

	for _, q := range cfg.Queries {
		if ctx.Err() != nil {
			return stats
		}
		items, err := s.src.Fetch(ctx, q, from, to)
		if err != nil {
			stats.Errors++
			s.log.Warn("query fetch failed",
				logx.String("query", q.Text),
				logx.String("lang", q.Lang),
				logx.Err(err),
			)
			continue
		}
		stats.Fetched += len(items)

		for _, it := range items {
			id := it.Identity()
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if s.ledger.IsDuplicate(id, it.Title) {
				continue
			}
			fresh = append(fresh, it)
		}
	}
	stats.Fresh = len(fresh)
	if ctx.Err() != nil {
		return stats
	}

	if s.trans != nil {
		for i := range fresh {
			fresh[i] = s.trans.TranslateItem(ctx, fresh[i])
		}
	}

	rep := s.bc.Broadcast(ctx, fresh)
	stats.Sent = rep.Sent
	stats.Failed = rep.Failed
	return stats
}

func (s *Service) sweep(ctx context.Context, maxAge time.Duration) int {
	removed := s.ledger.SweepExpired(ctx, maxAge)
	remaining := s.ledger.Len()
	if removed > 0 {
		s.log.Info("delivery ledger swept",
			logx.Int("removed", removed),
			logx.Int("remaining", remaining),
			logx.Duration("max_age", maxAge),
		)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.SweepFinished,
			Time: s.now(),
			Data: SweepStats{Removed: removed, Remaining: remaining},
		})
	}
	return removed
}
