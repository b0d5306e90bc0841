package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/4ndry11/zvnews/internal/broadcast"
	"github.com/4ndry11/zvnews/internal/eventbus"
	"github.com/4ndry11/zvnews/internal/news"
	logx "github.com/4ndry11/zvnews/pkg/logx"
)

type fetchCall struct {
	query    string
	from, to time.Time
}

type fakeSource struct {
	mu    sync.Mutex
	items map[string][]news.Item
	errs  map[string]error
	calls []fetchCall
}

func (f *fakeSource) Fetch(ctx context.Context, q news.Query, from, to time.Time) ([]news.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{query: q.Text, from: from, to: to})
	if err := f.errs[q.Text]; err != nil {
		return nil, err
	}
	return f.items[q.Text], nil
}

type fakeTranslator struct{}

func (fakeTranslator) TranslateItem(ctx context.Context, it news.Item) news.Item {
	it.Title = "[uk] " + it.Title
	return it
}

type fakeLedger struct {
	mu        sync.Mutex
	delivered map[string]bool
	sweeps    int
	sweptEach int
}

func (f *fakeLedger) IsDuplicate(identity, title string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivered[identity]
}

func (f *fakeLedger) SweepExpired(ctx context.Context, maxAge time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return f.sweptEach
}

func (f *fakeLedger) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func (f *fakeLedger) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	batches [][]news.Item
	block   chan struct{} // when set, Broadcast waits for it
	called  chan struct{} // signaled on every call
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, items []news.Item) broadcast.Report {
	f.mu.Lock()
	cp := make([]news.Item, len(items))
	copy(cp, items)
	f.batches = append(f.batches, cp)
	block := f.block
	called := f.called
	f.mu.Unlock()

	if called != nil {
		select {
		case called <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
	return broadcast.Report{Items: len(items), Sent: len(items), Took: time.Millisecond}
}

func (f *fakeBroadcaster) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeBroadcaster) lastBatch() []news.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil
	}
	return f.batches[len(f.batches)-1]
}

func item(url, title string) news.Item {
	return news.Item{URL: url, Title: title}
}

func testConfig(queries ...news.Query) Config {
	return Config{
		Enabled:  true,
		Schedule: "@every 1h",
		Window:   time.Hour,
		Queries:  queries,
	}
}

func TestCycleFiltersDeliveredAndInCycleDuplicates(t *testing.T) {
	t.Parallel()

	a := item("https://example.com/a", "Bank A fails")
	b := item("https://example.com/b", "Bank B fine")
	c := item("https://example.com/c", "Bank C merges")

	src := &fakeSource{items: map[string][]news.Item{
		"q1": {a, b},
		"q2": {a, c}, // a again, from another query
	}}
	ledger := &fakeLedger{delivered: map[string]bool{b.URL: true}}
	bc := &fakeBroadcaster{}

	svc := New(testConfig(news.Query{Text: "q1"}, news.Query{Text: "q2"}), src, nil, ledger, bc, nil, logx.Nop())
	stats := svc.RunOnce(context.Background())

	if stats.Fetched != 4 {
		t.Fatalf("Fetched = %d, want 4", stats.Fetched)
	}
	if stats.Fresh != 2 {
		t.Fatalf("Fresh = %d, want 2", stats.Fresh)
	}
	batch := bc.lastBatch()
	if len(batch) != 2 || batch[0].URL != a.URL || batch[1].URL != c.URL {
		t.Fatalf("broadcast batch = %+v, want [a c]", batch)
	}
}

func TestCycleToleratesQueryErrors(t *testing.T) {
	t.Parallel()

	good := item("https://example.com/x", "still works")
	src := &fakeSource{
		items: map[string][]news.Item{"ok": {good}},
		errs:  map[string]error{"broken": errors.New("upstream 500")},
	}
	bc := &fakeBroadcaster{}

	svc := New(testConfig(news.Query{Text: "broken"}, news.Query{Text: "ok"}), src, nil, &fakeLedger{}, bc, nil, logx.Nop())
	stats := svc.RunOnce(context.Background())

	if stats.Errors != 1 {
		t.Fatalf("Errors = %d, want 1", stats.Errors)
	}
	if stats.Fresh != 1 {
		t.Fatalf("Fresh = %d, want 1 (good query must survive the broken one)", stats.Fresh)
	}
	if got := bc.lastBatch(); len(got) != 1 || got[0].URL != good.URL {
		t.Fatalf("broadcast batch = %+v, want the good item", got)
	}
}

func TestCycleTranslatesFreshItems(t *testing.T) {
	t.Parallel()

	src := &fakeSource{items: map[string][]news.Item{
		"q": {item("https://example.com/1", "Original title")},
	}}
	bc := &fakeBroadcaster{}

	svc := New(testConfig(news.Query{Text: "q"}), src, fakeTranslator{}, &fakeLedger{}, bc, nil, logx.Nop())
	svc.RunOnce(context.Background())

	batch := bc.lastBatch()
	if len(batch) != 1 {
		t.Fatalf("batch size = %d, want 1", len(batch))
	}
	if got, want := batch[0].Title, "[uk] Original title"; got != want {
		t.Fatalf("title = %q, want %q", got, want)
	}
}

func TestCycleUsesTrailingWindow(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	cfg := testConfig(news.Query{Text: "q"})
	cfg.Window = 45 * time.Minute

	svc := New(cfg, src, nil, &fakeLedger{}, &fakeBroadcaster{}, nil, logx.Nop())
	fixed := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	svc.RunOnce(context.Background())

	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.calls) != 1 {
		t.Fatalf("fetch calls = %d, want 1", len(src.calls))
	}
	call := src.calls[0]
	if !call.to.Equal(fixed) {
		t.Fatalf("to = %v, want %v", call.to, fixed)
	}
	if want := fixed.Add(-45 * time.Minute); !call.from.Equal(want) {
		t.Fatalf("from = %v, want %v", call.from, want)
	}
}

func TestSweepRunsEveryNCycles(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{sweptEach: 2}
	cfg := testConfig(news.Query{Text: "q"})
	cfg.SweepEvery = 2
	cfg.Retention = 24 * time.Hour

	svc := New(cfg, &fakeSource{}, nil, ledger, &fakeBroadcaster{}, nil, logx.Nop())

	var swept int
	for i := 0; i < 4; i++ {
		swept += svc.RunOnce(context.Background()).Swept
	}

	if got := ledger.sweepCount(); got != 2 {
		t.Fatalf("sweep calls after 4 cycles = %d, want 2", got)
	}
	if swept != 4 {
		t.Fatalf("total swept = %d, want 4", swept)
	}
}

func TestCycleOverlapSkipsTick(t *testing.T) {
	t.Parallel()

	src := &fakeSource{items: map[string][]news.Item{
		"q": {item("https://example.com/1", "one")},
	}}
	bc := &fakeBroadcaster{
		block:  make(chan struct{}),
		called: make(chan struct{}, 1),
	}

	svc := New(testConfig(news.Query{Text: "q"}), src, nil, &fakeLedger{}, bc, nil, logx.Nop())

	done := make(chan CycleStats, 1)
	go func() { done <- svc.RunOnce(context.Background()) }()

	select {
	case <-bc.called:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never reached the broadcaster")
	}

	// Second cycle must bail out while the first is still broadcasting.
	if got := svc.RunOnce(context.Background()); got.Queries != 0 {
		t.Fatalf("overlapping cycle ran; stats = %+v", got)
	}

	close(bc.block)
	select {
	case stats := <-done:
		if stats.Fresh != 1 {
			t.Fatalf("first cycle Fresh = %d, want 1", stats.Fresh)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never finished")
	}
	if got := bc.batchCount(); got != 1 {
		t.Fatalf("broadcast called %d times, want 1", got)
	}
}

func TestCyclePublishesEvent(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	src := &fakeSource{items: map[string][]news.Item{
		"q": {item("https://example.com/1", "one")},
	}}
	svc := New(testConfig(news.Query{Text: "q"}), src, nil, &fakeLedger{}, &fakeBroadcaster{}, bus, logx.Nop())
	svc.RunOnce(context.Background())

	select {
	case ev := <-ch:
		if ev.Type != eventbus.CycleFinished {
			t.Fatalf("event type = %q, want %q", ev.Type, eventbus.CycleFinished)
		}
		stats, ok := ev.Data.(CycleStats)
		if !ok {
			t.Fatalf("event data = %T, want CycleStats", ev.Data)
		}
		if stats.Fresh != 1 || stats.Sent != 1 {
			t.Fatalf("stats = %+v, want Fresh=1 Sent=1", stats)
		}
	case <-time.After(time.Second):
		t.Fatal("no cycle event published")
	}
}

func TestStartRunsImmediateCycle(t *testing.T) {
	t.Parallel()

	src := &fakeSource{items: map[string][]news.Item{
		"q": {item("https://example.com/1", "one")},
	}}
	bc := &fakeBroadcaster{called: make(chan struct{}, 1)}

	svc := New(testConfig(news.Query{Text: "q"}), src, nil, &fakeLedger{}, bc, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(context.Background())

	select {
	case <-bc.called:
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle ran after Start")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()

	cfg := testConfig(news.Query{Text: "q"})
	cfg.Enabled = false
	bc := &fakeBroadcaster{}

	svc := New(cfg, &fakeSource{}, nil, &fakeLedger{}, bc, nil, logx.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Stop(context.Background())

	if got := bc.batchCount(); got != 0 {
		t.Fatalf("disabled monitor broadcast %d times, want 0", got)
	}
}

func TestApplyChangesWindowForNextCycle(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	cfg := testConfig(news.Query{Text: "q"})
	svc := New(cfg, src, nil, &fakeLedger{}, &fakeBroadcaster{}, nil, logx.Nop())

	next := cfg
	next.Window = 2 * time.Hour
	svc.Apply(next)

	fixed := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	svc.RunOnce(context.Background())

	src.mu.Lock()
	defer src.mu.Unlock()
	if want := fixed.Add(-2 * time.Hour); !src.calls[0].from.Equal(want) {
		t.Fatalf("from = %v, want %v", src.calls[0].from, want)
	}
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()

	svc := New(testConfig(news.Query{Text: "q"}), &fakeSource{}, nil, &fakeLedger{}, &fakeBroadcaster{}, nil, logx.Nop())

	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"@every 30m", false},
		{"*/5 * * * *", false},
		{"45m", false},
		{"@hourly", false},
		{"bogus", true},
		{"", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(fmt.Sprintf("%q", tt.spec), func(t *testing.T) {
			t.Parallel()
			err := svc.ValidateSchedule(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	if cfg.Schedule != defaultSchedule {
		t.Errorf("Schedule = %q, want %q", cfg.Schedule, defaultSchedule)
	}
	if cfg.Window != defaultWindow {
		t.Errorf("Window = %v, want %v", cfg.Window, defaultWindow)
	}
	if cfg.SweepEvery != defaultSweepEvery {
		t.Errorf("SweepEvery = %d, want %d", cfg.SweepEvery, defaultSweepEvery)
	}
	if cfg.Retention != defaultRetention {
		t.Errorf("Retention = %v, want %v", cfg.Retention, defaultRetention)
	}
	if len(cfg.Queries) == 0 {
		t.Error("Queries empty, want default watchlist")
	}
	for _, q := range cfg.Queries {
		if strings.TrimSpace(q.Text) == "" {
			t.Fatalf("default query with empty text: %+v", q)
		}
	}
}
