package broadcast

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/4ndry11/zvnews/internal/eventbus"
	"github.com/4ndry11/zvnews/internal/metrics"
	"github.com/4ndry11/zvnews/internal/news"
	kit "github.com/4ndry11/zvnews/internal/transport"
	logx "github.com/4ndry11/zvnews/pkg/logx"
)

// Sender delivers one message to one chat.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error
}

// Ledger records deliveries before transmission.
type Ledger interface {
	MarkDelivered(ctx context.Context, identity, title string, at time.Time)
}

// Subscribers yields the current membership snapshot.
type Subscribers interface {
	List() []string
}

// Options tune delivery pacing.
type Options struct {
	RatePerSec      int           // global send budget, 0 disables the limiter
	PerChatInterval time.Duration // min spacing between messages to one chat
}

// Report summarizes one batch.
type Report struct {
	Items       int
	Subscribers int
	Sent        int
	Failed      int
	Took        time.Duration
}

// Service fans new articles out to every subscriber: a batch header, each
// article, then a completion notice per chat. Failures are per message;
// one dead chat never blocks the rest.
type Service struct {
	log    logx.Logger
	sender Sender
	subs   Subscribers
	ledger Ledger
	bus    eventbus.Bus

	mu      sync.Mutex
	limiter *rate.Limiter
	perChat time.Duration

	now func() time.Time
}

func New(sender Sender, subs Subscribers, ledger Ledger, bus eventbus.Bus, opt Options, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log,
		sender: sender,
		subs:   subs,
		ledger: ledger,
		bus:    bus,
		now:    time.Now,
	}
	s.Apply(opt)
	return s
}

// Apply installs new pacing options. Safe during an in-flight broadcast;
// the next send picks them up.
func (s *Service) Apply(opt Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opt.RatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opt.RatePerSec), opt.RatePerSec)
	} else {
		s.limiter = nil
	}
	s.perChat = opt.PerChatInterval
}

// Broadcast delivers items to all current subscribers. Every item is
// marked delivered before the first transmission attempt, so a retry
// after a partial failure can under-deliver but never double-deliver.
func (s *Service) Broadcast(ctx context.Context, items []news.Item) Report {
	start := s.now()
	subs := s.subs.List()

	rep := Report{Items: len(items), Subscribers: len(subs)}
	if len(items) == 0 || len(subs) == 0 {
		return rep
	}

	for _, it := range items {
		s.ledger.MarkDelivered(ctx, it.Identity(), it.Title, start)
	}

	headerText := FormatHeader(len(items))
	itemTexts := make([]string, len(items))
	for i, it := range items {
		itemTexts[i] = FormatItem(it)
	}

	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		target, err := kit.ParseTarget(sub)
		if err != nil {
			s.log.Warn("skipping unparseable subscriber id", logx.String("id", sub), logx.Err(err))
			continue
		}
		sent, failed := s.deliverTo(ctx, target, headerText, itemTexts)
		rep.Sent += sent
		rep.Failed += failed
	}

	rep.Took = s.now().Sub(start)
	metrics.Get().BroadcastBatches.Inc()
	metrics.Get().BroadcastDuration.Observe(rep.Took.Seconds())

	fields := []logx.Field{
		logx.Int("items", rep.Items),
		logx.Int("subscribers", rep.Subscribers),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Took),
	}
	if rep.Failed > 0 {
		s.log.Warn("broadcast finished with failures", fields...)
	} else {
		s.log.Info("broadcast finished", fields...)
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.BroadcastFinished, Time: s.now(), Data: rep})
	}
	return rep
}

// deliverTo sends the full sequence to one chat: header, every item, then
// a summary of how many of the batch's articles this chat received.
// Control messages suppress the link preview; articles keep it so the
// original-article link unfurls.
func (s *Service) deliverTo(ctx context.Context, target kit.ChatTarget, header string, itemTexts []string) (sent, failed int) {
	delivered := 0

	if s.sendOne(ctx, target, header, true) {
		sent++
	} else {
		failed++
	}

	for _, text := range itemTexts {
		if !s.pause(ctx) {
			return sent, failed
		}
		if s.sendOne(ctx, target, text, false) {
			sent++
			delivered++
		} else {
			failed++
		}
	}

	if !s.pause(ctx) {
		return sent, failed
	}
	if s.sendOne(ctx, target, FormatSummary(delivered, len(itemTexts)), true) {
		sent++
	} else {
		failed++
	}
	return sent, failed
}

func (s *Service) sendOne(ctx context.Context, target kit.ChatTarget, text string, noPreview bool) bool {
	// Snapshot mutable pacing state to avoid races with Apply().
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return false
		}
	}
	err := s.sender.SendText(ctx, target, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: noPreview})
	if err != nil {
		metrics.Get().BroadcastSendsTotal.WithLabelValues("error").Inc()
		s.log.Warn("broadcast send failed", logx.Int64("chat_id", target.ChatID), logx.Err(err))
		return false
	}
	metrics.Get().BroadcastSendsTotal.WithLabelValues("ok").Inc()
	return true
}

// pause enforces the per-chat spacing. Returns false when ctx ended.
func (s *Service) pause(ctx context.Context) bool {
	s.mu.Lock()
	d := s.perChat
	s.mu.Unlock()

	if d <= 0 {
		return ctx.Err() == nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
		return true
	}
}
