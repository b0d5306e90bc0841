// Package commands consumes the inbound Telegram command stream and
// maintains the subscriber set: /start, /stop, /status. The consumed
// position (update offset) is persisted after every update so restarts
// resume without replaying the whole stream.
package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/4ndry11/zvnews/internal/eventbus"
	"github.com/4ndry11/zvnews/internal/metrics"
	"github.com/4ndry11/zvnews/internal/storage"
	kit "github.com/4ndry11/zvnews/internal/transport"
	logx "github.com/4ndry11/zvnews/pkg/logx"
)

// Transport is the slice of the Telegram adapter the processor uses.
type Transport interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error
	PollUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]kit.Update, error)
}

// Registry is the subscriber set the commands mutate.
type Registry interface {
	Add(ctx context.Context, id string) bool
	Remove(ctx context.Context, id string) bool
	Contains(id string) bool
	Len() int
}

// Ledger exposes the delivery ledger size for /status.
type Ledger interface {
	Len() int
}

// Options tune the poll loop.
type Options struct {
	PollTimeout time.Duration // long-poll wait, default 30s
}

const defaultPollTimeout = 30 * time.Second

// Processor runs the command-consumption loop.
type Processor struct {
	log    logx.Logger
	tr     Transport
	reg    Registry
	ledger Ledger
	st     storage.Store
	bus    eventbus.Bus

	pollTimeout time.Duration

	mu     sync.Mutex
	offset int64
}

// New loads the persisted offset. Load failures start from 0: old updates
// replay, which add/remove tolerate.
func New(ctx context.Context, tr Transport, reg Registry, ledger Ledger, st storage.Store, bus eventbus.Bus, opt Options, log logx.Logger) *Processor {
	if log.IsZero() {
		log = logx.Nop()
	}
	pollTimeout := opt.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	p := &Processor{
		log:         log,
		tr:          tr,
		reg:         reg,
		ledger:      ledger,
		st:          st,
		bus:         bus,
		pollTimeout: pollTimeout,
	}

	off, err := st.LoadOffset(ctx)
	if err != nil {
		log.Warn("offset load failed; starting from 0", logx.Err(err))
		off = 0
	}
	p.offset = off
	return p
}

// Offset returns the last consumed sequence number.
func (p *Processor) Offset() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}

// Run polls for updates until ctx is done. Poll errors are logged and
// retried after a short pause; the loop itself never gives up.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info("command loop started", logx.Int64("offset", p.Offset()))
	for {
		if ctx.Err() != nil {
			return nil
		}
		ups, err := p.tr.PollUpdates(ctx, p.Offset()+1, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Warn("poll updates failed", logx.Err(err))
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}
		for _, u := range ups {
			if ctx.Err() != nil {
				return nil
			}
			p.consume(ctx, u)
		}
	}
}

// consume processes one update and then advances the offset. The order
// matters: a crash before the mutation leaves the offset untouched so the
// command is retried; a crash after it replays an idempotent command.
func (p *Processor) consume(ctx context.Context, u kit.Update) {
	cur := p.Offset()
	if u.Seq <= cur {
		// The transport handed back an already-consumed sequence. Refuse
		// the single update; advancing backwards would replay history.
		p.log.Error("update sequence regressed; rejecting update",
			logx.Int64("seq", u.Seq),
			logx.Int64("offset", cur),
		)
		return
	}

	p.handle(ctx, u)
	p.advance(ctx, u.Seq)
}

func (p *Processor) handle(ctx context.Context, u kit.Update) {
	chat := u.Chat()
	switch parseCommand(u.Text) {
	case "start":
		metrics.Get().CommandsTotal.WithLabelValues("start").Inc()
		if p.reg.Add(ctx, chat) {
			p.publish(eventbus.SubscriberAdded, chat)
			p.log.Info("subscriber added", logx.String("chat", chat))
			p.reply(ctx, u, replySubscribed)
		} else {
			p.reply(ctx, u, replyAlreadySubscribed)
		}
	case "stop":
		metrics.Get().CommandsTotal.WithLabelValues("stop").Inc()
		if p.reg.Remove(ctx, chat) {
			p.publish(eventbus.SubscriberRemoved, chat)
			p.log.Info("subscriber removed", logx.String("chat", chat))
			p.reply(ctx, u, replyUnsubscribed)
		} else {
			p.reply(ctx, u, replyNotSubscribed)
		}
	case "status":
		metrics.Get().CommandsTotal.WithLabelValues("status").Inc()
		p.reply(ctx, u, p.statusText(chat))
	default:
		// Not for us. Consumed silently, offset still advances.
		metrics.Get().CommandsTotal.WithLabelValues("ignored").Inc()
	}
}

func (p *Processor) advance(ctx context.Context, seq int64) {
	p.mu.Lock()
	p.offset = seq
	p.mu.Unlock()
	if err := p.st.SaveOffset(ctx, seq); err != nil {
		p.log.Warn("offset persist failed; memory stays authoritative",
			logx.Int64("offset", seq),
			logx.Err(err),
		)
	}
}

func (p *Processor) reply(ctx context.Context, u kit.Update, text string) {
	err := p.tr.SendText(ctx, kit.ChatTarget{ChatID: u.ChatID}, text, nil)
	if err != nil {
		p.log.Warn("command reply failed",
			logx.Int64("chat_id", u.ChatID),
			logx.Err(err),
		)
	}
}

func (p *Processor) publish(typ, chat string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, Data: chat})
}

func (p *Processor) statusText(chat string) string {
	var b strings.Builder
	if p.reg.Contains(chat) {
		b.WriteString("📊 Статус: ви підписані на розсилку.\n")
	} else {
		b.WriteString("📊 Статус: ви не підписані.\n/start — підписатися\n")
	}
	fmt.Fprintf(&b, "\nПідписників: %d\n", p.reg.Len())
	if p.ledger != nil {
		fmt.Fprintf(&b, "Статей у журналі доставки: %d\n", p.ledger.Len())
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseCommand extracts the command word: "/start@somebot arg" -> "start".
// Non-command text yields "".
func parseCommand(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" || strings.ContainsRune(word, '/') {
		return ""
	}
	return strings.ToLower(word)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
		return true
	}
}

// Reply texts. The bot broadcasts in Ukrainian; replies match.
const (
	replySubscribed = "✅ Ви підписались на розсилку фінансових новин.\n\n" +
		"Команди:\n/stop — відписатися\n/status — стан підписки"
	replyAlreadySubscribed = "ℹ️ Ви вже підписані.\n\n/stop — відписатися\n/status — стан підписки"
	replyUnsubscribed      = "✅ Ви відписались від розсилки.\n\n/start — підписатися знову"
	replyNotSubscribed     = "ℹ️ Ви не були підписані.\n\n/start — підписатися"
)
