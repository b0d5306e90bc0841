// Package adapter implements the transport boundary on the Telegram Bot
// API via telebot. Sends go through the telebot client; the update poll
// is a raw getUpdates call so the command loop controls its own offset.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "github.com/4ndry11/zvnews/internal/transport"
	logx "github.com/4ndry11/zvnews/pkg/logx"
	"github.com/4ndry11/zvnews/pkg/tgui"
)

const defaultAPIURL = "https://api.telegram.org"

type Config struct {
	Token       string
	APIURL      string        // override for tests; default api.telegram.org
	PollTimeout time.Duration // getUpdates long-poll wait, default 30s
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	me  kit.BotInfo

	// poll client carries no global timeout; every request gets a
	// context deadline sized to the long-poll wait instead.
	poll *http.Client

	menuMu   sync.Mutex
	menuHash uint64
}

// New authenticates against the Bot API (getMe) and returns the adapter.
// An invalid token fails here, not on first send.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}

	b, err := tele.NewBot(tele.Settings{
		URL:    cfg.APIURL,
		Token:  cfg.Token,
		Client: &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}

	a := &Adapter{
		cfg:  cfg,
		log:  log,
		bot:  b,
		poll: &http.Client{},
	}
	if b.Me != nil {
		a.me = kit.BotInfo{ID: b.Me.ID, Username: b.Me.Username}
	}
	log.Info("telegram authenticated",
		logx.Int64("bot_id", a.me.ID),
		logx.String("username", a.me.Username),
	)
	return a, nil
}

func (a *Adapter) Identity() kit.BotInfo { return a.me }

// SendText delivers text to a chat, splitting at the Telegram limit.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: to.ChatID}
	for _, chunk := range chunks {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		}
		if _, err := a.bot.Send(chat, chunk, sendOpt); err != nil {
			return err
		}
	}
	return nil
}

// SendPlain satisfies logx.TextSender for the Telegram log sink.
func (a *Adapter) SendPlain(ctx context.Context, chatID int64, text string) error {
	return a.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil)
}

// PollUpdates runs one bounded getUpdates long-poll. Updates come back
// in ascending Seq order; non-message updates surface with empty Text so
// the consumer still advances past them.
func (a *Adapter) PollUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]kit.Update, error) {
	if timeout <= 0 {
		timeout = a.cfg.PollTimeout
	}

	payload := struct {
		Offset         int64    `json:"offset,omitempty"`
		Timeout        int      `json:"timeout,omitempty"`
		AllowedUpdates []string `json:"allowed_updates"`
	}{
		Offset:         offset,
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: []string{"message"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	// Headroom past the server-side wait so a full long-poll is not cut off.
	rctx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodPost, a.methodURL("getUpdates"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.poll.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool         `json:"ok"`
		ErrorCode   int          `json:"error_code"`
		Description string       `json:"description"`
		Result      []wireUpdate `json:"result"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("getUpdates decode: %w", err)
	}
	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return nil, fmt.Errorf("getUpdates failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return nil, fmt.Errorf("getUpdates failed: http=%d", resp.StatusCode)
	}

	ups := make([]kit.Update, 0, len(out.Result))
	for _, r := range out.Result {
		u := kit.Update{Seq: r.ID}
		if m := r.Message; m != nil {
			u.Text = m.Text
			if m.Chat != nil {
				u.ChatID = m.Chat.ID
			}
			if m.From != nil {
				u.FromID = m.From.ID
				u.FromUsername = m.From.Username
			}
		}
		ups = append(ups, u)
	}
	sort.Slice(ups, func(i, j int) bool { return ups[i].Seq < ups[j].Seq })
	return ups, nil
}

// SetCommands registers the client-side command menu (setMyCommands).
// It only performs a network call when the list actually changes.
func (a *Adapter) SetCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	for _, c := range cmds {
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}

	type cmd struct {
		Command     string `json:"command"`
		Description string `json:"description"`
	}
	payload := struct {
		Commands []cmd `json:"commands"`
	}{Commands: make([]cmd, 0, len(cmds))}

	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		// Telegram caps descriptions at 256 characters, not bytes.
		d = tgui.TruncRunes(d, 255)
		payload.Commands = append(payload.Commands, cmd{Command: strings.TrimPrefix(c.Command, "/"), Description: d})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	rctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodPost, a.methodURL("setMyCommands"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.poll.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return fmt.Errorf("setMyCommands failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("setMyCommands failed: http=%d", resp.StatusCode)
	}

	a.menuHash = sum
	a.log.Info("command menu updated", logx.Int("count", len(payload.Commands)))
	return nil
}

func (a *Adapter) methodURL(method string) string {
	return strings.TrimRight(a.cfg.APIURL, "/") + "/bot" + strings.TrimSpace(a.cfg.Token) + "/" + method
}

// Bot API wire shapes for the raw getUpdates call.
type wireUpdate struct {
	ID      int64        `json:"update_id"`
	Message *wireMessage `json:"message"`
}

type wireMessage struct {
	Text string    `json:"text"`
	Chat *wireChat `json:"chat"`
	From *wireUser `json:"from"`
}

type wireChat struct {
	ID int64 `json:"id"`
}

type wireUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks safe for Telegram.
// It prefers newline boundaries and, for HTML parse mode, avoids cutting
// inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer a newline near the end of the window, but not so early
		// that chunks degenerate.
		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					if i-start >= limit/3 {
						cut = i + 1
					}
					break
				}
			}
			if cut != -1 {
				end = cut
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen := -1
			lastClose := -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
