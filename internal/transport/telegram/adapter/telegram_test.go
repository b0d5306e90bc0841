package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	kit "github.com/4ndry11/zvnews/internal/transport"
	logx "github.com/4ndry11/zvnews/pkg/logx"
)

type fakeAPI struct {
	mu       sync.Mutex
	requests map[string][][]byte
	updates  string // canned getUpdates result array
	fail     map[string]string
}

func newFakeAPI(t *testing.T) (*fakeAPI, string) {
	t.Helper()
	f := &fakeAPI{
		requests: map[string][][]byte{},
		updates:  `[]`,
		fail:     map[string]string{},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := path.Base(r.URL.Path)
		body, _ := io.ReadAll(r.Body)

		f.mu.Lock()
		f.requests[method] = append(f.requests[method], body)
		updates := f.updates
		desc := f.fail[method]
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if desc != "" {
			w.WriteHeader(http.StatusConflict)
			fmt.Fprintf(w, `{"ok":false,"error_code":409,"description":%q}`, desc)
			return
		}

		switch method {
		case "getMe":
			io.WriteString(w, `{"ok":true,"result":{"id":42,"is_bot":true,"username":"zvnews_bot","first_name":"zvnews"}}`)
		case "getUpdates":
			io.WriteString(w, `{"ok":true,"result":`+updates+`}`)
		case "sendMessage":
			io.WriteString(w, `{"ok":true,"result":{"message_id":1,"chat":{"id":7}}}`)
		default:
			io.WriteString(w, `{"ok":true,"result":true}`)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv.URL
}

func (f *fakeAPI) calls(method string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.requests[method]))
	copy(out, f.requests[method])
	return out
}

func (f *fakeAPI) setUpdates(s string) {
	f.mu.Lock()
	f.updates = s
	f.mu.Unlock()
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeAPI) {
	t.Helper()
	f, url := newFakeAPI(t)
	a, err := New(Config{Token: "test-token", APIURL: url, PollTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, f
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("New with empty token succeeded, want error")
	}
}

func TestNewAuthenticates(t *testing.T) {
	t.Parallel()

	a, _ := newTestAdapter(t)
	me := a.Identity()
	if me.ID != 42 || me.Username != "zvnews_bot" {
		t.Fatalf("Identity() = %+v, want id=42 username=zvnews_bot", me)
	}
}

func TestPollUpdatesMapsAndOrders(t *testing.T) {
	t.Parallel()

	a, f := newTestAdapter(t)
	f.setUpdates(`[
		{"update_id":6,"message":{"text":"/start","chat":{"id":7},"from":{"id":9,"username":"someone"}}},
		{"update_id":5,"message":{"text":"hi","chat":{"id":8}}},
		{"update_id":7}
	]`)

	ups, err := a.PollUpdates(context.Background(), 3, time.Second)
	if err != nil {
		t.Fatalf("PollUpdates: %v", err)
	}
	if len(ups) != 3 {
		t.Fatalf("got %d updates, want 3", len(ups))
	}
	for i, wantSeq := range []int64{5, 6, 7} {
		if ups[i].Seq != wantSeq {
			t.Fatalf("ups[%d].Seq = %d, want %d (ascending order)", i, ups[i].Seq, wantSeq)
		}
	}
	if ups[1].ChatID != 7 || ups[1].Text != "/start" || ups[1].FromUsername != "someone" {
		t.Fatalf("ups[1] = %+v, want chat=7 text=/start from=someone", ups[1])
	}
	if ups[2].Text != "" || ups[2].ChatID != 0 {
		t.Fatalf("message-less update = %+v, want empty text and chat", ups[2])
	}

	calls := f.calls("getUpdates")
	if len(calls) != 1 {
		t.Fatalf("getUpdates called %d times, want 1", len(calls))
	}
	var req struct {
		Offset  int64 `json:"offset"`
		Timeout int   `json:"timeout"`
	}
	if err := json.Unmarshal(calls[0], &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.Offset != 3 {
		t.Fatalf("request offset = %d, want 3", req.Offset)
	}
	if req.Timeout != 1 {
		t.Fatalf("request timeout = %d, want 1", req.Timeout)
	}
}

func TestPollUpdatesAPIError(t *testing.T) {
	t.Parallel()

	a, f := newTestAdapter(t)
	f.mu.Lock()
	f.fail["getUpdates"] = "Conflict: terminated by other getUpdates request"
	f.mu.Unlock()

	_, err := a.PollUpdates(context.Background(), 0, time.Second)
	if err == nil {
		t.Fatal("PollUpdates succeeded, want error")
	}
	if !strings.Contains(err.Error(), "Conflict") {
		t.Fatalf("error %q does not carry the API description", err)
	}
}

func TestSendTextSplitsLongMessage(t *testing.T) {
	t.Parallel()

	a, f := newTestAdapter(t)

	line := strings.Repeat("x", 99) + "\n"
	long := strings.Repeat(line, 90) // 9000 runes

	err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 7}, long, &kit.SendOptions{ParseMode: "HTML"})
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}

	calls := f.calls("sendMessage")
	if len(calls) < 3 {
		t.Fatalf("sendMessage called %d times, want >= 3 for a 9000-rune text", len(calls))
	}
	for i, body := range calls {
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("decode send %d: %v", i, err)
		}
		text, _ := req["text"].(string)
		if n := len([]rune(text)); n == 0 || n > telegramTextLimit {
			t.Fatalf("chunk %d has %d runes, want 1..%d", i, n, telegramTextLimit)
		}
		if pm := fmt.Sprint(req["parse_mode"]); pm != "HTML" {
			t.Fatalf("chunk %d parse_mode = %q, want HTML", i, pm)
		}
	}
}

func TestSendPlain(t *testing.T) {
	t.Parallel()

	a, f := newTestAdapter(t)
	if err := a.SendPlain(context.Background(), 99, "hello"); err != nil {
		t.Fatalf("SendPlain: %v", err)
	}

	calls := f.calls("sendMessage")
	if len(calls) != 1 {
		t.Fatalf("sendMessage called %d times, want 1", len(calls))
	}
	var req map[string]any
	if err := json.Unmarshal(calls[0], &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if got := fmt.Sprint(req["chat_id"]); got != "99" {
		t.Fatalf("chat_id = %v, want 99", req["chat_id"])
	}
	if got, _ := req["text"].(string); got != "hello" {
		t.Fatalf("text = %q, want hello", got)
	}
}

func TestSetCommandsSkipsUnchanged(t *testing.T) {
	t.Parallel()

	a, f := newTestAdapter(t)
	cmds := []kit.BotCommand{
		{Command: "/start", Description: "subscribe"},
		{Command: "/stop", Description: "unsubscribe"},
	}

	if err := a.SetCommands(context.Background(), cmds); err != nil {
		t.Fatalf("SetCommands: %v", err)
	}
	if err := a.SetCommands(context.Background(), cmds); err != nil {
		t.Fatalf("SetCommands repeat: %v", err)
	}
	if got := len(f.calls("setMyCommands")); got != 1 {
		t.Fatalf("setMyCommands called %d times, want 1 (unchanged list skipped)", got)
	}

	cmds = append(cmds, kit.BotCommand{Command: "/status", Description: "state"})
	if err := a.SetCommands(context.Background(), cmds); err != nil {
		t.Fatalf("SetCommands changed: %v", err)
	}
	calls := f.calls("setMyCommands")
	if len(calls) != 2 {
		t.Fatalf("setMyCommands called %d times, want 2 after change", len(calls))
	}

	var req struct {
		Commands []struct {
			Command string `json:"command"`
		} `json:"commands"`
	}
	if err := json.Unmarshal(calls[1], &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if len(req.Commands) != 3 || req.Commands[0].Command != "start" {
		t.Fatalf("commands payload = %+v, want 3 entries without slashes", req.Commands)
	}
}

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		limit      int
		parseMode  string
		wantChunks int
	}{
		{"short stays whole", "hello", 10, "", 1},
		{"exactly at limit", strings.Repeat("a", 10), 10, "", 1},
		{"hard split without newlines", strings.Repeat("a", 25), 10, "", 3},
		{"prefers newline boundary", strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8), 10, "", 2},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			chunks := splitTelegramText(tt.text, tt.limit, tt.parseMode)
			if len(chunks) != tt.wantChunks {
				t.Fatalf("got %d chunks %q, want %d", len(chunks), chunks, tt.wantChunks)
			}
			for i, c := range chunks {
				if n := len([]rune(c)); n > tt.limit {
					t.Fatalf("chunk %d has %d runes, limit %d", i, n, tt.limit)
				}
			}
		})
	}
}

func TestSplitKeepsHTMLTagsIntact(t *testing.T) {
	t.Parallel()

	// A tag opening right at the window edge must move to the next chunk.
	text := strings.Repeat("a", 8) + "<b>bold</b>"
	chunks := splitTelegramText(text, 10, "HTML")
	for i, c := range chunks {
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("chunk %d %q splits inside a tag", i, c)
		}
	}
}
