package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Update is one inbound message from the command stream.
//
// Seq is the transport's update sequence number; the command processor
// persists it as its durable offset after consuming the update.
type Update struct {
	Seq          int64
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// Chat returns the subscriber identity string for the update's chat.
func (u Update) Chat() string { return FormatTarget(ChatTarget{ChatID: u.ChatID}) }

type ChatTarget struct {
	ChatID int64
}

type SendOptions struct {
	ParseMode      string // e.g. "HTML"
	DisablePreview bool
}

// BotInfo identifies the authenticated bot account.
type BotInfo struct {
	ID       int64
	Username string
}

// BotCommand is one entry of the client-side command menu.
type BotCommand struct {
	Command     string
	Description string
}

// Adapter is the messaging-transport boundary the engine talks to.
//
// Implementations must be safe for concurrent use: the broadcast path and
// the command loop send independently.
type Adapter interface {
	// Identity reports the account the adapter authenticated as.
	Identity() BotInfo

	// SendText delivers text to a chat, splitting at transport limits.
	// A nil opt means plain text with default preview behavior.
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error

	// PollUpdates performs one bounded long-poll of the inbound stream,
	// returning updates with Seq >= offset in ascending Seq order.
	PollUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
}

// FormatTarget renders a chat target as the opaque subscriber identity
// stored in the registry.
func FormatTarget(t ChatTarget) string {
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseTarget parses a subscriber identity back into a chat target.
func ParseTarget(id string) (ChatTarget, error) {
	s := strings.TrimSpace(id)
	if s == "" {
		return ChatTarget{}, fmt.Errorf("empty chat id")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ChatTarget{}, fmt.Errorf("malformed chat id %q: %w", id, err)
	}
	return ChatTarget{ChatID: n}, nil
}
