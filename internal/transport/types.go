package transport

import (
	"context"
	"strconv"
	"strings"
)

// ChatTarget addresses a chat either by numeric ID or by public @username.
// Username wins when both are set.
type ChatTarget struct {
	ChatID   int64
	Username string
	ThreadID int // telegram forum topic thread id (0 if none)
}

// ParseChatTarget accepts "@channel" or a numeric chat id ("-100123...").
func ParseChatTarget(s string) (ChatTarget, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ChatTarget{}, false
	}
	if strings.HasPrefix(s, "@") {
		if len(s) == 1 {
			return ChatTarget{}, false
		}
		return ChatTarget{Username: s}, true
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return ChatTarget{}, false
	}
	return ChatTarget{ChatID: id}, true
}

func (t ChatTarget) String() string {
	if t.Username != "" {
		return t.Username
	}
	return strconv.FormatInt(t.ChatID, 10)
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is an inline URL button.
type Button struct {
	Label string
	URL   string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool

	// Buttons are laid out RowWidth per row (RowWidth <= 0 means one row).
	Buttons  []Button
	RowWidth int
}

// Sender delivers a single message. Implementations must be synchronous:
// a nil error means the platform accepted the message.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
