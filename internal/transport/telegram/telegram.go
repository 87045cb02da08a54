package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "proxyfig/internal/transport"
	logx "proxyfig/pkg/logx"
)

// telegramTextLimit is the Bot API limit for a single message text.
const telegramTextLimit = 4096

var ErrEmptyToken = errors.New("telegram token is empty")

type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint (default https://api.telegram.org).
	APIURL  string
	Timeout time.Duration
	// Offline skips the getMe round-trip on construction.
	Offline bool
	Client  *http.Client
}

// Adapter is an outbound-only Telegram sender. It never polls for updates.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrEmptyToken
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Token:   strings.TrimSpace(cfg.Token),
		Client:  client,
		Offline: cfg.Offline,
		// Never started; a poller is only required by the constructor.
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if !cfg.Offline && b.Me != nil {
		log.Info("telegram bot ready", logx.String("username", b.Me.Username))
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// recipient lets telebot address public channels by @username.
type recipient string

func (r recipient) Recipient() string { return string(r) }

func recipientFor(to kit.ChatTarget) tele.Recipient {
	if to.Username != "" {
		return recipient(to.Username)
	}
	return &tele.Chat{ID: to.ChatID}
}

// Markup renders inline URL buttons rowWidth per row.
func Markup(buttons []kit.Button, rowWidth int) *tele.ReplyMarkup {
	if len(buttons) == 0 {
		return nil
	}
	if rowWidth <= 0 {
		rowWidth = len(buttons)
	}
	btns := make([]tele.Btn, 0, len(buttons))
	for _, b := range buttons {
		btns = append(btns, tele.Btn{Text: b.Label, URL: b.URL})
	}
	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Split(rowWidth, btns)...)
	return rm
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return kit.MessageRef{}, err
		}
	}
	if n := utf8.RuneCountInString(text); n > telegramTextLimit {
		return kit.MessageRef{}, fmt.Errorf("telegram: message text too long (%d runes)", n)
	}

	sendOpt := &tele.SendOptions{
		ParseMode:             tele.ParseMode(opt.ParseMode),
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
	if rm := Markup(opt.Buttons, opt.RowWidth); rm != nil {
		sendOpt.ReplyMarkup = rm
	}

	msg, err := a.bot.Send(recipientFor(to), text, sendOpt)
	if err != nil {
		return kit.MessageRef{}, err
	}
	ref := kit.MessageRef{MessageID: msg.ID}
	if msg.Chat != nil {
		ref.ChatID = msg.Chat.ID
	}
	return ref, nil
}
