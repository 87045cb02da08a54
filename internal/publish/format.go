package publish

import (
	"fmt"
	"strings"
	"time"

	ptime "github.com/yaa110/go-persian-calendar"

	kit "proxyfig/internal/transport"
)

const (
	headerLine = "✅ *New Proxies Ready!*"
	footerLine = "ᴘᴏᴡᴇʀᴇᴅ ʙʏ ᴘʀᴏxʏғɪɢ 🚀"

	ParseModeMarkdown = "Markdown"
)

// Message is one channel post: Markdown text plus URL buttons.
type Message struct {
	Text     string
	Buttons  []kit.Button
	RowWidth int
}

// Options returns the transport send options for m.
func (m Message) Options() *kit.SendOptions {
	return &kit.SendOptions{
		ParseMode:      ParseModeMarkdown,
		DisablePreview: true,
		Buttons:        append([]kit.Button(nil), m.Buttons...),
		RowWidth:       m.RowWidth,
	}
}

// Formatter renders batches. Loc defaults to UTC when nil.
type Formatter struct {
	Loc      *time.Location
	RowWidth int
}

// Format renders one batch at now. Button numbering restarts at 1 for every batch.
func (f Formatter) Format(batch []string, now time.Time) Message {
	loc := f.Loc
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)

	var b strings.Builder
	b.WriteString(headerLine)
	b.WriteString("\n")
	b.WriteString(footerLine)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "🕘 %s | 📅 %s", now.Format("15:04:05"), JalaliDate(now))

	buttons := make([]kit.Button, 0, len(batch))
	for i, link := range batch {
		buttons = append(buttons, kit.Button{
			Label: fmt.Sprintf("🔗 Connect Proxy #%d", i+1),
			URL:   link,
		})
	}
	return Message{Text: b.String(), Buttons: buttons, RowWidth: f.RowWidth}
}

// JalaliDate formats t (in its own location) as a Solar Hijri YYYY/MM/DD date.
func JalaliDate(t time.Time) string {
	pt := ptime.New(t)
	return fmt.Sprintf("%04d/%02d/%02d", pt.Year(), int(pt.Month()), pt.Day())
}
