// Package format renders content items into Telegram-ready messages.
package format

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"autopost_bot/internal/model"
)

// Length limits in runes, before escaping.
const (
	MaxTitle   = 200
	MaxExcerpt = 300
	Ellipsis   = "…"
)

// Callback data prefix of the like button.
const LikePrefix = "like:"

// Button is an inline action attached to a message. Exactly one of URL and Data is set.
type Button struct {
	Text string
	URL  string
	Data string
}

// Message is a rendered item. Text uses Telegram HTML markup.
type Message struct {
	Text     string
	ImageURL string
	Buttons  []Button
}

// Render turns an item into a message. It never fails: any input is
// stripped, shortened and escaped.
func Render(item model.Item) Message {
	title := Truncate(PlainText(item.Title), MaxTitle)
	if title == "" {
		title = Truncate(item.Link, MaxTitle)
	}
	excerpt := Truncate(trimMore(PlainText(item.Excerpt)), MaxExcerpt)

	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(Escape(title))
	b.WriteString("</b>")
	if excerpt != "" {
		b.WriteString("\n\n")
		b.WriteString(Escape(excerpt))
	}

	msg := Message{
		Text:     b.String(),
		ImageURL: strings.TrimSpace(item.FeaturedImageURL),
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		msg.Buttons = append(msg.Buttons, Button{Text: "Read more", URL: link})
	}
	msg.Buttons = append(msg.Buttons, Button{Text: "👍", Data: fmt.Sprintf("%s%d", LikePrefix, item.ID)})
	return msg
}

// PlainText strips markup, decodes entities and collapses whitespace.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	text := s
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
		text = doc.Text()
	}
	return strings.Join(strings.Fields(text), " ")
}

// Truncate shortens s to at most limit runes, marking the cut with an ellipsis.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := strings.TrimRight(string(runes[:limit-1]), " \t\n.,;:")
	return cut + Ellipsis
}

// Escape makes s safe for Telegram HTML parse mode.
func Escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}

// trimMore drops the "[…]" read-more marker WordPress appends to excerpts.
func trimMore(s string) string {
	for _, marker := range []string{"[…]", "[...]", "…"} {
		s = strings.TrimSuffix(s, marker)
	}
	return strings.TrimSpace(s)
}
