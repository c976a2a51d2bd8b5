package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"autopost_bot/internal/model"
	"autopost_bot/internal/session"
)

const (
	cmdAutopostOn  = "autopost_on"
	cmdAutopostOff = "autopost_off"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to AutoPost Bot!

I deliver new posts from the site to this chat.

Quick start:
1. /categories or /tags — choose what to receive
2. /autopost_on — post new items automatically
3. /latest — post the newest item right now

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Auto-posting:
/autopost_on — start posting new items automatically
/autopost_off — stop automatic posting
/status — show settings and schedule

Manual posting:
/latest — post the newest matching item
/post <id> — post a specific item

Filters:
/categories — choose categories
/tags — choose tags
/filters — show current filters
/filters categories <ids...> — set category ids
/filters tags <ids...> — set tag ids
/clearfilters — receive everything
/reset — stop posting and restore defaults`)
}

func (b *Bot) handleStatus(chatID int64) {
	p := b.prefs.Get(chatID)
	b.reply(chatID, FormatStatus(p, b.sched.ListScheduled(chatID)))
}

func (b *Bot) handleAutopostOn(chatID int64) {
	if err := b.sched.Start(chatID); err != nil {
		b.reply(chatID, fmt.Sprintf("Could not enable auto-posting: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Auto-posting enabled. New posts are checked every %s.", b.cfg.CheckInterval))
}

func (b *Bot) handleAutopostOff(chatID int64) {
	if !b.sched.Stop(chatID) {
		b.reply(chatID, "Auto-posting was not enabled.")
		return
	}
	b.reply(chatID, "Auto-posting disabled.")
}

func (b *Bot) handleLatest(ctx context.Context, chatID int64) {
	if _, err := b.dispatch.PostLatest(ctx, chatID, nil); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			b.reply(chatID, "No posts match your filters.")
			return
		}
		b.reply(chatID, describeError(err))
	}
}

func (b *Bot) handlePost(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /post <id>")
		return
	}

	if _, err := b.dispatch.PostSpecific(ctx, chatID, id); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			b.reply(chatID, fmt.Sprintf("Post #%d not found.", id))
			return
		}
		b.reply(chatID, describeError(err))
	}
}

func (b *Bot) handleSelect(ctx context.Context, chatID, userID int64, kind model.TermKind) {
	if b.terms == nil {
		b.reply(chatID, fmt.Sprintf("This source cannot list %s. Use /filters %s <ids...> instead.", kind, kind))
		return
	}

	terms, err := b.terms.ListTerms(ctx, kind)
	if err != nil {
		b.reply(chatID, describeError(err))
		return
	}
	if len(terms) == 0 {
		b.reply(chatID, fmt.Sprintf("The site has no %s.", kind))
		return
	}

	p := b.prefs.Get(chatID)
	current := p.CategoryFilter
	if kind == model.TermTag {
		current = p.TagFilter
	}
	sel := b.sessions.Begin(session.Key{UserID: userID, ChatID: chatID}, kind, current)

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Select %s to receive, then press Save. Nothing selected means everything.", kind))
	msg.ReplyMarkup = SelectionKeyboard(terms, sel)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send selection keyboard", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleFilters(chatID int64, args string) {
	if args == "" {
		b.reply(chatID, FormatFilters(b.prefs.Get(chatID)))
		return
	}

	kind, raw, err := ParseFiltersArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	var p model.Preferences
	if kind == model.TermCategory {
		p, err = b.prefs.SetFilters(chatID, raw, nil)
	} else {
		p, err = b.prefs.SetFilters(chatID, nil, raw)
	}
	if err != nil {
		b.reply(chatID, describeError(err))
		return
	}
	b.reply(chatID, "Filters updated.\n\n"+FormatFilters(p))
}

func (b *Bot) handleClearFilters(chatID int64) {
	p, err := b.prefs.SetFilters(chatID, []string{}, []string{})
	if err != nil {
		b.reply(chatID, describeError(err))
		return
	}
	b.reply(chatID, "Filters cleared.\n\n"+FormatFilters(p))
}

func (b *Bot) handleReset(chatID int64) {
	b.sched.Stop(chatID)
	p := b.prefs.Reset(chatID)
	b.reply(chatID, "Settings reset to defaults. Auto-posting is off.\n\n"+FormatFilters(p))
}
