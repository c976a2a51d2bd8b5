package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"autopost_bot/internal/metrics"
	"autopost_bot/internal/session"
)

const (
	actionSelect = "sel"
	actionLike   = "like"
	selSave      = "save"
	selCancel    = "cancel"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.From == nil {
		b.answer(cb.ID, "")
		return
	}
	if !b.cfg.IsUserAllowed(cb.From.ID) {
		b.answer(cb.ID, "Access denied.")
		return
	}

	action, arg, ok := strings.Cut(cb.Data, ":")
	if !ok {
		b.answer(cb.ID, "")
		return
	}

	b.log.Info("callback",
		"action", action,
		"arg", arg,
		"chat_id", cb.Message.Chat.ID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case actionLike:
		metrics.Likes.Inc()
		b.answer(cb.ID, "👍 Thanks!")
	case actionSelect:
		b.handleSelection(ctx, cb, arg)
	default:
		b.answer(cb.ID, "")
	}
}

func (b *Bot) handleSelection(ctx context.Context, cb *tgbotapi.CallbackQuery, arg string) {
	chatID := cb.Message.Chat.ID
	msgID := cb.Message.MessageID
	key := session.Key{UserID: cb.From.ID, ChatID: chatID}

	switch arg {
	case selSave:
		p, err := b.sessions.Save(key)
		if err != nil {
			b.answer(cb.ID, describeError(err))
			return
		}
		b.answer(cb.ID, "Saved.")
		b.request(tgbotapi.NewEditMessageText(chatID, msgID, "Filters saved.\n\n"+FormatFilters(p)))
	case selCancel:
		b.sessions.Cancel(key)
		b.answer(cb.ID, "Cancelled.")
		b.request(tgbotapi.NewEditMessageText(chatID, msgID, "Selection cancelled."))
	default:
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			b.answer(cb.ID, "")
			return
		}
		sel, err := b.sessions.Toggle(key, id)
		if err != nil {
			b.answer(cb.ID, describeError(err))
			return
		}
		if b.terms == nil {
			b.answer(cb.ID, "")
			return
		}
		terms, err := b.terms.ListTerms(ctx, sel.Kind)
		if err != nil {
			b.answer(cb.ID, describeError(err))
			return
		}
		b.answer(cb.ID, "")
		b.request(tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, SelectionKeyboard(terms, sel)))
	}
}

func (b *Bot) answer(callbackID, text string) {
	b.request(tgbotapi.NewCallback(callbackID, text))
}
