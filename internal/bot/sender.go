package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"autopost_bot/internal/delivery"
	"autopost_bot/internal/format"
	"autopost_bot/internal/model"
)

// Sender delivers rendered items to Telegram chats. It implements delivery.Sink.
type Sender struct {
	api     API
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewSender creates a Sender allowing perSecond sends across all chats.
// A non-positive perSecond disables the limit.
func NewSender(api API, perSecond float64, log *slog.Logger) *Sender {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Sender{api: api, limiter: rate.NewLimiter(limit, 1), log: log}
}

// SendText sends an HTML message.
func (s *Sender) SendText(ctx context.Context, destID int64, text string, opts delivery.Options) (delivery.MessageRef, error) {
	msg := tgbotapi.NewMessage(destID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if kb, ok := keyboard(opts.Buttons); ok {
		msg.ReplyMarkup = kb
	}
	return s.send(ctx, destID, msg)
}

// SendPhoto sends a photo by URL with an HTML caption.
func (s *Sender) SendPhoto(ctx context.Context, destID int64, imageURL, caption string, opts delivery.Options) (delivery.MessageRef, error) {
	photo := tgbotapi.NewPhoto(destID, tgbotapi.FileURL(imageURL))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeHTML
	if kb, ok := keyboard(opts.Buttons); ok {
		photo.ReplyMarkup = kb
	}
	return s.send(ctx, destID, photo)
}

func (s *Sender) send(ctx context.Context, destID int64, c tgbotapi.Chattable) (delivery.MessageRef, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return delivery.MessageRef{}, fmt.Errorf("%w: %w", model.ErrDeliveryFailed, err)
	}
	m, err := s.api.Send(c)
	if err != nil {
		return delivery.MessageRef{}, classify(err)
	}
	s.log.Debug("message sent", "chat_id", destID, "message_id", m.MessageID)
	return delivery.MessageRef{ChatID: destID, MessageID: m.MessageID}, nil
}

// classify maps Telegram errors onto the delivery taxonomy. Blocked bots and
// missing chats are permanent; everything else is retried on the next tick.
func classify(err error) error {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		return fmt.Errorf("%w: %w", model.ErrDeliveryFailed, err)
	}

	msg := strings.ToLower(tgErr.Message)
	switch {
	case tgErr.Code == http.StatusForbidden,
		tgErr.Code == http.StatusBadRequest && strings.Contains(msg, "chat not found"):
		return fmt.Errorf("%w: telegram %d: %s", model.ErrDeliveryRejected, tgErr.Code, tgErr.Message)
	case tgErr.RetryAfter > 0:
		return fmt.Errorf("%w: telegram %d: retry after %ds", model.ErrDeliveryFailed, tgErr.Code, tgErr.RetryAfter)
	default:
		return fmt.Errorf("%w: telegram %d: %s", model.ErrDeliveryFailed, tgErr.Code, tgErr.Message)
	}
}

func keyboard(buttons []format.Button) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(buttons) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, btn := range buttons {
		if btn.URL != "" {
			row = append(row, tgbotapi.NewInlineKeyboardButtonURL(btn.Text, btn.URL))
		} else {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
		}
	}
	return tgbotapi.NewInlineKeyboardMarkup(row), true
}
