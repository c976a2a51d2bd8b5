// Package delivery defines the outbound message sink and the shared
// render, send and advance-cursor pipeline.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"autopost_bot/internal/format"
	"autopost_bot/internal/metrics"
	"autopost_bot/internal/model"
)

// MaxCaption is the longest text that can travel as a photo caption.
const MaxCaption = 1024

// MessageRef identifies a delivered message.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Options carries the affordances attached to a message.
type Options struct {
	Buttons []format.Button
}

// Sink delivers messages to destinations. Errors wrap model.ErrDeliveryFailed
// for transient failures and model.ErrDeliveryRejected for permanent ones.
type Sink interface {
	SendText(ctx context.Context, destID int64, text string, opts Options) (MessageRef, error)
	SendPhoto(ctx context.Context, destID int64, imageURL, caption string, opts Options) (MessageRef, error)
}

// Send delivers msg, as a photo when it has an image that fits a caption.
// A failed photo send falls back to a text send of the same content.
func Send(ctx context.Context, sink Sink, destID int64, msg format.Message) (MessageRef, error) {
	opts := Options{Buttons: msg.Buttons}
	if msg.ImageURL != "" && utf8.RuneCountInString(msg.Text) <= MaxCaption {
		ref, err := sink.SendPhoto(ctx, destID, msg.ImageURL, msg.Text, opts)
		if err == nil {
			return ref, nil
		}
		if ctx.Err() != nil {
			return MessageRef{}, err
		}
	}
	return sink.SendText(ctx, destID, msg.Text, opts)
}

// IsPermanent reports whether err means the destination will never accept messages.
func IsPermanent(err error) bool {
	return errors.Is(err, model.ErrDeliveryRejected)
}

// Cursor is the part of the preference store the pipeline advances.
type Cursor interface {
	AdvanceCursor(destID, itemID int64) bool
}

// Pipeline renders, sends and records items.
type Pipeline struct {
	sink   Sink
	cursor Cursor
	log    *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(sink Sink, cursor Cursor, log *slog.Logger) *Pipeline {
	return &Pipeline{sink: sink, cursor: cursor, log: log}
}

// Deliver sends item to destID and, only once the sink acknowledged it,
// advances the destination's cursor.
func (p *Pipeline) Deliver(ctx context.Context, destID int64, item model.Item) (MessageRef, error) {
	ref, err := Send(ctx, p.sink, destID, format.Render(item))
	if err != nil {
		if IsPermanent(err) {
			metrics.Deliveries.WithLabelValues(metrics.ResultRejected).Inc()
		} else {
			metrics.Deliveries.WithLabelValues(metrics.ResultFailed).Inc()
		}
		return MessageRef{}, fmt.Errorf("deliver item %d: %w", item.ID, err)
	}
	metrics.Deliveries.WithLabelValues(metrics.ResultOK).Inc()

	if p.cursor.AdvanceCursor(destID, item.ID) {
		p.log.Debug("cursor advanced", "destination_id", destID, "item_id", item.ID)
	}
	return ref, nil
}
