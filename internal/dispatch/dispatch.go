// Package dispatch posts single items on demand.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"autopost_bot/internal/delivery"
	"autopost_bot/internal/filter"
	"autopost_bot/internal/model"
	"autopost_bot/internal/prefs"
)

// Source resolves items for manual posting.
type Source interface {
	ListItems(ctx context.Context, q model.Query) ([]model.Item, error)
	GetItem(ctx context.Context, id int64) (*model.Item, error)
}

// Deliverer sends one item and advances the destination cursor on success.
// The scheduler implements it so manual posts never overlap a tick.
type Deliverer interface {
	Deliver(ctx context.Context, destID int64, item model.Item) (delivery.MessageRef, error)
}

// Dispatcher serves user-triggered posts. Posts skip the cursor check: an
// explicit request for an old item is honoured and leaves the cursor alone.
type Dispatcher struct {
	store     *prefs.Store
	source    Source
	deliverer Deliverer
	log       *slog.Logger
}

// New creates a Dispatcher delivering through deliverer.
func New(store *prefs.Store, source Source, deliverer Deliverer, log *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, source: source, deliverer: deliverer, log: log}
}

// PostLatest delivers the newest item matching filters. A nil filters value
// uses the destination's saved filters.
func (d *Dispatcher) PostLatest(ctx context.Context, destID int64, filters *model.FilterSet) (model.Item, error) {
	f := d.store.Get(destID).Filters()
	if filters != nil {
		f = *filters
	}

	items, err := d.source.ListItems(ctx, model.Query{Categories: f.Categories, Tags: f.Tags, Limit: 1})
	if err != nil {
		return model.Item{}, fmt.Errorf("post latest: %w", err)
	}
	items = filter.Items(items, f)
	if len(items) == 0 {
		return model.Item{}, fmt.Errorf("post latest: no items: %w", model.ErrNotFound)
	}

	item := items[0]
	if _, err := d.deliverer.Deliver(ctx, destID, item); err != nil {
		return model.Item{}, fmt.Errorf("post latest: %w", err)
	}
	d.log.Info("posted latest item", "destination_id", destID, "item_id", item.ID)
	return item, nil
}

// PostSpecific delivers the item with the given id.
func (d *Dispatcher) PostSpecific(ctx context.Context, destID, itemID int64) (model.Item, error) {
	item, err := d.source.GetItem(ctx, itemID)
	if err != nil {
		return model.Item{}, fmt.Errorf("post item %d: %w", itemID, err)
	}
	if _, err := d.deliverer.Deliver(ctx, destID, *item); err != nil {
		return model.Item{}, fmt.Errorf("post item %d: %w", itemID, err)
	}
	d.log.Info("posted item", "destination_id", destID, "item_id", item.ID)
	return *item, nil
}
