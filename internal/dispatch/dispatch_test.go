package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"autopost_bot/internal/delivery"
	"autopost_bot/internal/model"
	"autopost_bot/internal/prefs"
)

type mockSource struct {
	items   map[int64]model.Item
	latest  []model.Item
	err     error
	queries []model.Query
}

func (m *mockSource) ListItems(_ context.Context, q model.Query) ([]model.Item, error) {
	m.queries = append(m.queries, q)
	if m.err != nil {
		return nil, m.err
	}
	return m.latest, nil
}

func (m *mockSource) GetItem(_ context.Context, id int64) (*model.Item, error) {
	if m.err != nil {
		return nil, m.err
	}
	item, ok := m.items[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &item, nil
}

type mockDeliverer struct {
	store *prefs.Store
	err   error
	sent  []int64
}

func (m *mockDeliverer) Deliver(_ context.Context, destID int64, item model.Item) (delivery.MessageRef, error) {
	if m.err != nil {
		return delivery.MessageRef{}, m.err
	}
	m.sent = append(m.sent, item.ID)
	m.store.AdvanceCursor(destID, item.ID)
	return delivery.MessageRef{ChatID: destID}, nil
}

func newTestDispatcher(src *mockSource) (*Dispatcher, *prefs.Store, *mockDeliverer) {
	store := prefs.New(prefs.Defaults{})
	del := &mockDeliverer{store: store}
	return New(store, src, del, slog.New(slog.NewTextHandler(io.Discard, nil))), store, del
}

func TestPostSpecific(t *testing.T) {
	src := &mockSource{items: map[int64]model.Item{1: {ID: 1}, 7: {ID: 7}}}

	tests := []struct {
		name       string
		itemID     int64
		wantCursor int64
		wantErr    error
	}{
		{name: "older item keeps cursor", itemID: 1, wantCursor: 5},
		{name: "newer item advances cursor", itemID: 7, wantCursor: 7},
		{name: "missing item", itemID: 99, wantCursor: 5, wantErr: model.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, store, del := newTestDispatcher(src)
			store.AdvanceCursor(1, 5)

			_, err := d.PostSpecific(context.Background(), 1, tt.itemID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("PostSpecific error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && len(del.sent) != 0 {
				t.Errorf("sent %v, want nothing", del.sent)
			}
			if got := store.Get(1).LastDeliveredItemID; got != tt.wantCursor {
				t.Errorf("cursor = %d, want %d", got, tt.wantCursor)
			}
		})
	}
}

func TestPostLatest(t *testing.T) {
	t.Run("uses saved filters", func(t *testing.T) {
		src := &mockSource{latest: []model.Item{{ID: 9}}}
		d, store, del := newTestDispatcher(src)
		store.SetFilterIDs(1, model.TermTag, []int64{3})

		item, err := d.PostLatest(context.Background(), 1, nil)
		if err != nil {
			t.Fatalf("PostLatest: %v", err)
		}
		if item.ID != 9 {
			t.Errorf("item = %d, want 9", item.ID)
		}
		want := []model.Query{{Tags: []int64{3}, Limit: 1}}
		if diff := cmp.Diff(want, src.queries); diff != "" {
			t.Errorf("query mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]int64{9}, del.sent); diff != "" {
			t.Errorf("sent mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("explicit filters override", func(t *testing.T) {
		src := &mockSource{latest: []model.Item{{ID: 9}}}
		d, store, _ := newTestDispatcher(src)
		store.SetFilterIDs(1, model.TermTag, []int64{3})

		if _, err := d.PostLatest(context.Background(), 1, &model.FilterSet{Categories: []int64{2}}); err != nil {
			t.Fatalf("PostLatest: %v", err)
		}
		want := []model.Query{{Categories: []int64{2}, Limit: 1}}
		if diff := cmp.Diff(want, src.queries); diff != "" {
			t.Errorf("query mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("no items", func(t *testing.T) {
		d, _, del := newTestDispatcher(&mockSource{})
		if _, err := d.PostLatest(context.Background(), 1, nil); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("PostLatest error = %v, want ErrNotFound", err)
		}
		if len(del.sent) != 0 {
			t.Errorf("sent %v, want nothing", del.sent)
		}
	})

	t.Run("source unavailable", func(t *testing.T) {
		d, _, _ := newTestDispatcher(&mockSource{err: model.ErrSourceUnavailable})
		if _, err := d.PostLatest(context.Background(), 1, nil); !errors.Is(err, model.ErrSourceUnavailable) {
			t.Errorf("PostLatest error = %v, want ErrSourceUnavailable", err)
		}
	})

	t.Run("delivery failure keeps cursor", func(t *testing.T) {
		d, store, del := newTestDispatcher(&mockSource{latest: []model.Item{{ID: 9}}})
		del.err = model.ErrDeliveryFailed
		if _, err := d.PostLatest(context.Background(), 1, nil); !errors.Is(err, model.ErrDeliveryFailed) {
			t.Errorf("PostLatest error = %v, want ErrDeliveryFailed", err)
		}
		if got := store.Get(1).LastDeliveredItemID; got != 0 {
			t.Errorf("cursor = %d, want 0", got)
		}
	})
}
