package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"autopost_bot/internal/delivery"
	"autopost_bot/internal/model"
	"autopost_bot/internal/prefs"
)

type mockSource struct {
	mu      sync.Mutex
	items   []model.Item
	err     error
	queries []model.Query
}

func (m *mockSource) ListItems(_ context.Context, q model.Query) ([]model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if m.err != nil {
		return nil, m.err
	}
	// Like the WordPress API: time bound and order are honoured, AfterID is not.
	out := slices.DeleteFunc(slices.Clone(m.items), func(it model.Item) bool {
		return q.Since != nil && !it.PublishedAt.IsZero() && !it.PublishedAt.After(*q.Since)
	})
	slices.SortStableFunc(out, func(a, b model.Item) int {
		if q.Order == model.NewestFirst {
			a, b = b, a
		}
		return a.PublishedAt.Compare(b.PublishedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *mockSource) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

type sent struct {
	DestID int64
	ItemID int64
}

// mockDeliverer advances the store cursor the way delivery.Pipeline does.
type mockDeliverer struct {
	store *prefs.Store

	mu    sync.Mutex
	sent  []sent
	fail  map[int64]error
	gates map[int64]chan struct{}
	// entered receives the item id before a gated delivery blocks.
	entered chan int64
}

func (m *mockDeliverer) Deliver(_ context.Context, destID int64, item model.Item) (delivery.MessageRef, error) {
	m.mu.Lock()
	gate := m.gates[item.ID]
	err := m.fail[item.ID]
	m.mu.Unlock()

	if gate != nil {
		if m.entered != nil {
			m.entered <- item.ID
		}
		<-gate
	}
	if err != nil {
		return delivery.MessageRef{}, err
	}

	m.mu.Lock()
	m.sent = append(m.sent, sent{DestID: destID, ItemID: item.ID})
	m.mu.Unlock()
	m.store.AdvanceCursor(destID, item.ID)
	return delivery.MessageRef{ChatID: destID}, nil
}

func (m *mockDeliverer) delivered(destID int64) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, s := range m.sent {
		if s.DestID == destID {
			ids = append(ids, s.ItemID)
		}
	}
	return ids
}

func items(ids ...int64) []model.Item {
	out := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Item{
			ID:          id,
			Title:       fmt.Sprintf("item-%d", id),
			PublishedAt: time.Date(2026, 1, int(id), 12, 0, 0, 0, time.UTC),
		})
	}
	return out
}

// upcoming returns items published after now, so they pass the time bound
// Start stamps on the preferences.
func upcoming(ids ...int64) []model.Item {
	base := time.Now().Add(time.Hour)
	out := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Item{
			ID:          id,
			Title:       fmt.Sprintf("item-%d", id),
			PublishedAt: base.Add(time.Duration(id) * time.Minute),
		})
	}
	return out
}

func newTestScheduler(cfg Config) (*Scheduler, *prefs.Store, *mockSource, *mockDeliverer) {
	store := prefs.New(prefs.Defaults{})
	src := &mockSource{}
	del := &mockDeliverer{store: store, fail: map[int64]error{}, gates: map[int64]chan struct{}{}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, src, del, cfg, log), store, src, del
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestCheck(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name            string
		items           []model.Item
		cursor          int64
		fail            map[int64]error
		wantSent        []int64
		wantCursor      int64
		wantResult      string
		wantLastChecked time.Time
	}{
		{
			name:            "skips items at or below cursor",
			items:           items(1, 2, 3),
			cursor:          1,
			wantSent:        []int64{2, 3},
			wantCursor:      3,
			wantResult:      "ok",
			wantLastChecked: now,
		},
		{
			name:            "nothing new",
			items:           items(1, 2),
			cursor:          2,
			wantCursor:      2,
			wantResult:      "ok",
			wantLastChecked: now,
		},
		{
			name:            "stops at first failure",
			items:           items(2, 3, 4),
			cursor:          1,
			fail:            map[int64]error{3: fmt.Errorf("%w: timeout", model.ErrDeliveryFailed)},
			wantSent:        []int64{2},
			wantCursor:      2,
			wantResult:      "failed",
			wantLastChecked: time.Date(2026, 1, 3, 11, 59, 59, 0, time.UTC),
		},
		{
			name:            "rejection",
			items:           items(2),
			fail:            map[int64]error{2: fmt.Errorf("%w: blocked", model.ErrDeliveryRejected)},
			wantResult:      "rejected",
			wantLastChecked: time.Date(2026, 1, 2, 11, 59, 59, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store, src, del := newTestScheduler(Config{})
			s.now = func() time.Time { return now }
			src.items = tt.items
			del.fail = tt.fail
			store.AdvanceCursor(7, tt.cursor)

			got := s.check(context.Background(), &job{destID: 7})
			if got != tt.wantResult {
				t.Errorf("result = %q, want %q", got, tt.wantResult)
			}
			if diff := cmp.Diff(tt.wantSent, del.delivered(7)); diff != "" {
				t.Errorf("delivered mismatch (-want +got):\n%s", diff)
			}
			p := store.Get(7)
			if p.LastDeliveredItemID != tt.wantCursor {
				t.Errorf("cursor = %d, want %d", p.LastDeliveredItemID, tt.wantCursor)
			}
			if p.LastCheckedAt == nil || !p.LastCheckedAt.Equal(tt.wantLastChecked) {
				t.Errorf("LastCheckedAt = %v, want %v", p.LastCheckedAt, tt.wantLastChecked)
			}
		})
	}
}

func TestCheckDeliversInAscendingOrder(t *testing.T) {
	s, _, src, del := newTestScheduler(Config{})
	src.items = items(5, 3, 4)

	s.check(context.Background(), &job{destID: 1})

	if diff := cmp.Diff([]int64{3, 4, 5}, del.delivered(1)); diff != "" {
		t.Errorf("delivered mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckQuery(t *testing.T) {
	s, store, src, _ := newTestScheduler(Config{FetchLimit: 15})
	checked := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	store.Update(1, func(p *model.Preferences) {
		p.CategoryFilter = []int64{4}
		p.TagFilter = []int64{9}
		p.LastCheckedAt = &checked
	})
	store.AdvanceCursor(1, 6)

	s.check(context.Background(), &job{destID: 1})

	want := []model.Query{{
		Categories: []int64{4},
		Tags:       []int64{9},
		Since:      &checked,
		AfterID:    6,
		Limit:      15,
		Order:      model.OldestFirst,
	}}
	if diff := cmp.Diff(want, src.queries); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckDrainsBacklogLargerThanFetchLimit(t *testing.T) {
	s, store, src, del := newTestScheduler(Config{FetchLimit: 3})
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	checked := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	store.Update(1, func(p *model.Preferences) { p.LastCheckedAt = &checked })
	store.AdvanceCursor(1, 1)
	src.items = items(1, 2, 3, 4, 5, 6, 7, 8)
	j := &job{destID: 1}

	for range 5 {
		s.check(context.Background(), j)
	}

	if diff := cmp.Diff([]int64{2, 3, 4, 5, 6, 7, 8}, del.delivered(1)); diff != "" {
		t.Errorf("delivered mismatch (-want +got):\n%s", diff)
	}
	p := store.Get(1)
	if p.LastDeliveredItemID != 8 {
		t.Errorf("cursor = %d, want 8", p.LastDeliveredItemID)
	}
	if !p.LastCheckedAt.Equal(now) {
		t.Errorf("LastCheckedAt = %v, want %v", p.LastCheckedAt, now)
	}
}

func TestCheckRetriesFailedItemThroughTimeBound(t *testing.T) {
	s, store, src, del := newTestScheduler(Config{})
	s.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	checked := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	store.Update(1, func(p *model.Preferences) { p.LastCheckedAt = &checked })
	store.AdvanceCursor(1, 1)
	src.items = items(2, 3, 4)
	del.fail = map[int64]error{3: fmt.Errorf("%w: timeout", model.ErrDeliveryFailed)}
	j := &job{destID: 1}

	s.check(context.Background(), j)
	del.fail = nil
	s.check(context.Background(), j)

	wantSince := time.Date(2026, 1, 3, 11, 59, 59, 0, time.UTC)
	if got := src.queries[1].Since; got == nil || !got.Equal(wantSince) {
		t.Errorf("retry query Since = %v, want %v", got, wantSince)
	}
	if diff := cmp.Diff([]int64{2, 3, 4}, del.delivered(1)); diff != "" {
		t.Errorf("delivered mismatch (-want +got):\n%s", diff)
	}
}

func TestDeliverWaitsForRunningTick(t *testing.T) {
	s, _, src, del := newTestScheduler(Config{Interval: time.Hour})
	src.items = upcoming(7)
	gate := make(chan struct{})
	del.gates[7] = gate
	del.entered = make(chan int64, 1)

	posted := make(chan error, 1)
	go func() {
		_, err := s.Deliver(context.Background(), 1, src.items[0])
		posted <- err
	}()
	<-del.entered
	del.mu.Lock()
	delete(del.gates, 7)
	del.mu.Unlock()

	s.Start(1)
	time.Sleep(20 * time.Millisecond)
	if got := src.calls(); got != 0 {
		t.Errorf("tick fetched %d times while a manual post held the destination", got)
	}

	close(gate)
	if err := <-posted; err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	waitFor(t, func() bool { return src.calls() == 1 })
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if diff := cmp.Diff([]int64{7}, del.delivered(1)); diff != "" {
		t.Errorf("delivered mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckAppliesFiltersLocally(t *testing.T) {
	s, store, src, del := newTestScheduler(Config{})
	store.SetFilterIDs(1, model.TermCategory, []int64{4})
	src.items = []model.Item{
		{ID: 1, Categories: []int64{4}},
		{ID: 2, Categories: []int64{5}},
		{ID: 3},
	}

	s.check(context.Background(), &job{destID: 1})

	if diff := cmp.Diff([]int64{1, 3}, del.delivered(1)); diff != "" {
		t.Errorf("delivered mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckFetchError(t *testing.T) {
	s, store, src, del := newTestScheduler(Config{})
	src.err = model.ErrSourceUnavailable

	got := s.check(context.Background(), &job{destID: 1})

	if got != "failed" {
		t.Errorf("result = %q, want failed", got)
	}
	if len(del.delivered(1)) != 0 {
		t.Errorf("delivered %v, want nothing", del.delivered(1))
	}
	if p := store.Get(1); p.LastCheckedAt != nil {
		t.Errorf("LastCheckedAt = %v, want unchanged", p.LastCheckedAt)
	}
}

func TestCheckUnboundedAfterUndatedFailure(t *testing.T) {
	s, _, src, del := newTestScheduler(Config{})
	src.items = []model.Item{{ID: 2}}
	del.fail = map[int64]error{2: model.ErrDeliveryFailed}
	j := &job{destID: 1}

	s.check(context.Background(), j)
	del.fail = nil
	s.check(context.Background(), j)

	if src.queries[1].Since != nil {
		t.Errorf("retry query Since = %v, want nil", src.queries[1].Since)
	}
	if diff := cmp.Diff([]int64{2}, del.delivered(1)); diff != "" {
		t.Errorf("delivered mismatch (-want +got):\n%s", diff)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	s, store, _, _ := newTestScheduler(Config{Interval: time.Hour})
	defer s.Shutdown(context.Background())

	if err := s.Start(3); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := s.jobs[3]
	if err := s.Start(3); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-first.done:
	case <-time.After(2 * time.Second):
		t.Fatal("replaced timer still running")
	}
	if got := len(s.ListScheduled(3)); got != 1 {
		t.Errorf("ListScheduled = %d entries, want 1", got)
	}
	if !store.Get(3).AutoPostingEnabled {
		t.Error("AutoPostingEnabled = false, want true")
	}
}

func TestStop(t *testing.T) {
	s, store, src, _ := newTestScheduler(Config{Interval: 10 * time.Millisecond})
	defer s.Shutdown(context.Background())

	if s.Stop(1) {
		t.Error("Stop on idle destination = true, want false")
	}

	s.Start(1)
	waitFor(t, func() bool { return src.calls() >= 2 })
	j := s.jobs[1]

	if !s.Stop(1) {
		t.Error("Stop = false, want true")
	}
	<-j.done
	calls := src.calls()
	time.Sleep(50 * time.Millisecond)

	if got := src.calls(); got != calls {
		t.Errorf("source called %d times after stop, want %d", got, calls)
	}
	if store.Get(1).AutoPostingEnabled {
		t.Error("AutoPostingEnabled = true, want false")
	}
	if got := s.ListScheduled(1); got != nil {
		t.Errorf("ListScheduled = %v, want nil", got)
	}
}

func TestStopFinishesInFlightItem(t *testing.T) {
	s, store, src, del := newTestScheduler(Config{Interval: time.Hour})
	defer s.Shutdown(context.Background())
	src.items = upcoming(1, 2, 3)
	gate := make(chan struct{})
	del.gates[2] = gate
	del.entered = make(chan int64, 1)

	s.Start(1)
	<-del.entered
	j := s.jobs[1]
	s.Stop(1)
	close(gate)
	<-j.done

	if diff := cmp.Diff([]int64{1, 2}, del.delivered(1)); diff != "" {
		t.Errorf("delivered mismatch (-want +got):\n%s", diff)
	}
	if got := store.Get(1).LastDeliveredItemID; got != 2 {
		t.Errorf("cursor = %d, want 2", got)
	}
}

func TestDestinationsAreIsolated(t *testing.T) {
	s, _, src, del := newTestScheduler(Config{Interval: time.Hour})
	defer s.Shutdown(context.Background())
	src.items = upcoming(1)

	// Destination 1 blocks on item 1; destination 2 must still be served.
	gate := make(chan struct{})
	del.mu.Lock()
	del.gates[1] = gate
	del.mu.Unlock()
	del.entered = make(chan int64, 2)

	s.Start(1)
	<-del.entered
	del.mu.Lock()
	delete(del.gates, 1)
	del.mu.Unlock()

	s.Start(2)
	waitFor(t, func() bool { return len(del.delivered(2)) == 1 })

	if got := del.delivered(1); len(got) != 0 {
		t.Errorf("destination 1 delivered %v while blocked", got)
	}
	close(gate)
	waitFor(t, func() bool { return len(del.delivered(1)) == 1 })
}

func TestAutoDisableAfterRejections(t *testing.T) {
	s, store, src, del := newTestScheduler(Config{Interval: 10 * time.Millisecond, MaxRejections: 2})
	defer s.Shutdown(context.Background())
	src.items = upcoming(1)
	del.fail[1] = fmt.Errorf("%w: kicked", model.ErrDeliveryRejected)

	s.Start(5)
	waitFor(t, func() bool { return len(s.ListScheduled(5)) == 0 })

	if store.Get(5).AutoPostingEnabled {
		t.Error("AutoPostingEnabled = true, want false")
	}
}

func TestRestore(t *testing.T) {
	s, store, _, _ := newTestScheduler(Config{Interval: time.Hour})
	defer s.Shutdown(context.Background())
	checked := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Restore([]model.Preferences{
		{DestinationID: 1, AutoPostingEnabled: true, LastCheckedAt: &checked},
		{DestinationID: 2},
		{DestinationID: 3, AutoPostingEnabled: true},
	})

	if err := s.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	var got []int64
	for _, info := range s.Scheduled() {
		got = append(got, info.DestinationID)
	}
	if diff := cmp.Diff([]int64{1, 3}, got); diff != "" {
		t.Errorf("scheduled mismatch (-want +got):\n%s", diff)
	}
}

func TestShutdown(t *testing.T) {
	t.Run("waits for in-flight tick", func(t *testing.T) {
		s, store, src, del := newTestScheduler(Config{Interval: time.Hour})
		src.items = upcoming(1)
		gate := make(chan struct{})
		del.gates[1] = gate
		del.entered = make(chan int64, 1)

		s.Start(1)
		<-del.entered
		go func() {
			time.Sleep(20 * time.Millisecond)
			close(gate)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
		if got := store.Get(1).LastDeliveredItemID; got != 1 {
			t.Errorf("cursor = %d, want 1", got)
		}
		if !store.Get(1).AutoPostingEnabled {
			t.Error("AutoPostingEnabled = false, want true after shutdown")
		}
		if err := s.Start(1); !errors.Is(err, ErrClosed) {
			t.Errorf("Start after shutdown = %v, want ErrClosed", err)
		}
	})

	t.Run("grace period expires", func(t *testing.T) {
		s, _, src, del := newTestScheduler(Config{Interval: time.Hour})
		src.items = upcoming(1)
		gate := make(chan struct{})
		defer close(gate)
		del.gates[1] = gate
		del.entered = make(chan int64, 1)

		s.Start(1)
		<-del.entered

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := s.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Shutdown = %v, want DeadlineExceeded", err)
		}
	})
}

func TestCheckpoint(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		pending *model.Item
		want    time.Time
	}{
		{"no pending", nil, now},
		{"undated pending", &model.Item{ID: 1}, now},
		{"older pending", &model.Item{PublishedAt: now.Add(-time.Hour)}, now.Add(-time.Hour - time.Second)},
		{"future pending", &model.Item{PublishedAt: now.Add(time.Hour)}, now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checkpoint(now, tt.pending); !got.Equal(tt.want) {
				t.Errorf("checkpoint = %v, want %v", got, tt.want)
			}
		})
	}
}
