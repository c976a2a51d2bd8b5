// Package prefs implements the in-memory per-destination preference store.
//
// Every mutation of a destination's entry runs under that entry's lock, so
// the scheduler, the manual dispatcher and the selection commit path can
// share one Store without racing on the delivery cursor.
package prefs

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"autopost_bot/internal/model"
)

// Defaults seeds newly created entries.
type Defaults struct {
	Categories []int64
	Tags       []int64
}

type entry struct {
	mu sync.Mutex
	p  model.Preferences
}

// Store holds preferences for all destinations.
type Store struct {
	mu       sync.RWMutex
	entries  map[int64]*entry
	defaults Defaults
	now      func() time.Time
}

// New creates an empty Store.
func New(defaults Defaults) *Store {
	return &Store{
		entries: make(map[int64]*entry),
		defaults: Defaults{
			Categories: NormalizeIDs(defaults.Categories),
			Tags:       NormalizeIDs(defaults.Tags),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) fresh(destID int64) model.Preferences {
	return model.Preferences{
		DestinationID:  destID,
		CategoryFilter: slices.Clone(s.defaults.Categories),
		TagFilter:      slices.Clone(s.defaults.Tags),
	}
}

func (s *Store) entry(destID int64) *entry {
	s.mu.RLock()
	e, ok := s.entries[destID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[destID]; ok {
		return e
	}
	e = &entry{p: s.fresh(destID)}
	s.entries[destID] = e
	return e
}

// Get returns the preferences of a destination, creating default ones on first access.
func (s *Store) Get(destID int64) model.Preferences {
	e := s.entry(destID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return clone(e.p)
}

// Update applies fn to the destination's preferences atomically and returns the result.
// The cursor never moves backwards and the filter sets stay normalized whatever fn does.
func (s *Store) Update(destID int64, fn func(p *model.Preferences)) model.Preferences {
	e := s.entry(destID)
	e.mu.Lock()
	defer e.mu.Unlock()

	next := clone(e.p)
	fn(&next)
	next.DestinationID = destID
	next.CategoryFilter = NormalizeIDs(next.CategoryFilter)
	next.TagFilter = NormalizeIDs(next.TagFilter)
	if next.LastDeliveredItemID < e.p.LastDeliveredItemID {
		next.LastDeliveredItemID = e.p.LastDeliveredItemID
	}
	e.p = next
	return clone(next)
}

// SetFilters replaces the category and/or tag filter from raw user input.
// A nil slice leaves that filter untouched; an empty one clears it.
// Non-numeric, zero, negative and duplicate entries are dropped. Input
// that is non-empty but contains no usable id is rejected with
// model.ErrInvalidFilter and the entry is left unchanged.
func (s *Store) SetFilters(destID int64, categories, tags []string) (model.Preferences, error) {
	cats, err := parseFilter(categories)
	if err != nil {
		return model.Preferences{}, err
	}
	tgs, err := parseFilter(tags)
	if err != nil {
		return model.Preferences{}, err
	}
	return s.Update(destID, func(p *model.Preferences) {
		if categories != nil {
			p.CategoryFilter = cats
		}
		if tags != nil {
			p.TagFilter = tgs
		}
	}), nil
}

// SetFilterIDs replaces one filter set with already-parsed ids.
func (s *Store) SetFilterIDs(destID int64, kind model.TermKind, ids []int64) (model.Preferences, error) {
	if kind != model.TermCategory && kind != model.TermTag {
		return model.Preferences{}, model.ErrInvalidFilter
	}
	ids = NormalizeIDs(ids)
	return s.Update(destID, func(p *model.Preferences) {
		if kind == model.TermCategory {
			p.CategoryFilter = ids
		} else {
			p.TagFilter = ids
		}
	}), nil
}

// SetAutoPosting toggles auto-posting. Enabling a disabled destination stamps LastCheckedAt.
func (s *Store) SetAutoPosting(destID int64, enabled bool) model.Preferences {
	now := s.now()
	return s.Update(destID, func(p *model.Preferences) {
		if enabled && !p.AutoPostingEnabled {
			p.LastCheckedAt = &now
		}
		p.AutoPostingEnabled = enabled
	})
}

// AdvanceCursor moves the delivery cursor to itemID if it is strictly greater
// than the current one and reports whether it moved.
func (s *Store) AdvanceCursor(destID, itemID int64) bool {
	e := s.entry(destID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if itemID <= e.p.LastDeliveredItemID {
		return false
	}
	e.p.LastDeliveredItemID = itemID
	return true
}

// MarkChecked records the time of the last completed poll.
func (s *Store) MarkChecked(destID int64, at time.Time) {
	at = at.UTC()
	s.Update(destID, func(p *model.Preferences) {
		p.LastCheckedAt = &at
	})
}

// ListActive returns the ids of all destinations with auto-posting enabled, sorted.
func (s *Store) ListActive() []int64 {
	var ids []int64
	for _, p := range s.Snapshot() {
		if p.AutoPostingEnabled {
			ids = append(ids, p.DestinationID)
		}
	}
	return ids
}

// Reset drops the destination back to the global defaults.
func (s *Store) Reset(destID int64) model.Preferences {
	e := s.entry(destID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.p = s.fresh(destID)
	return clone(e.p)
}

// Snapshot returns a copy of every entry, ordered by destination id.
func (s *Store) Snapshot() []model.Preferences {
	s.mu.RLock()
	entries := lo.Values(s.entries)
	s.mu.RUnlock()

	out := make([]model.Preferences, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, clone(e.p))
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b model.Preferences) int {
		return cmp.Compare(a.DestinationID, b.DestinationID)
	})
	return out
}

// Restore loads previously snapshotted entries, replacing any existing ones with the same id.
func (s *Store) Restore(list []model.Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range list {
		p.CategoryFilter = NormalizeIDs(p.CategoryFilter)
		p.TagFilter = NormalizeIDs(p.TagFilter)
		s.entries[p.DestinationID] = &entry{p: clone(p)}
	}
}

// NormalizeIDs returns the positive ids of in as a sorted set.
func NormalizeIDs(in []int64) []int64 {
	out := lo.Uniq(lo.Filter(in, func(id int64, _ int) bool { return id > 0 }))
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return out
}

// ParseIDs extracts positive numeric ids from raw strings, dropping anything else.
func ParseIDs(raw []string) []int64 {
	ids := lo.FilterMap(raw, func(s string, _ int) (int64, bool) {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		return id, err == nil && id > 0
	})
	return NormalizeIDs(ids)
}

func parseFilter(raw []string) ([]int64, error) {
	ids := ParseIDs(raw)
	if len(ids) == 0 && len(lo.Compact(raw)) > 0 {
		return nil, model.ErrInvalidFilter
	}
	return ids, nil
}

func clone(p model.Preferences) model.Preferences {
	p.CategoryFilter = slices.Clone(p.CategoryFilter)
	p.TagFilter = slices.Clone(p.TagFilter)
	if p.LastCheckedAt != nil {
		t := *p.LastCheckedAt
		p.LastCheckedAt = &t
	}
	return p
}
