// Package session keeps short-lived filter selections built through inline
// keyboards until the user saves or cancels them.
package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"autopost_bot/internal/model"
)

const (
	defaultTTL      = 10 * time.Minute
	cleanupInterval = time.Minute
)

// Key scopes a session to one user in one chat.
type Key struct {
	UserID int64
	ChatID int64
}

// Selection is the pending state of a session.
type Selection struct {
	Kind      model.TermKind
	IDs       []int64
	ExpiresAt time.Time
}

// Has reports whether id is selected.
func (s Selection) Has(id int64) bool {
	return slices.Contains(s.IDs, id)
}

// Committer persists a saved selection.
type Committer interface {
	SetFilterIDs(destID int64, kind model.TermKind, ids []int64) (model.Preferences, error)
}

type session struct {
	kind model.TermKind
	ids  map[int64]struct{}
	exp  time.Time
}

func (s *session) selection() Selection {
	ids := lo.Keys(s.ids)
	slices.Sort(ids)
	if len(ids) == 0 {
		ids = nil
	}
	return Selection{Kind: s.kind, IDs: ids, ExpiresAt: s.exp}
}

// Store is an in-memory TTL store of selection sessions.
type Store struct {
	committer Committer
	ttl       time.Duration
	now       func() time.Time

	mu          sync.Mutex
	m           map[Key]*session
	nextCleanup time.Time
}

// New creates a Store. A non-positive ttl uses 10 minutes.
func New(committer Committer, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{
		committer: committer,
		ttl:       ttl,
		now:       time.Now,
		m:         make(map[Key]*session),
	}
}

// Begin opens a session seeded with the current selection, replacing any
// session the key already had.
func (s *Store) Begin(key Key, kind model.TermKind, current []int64) Selection {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeCleanupLocked(now)

	sess := &session{kind: kind, ids: make(map[int64]struct{}, len(current)), exp: now.Add(s.ttl)}
	for _, id := range current {
		if id > 0 {
			sess.ids[id] = struct{}{}
		}
	}
	s.m[key] = sess
	return sess.selection()
}

// Toggle flips id in the session and extends its expiry.
func (s *Store) Toggle(key Key, id int64) (Selection, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.liveLocked(key, now)
	if err != nil {
		return Selection{}, err
	}
	if id <= 0 {
		return Selection{}, fmt.Errorf("toggle %d: %w", id, model.ErrInvalidFilter)
	}
	if _, ok := sess.ids[id]; ok {
		delete(sess.ids, id)
	} else {
		sess.ids[id] = struct{}{}
	}
	sess.exp = now.Add(s.ttl)
	return sess.selection(), nil
}

// Get returns the pending selection.
func (s *Store) Get(key Key) (Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.liveLocked(key, s.now())
	if err != nil {
		return Selection{}, err
	}
	return sess.selection(), nil
}

// Save commits the selection to the key's chat and closes the session.
// An empty selection clears the filter.
func (s *Store) Save(key Key) (model.Preferences, error) {
	s.mu.Lock()
	sess, err := s.liveLocked(key, s.now())
	if err != nil {
		s.mu.Unlock()
		return model.Preferences{}, err
	}
	sel := sess.selection()
	delete(s.m, key)
	s.mu.Unlock()

	p, err := s.committer.SetFilterIDs(key.ChatID, sel.Kind, sel.IDs)
	if err != nil {
		return model.Preferences{}, fmt.Errorf("save %s selection: %w", sel.Kind, err)
	}
	return p, nil
}

// Cancel discards the session and reports whether one was open.
func (s *Store) Cancel(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.liveLocked(key, s.now())
	delete(s.m, key)
	return err == nil
}

// Len returns the number of stored sessions, expired ones included until swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *Store) liveLocked(key Key, now time.Time) (*session, error) {
	sess, ok := s.m[key]
	if !ok {
		return nil, model.ErrNoSession
	}
	if now.After(sess.exp) {
		delete(s.m, key)
		return nil, model.ErrNoSession
	}
	return sess, nil
}

func (s *Store) maybeCleanupLocked(now time.Time) {
	if now.Before(s.nextCleanup) {
		return
	}
	for k, sess := range s.m {
		if now.After(sess.exp) {
			delete(s.m, k)
		}
	}
	s.nextCleanup = now.Add(cleanupInterval)
}
