// Package scheduler runs one auto-post timer per destination.
//
// A destination is either STOPPED (no timer) or RUNNING (exactly one timer).
// Start and Stop are the only mutators of the registry. Ticks of different
// destinations run concurrently; ticks of one destination never overlap.
package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"autopost_bot/internal/delivery"
	"autopost_bot/internal/filter"
	"autopost_bot/internal/metrics"
	"autopost_bot/internal/model"
	"autopost_bot/internal/prefs"
)

// ErrClosed is returned by Start after Shutdown.
var ErrClosed = errors.New("scheduler is shut down")

// Source lists candidate items, newest first.
type Source interface {
	ListItems(ctx context.Context, q model.Query) ([]model.Item, error)
}

// Deliverer sends one item and advances the destination cursor on success.
type Deliverer interface {
	Deliver(ctx context.Context, destID int64, item model.Item) (delivery.MessageRef, error)
}

// Config tunes the scheduler.
type Config struct {
	Interval        time.Duration
	ItemDelay       time.Duration
	FetchLimit      int
	MaxRejections   int
	DeliveryTimeout time.Duration
}

// JobInfo describes a live timer.
type JobInfo struct {
	DestinationID int64
	StartedAt     time.Time
	NextFireAt    time.Time
}

type job struct {
	destID  int64
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	mu         sync.Mutex
	next       time.Time
	rejections int
	unbounded  bool
}

func (j *job) info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobInfo{DestinationID: j.destID, StartedAt: j.started, NextFireAt: j.next}
}

func (j *job) setNext(t time.Time) {
	j.mu.Lock()
	j.next = t
	j.mu.Unlock()
}

// Scheduler owns the per-destination timers.
type Scheduler struct {
	store     *prefs.Store
	source    Source
	deliverer Deliverer
	log       *slog.Logger
	cfg       Config
	now       func() time.Time

	root       context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	jobs   map[int64]*job
	lanes  map[int64]*sync.Mutex
	closed bool
}

// New creates a Scheduler. Zero config fields get defaults.
func New(store *prefs.Store, source Source, deliverer Deliverer, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 20
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 30 * time.Second
	}
	root, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:      store,
		source:     source,
		deliverer:  deliverer,
		log:        log,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		root:       root,
		rootCancel: cancel,
		jobs:       make(map[int64]*job),
		lanes:      make(map[int64]*sync.Mutex),
	}
}

// Start enables auto-posting for destID: it marks the preferences, runs one
// immediate check and then arms the recurring timer. Starting a running
// destination replaces its timer.
func (s *Scheduler) Start(destID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if old, ok := s.jobs[destID]; ok {
		old.cancel()
		s.log.Debug("replacing auto-post timer", "destination_id", destID)
	}

	s.store.SetAutoPosting(destID, true)

	ctx, cancel := context.WithCancel(s.root)
	j := &job{
		destID:  destID,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: s.now(),
	}
	s.jobs[destID] = j
	metrics.ScheduledDestinations.Set(float64(len(s.jobs)))

	s.wg.Add(1)
	go s.run(ctx, j)

	s.log.Info("auto-posting started", "destination_id", destID, "interval", s.cfg.Interval)
	return nil
}

// Stop disables auto-posting for destID and reports whether a timer was live.
// A tick already in flight finishes its current item and schedules nothing more.
func (s *Scheduler) Stop(destID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[destID]
	if ok {
		delete(s.jobs, destID)
		j.cancel()
		metrics.ScheduledDestinations.Set(float64(len(s.jobs)))
	}
	s.store.SetAutoPosting(destID, false)

	if ok {
		s.log.Info("auto-posting stopped", "destination_id", destID)
	}
	return ok
}

// ListScheduled returns the live timer of destID, if any.
func (s *Scheduler) ListScheduled(destID int64) []JobInfo {
	s.mu.Lock()
	j, ok := s.jobs[destID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return []JobInfo{j.info()}
}

// Scheduled returns every live timer ordered by destination.
func (s *Scheduler) Scheduled() []JobInfo {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.info())
	}
	slices.SortFunc(out, func(a, b JobInfo) int { return cmp.Compare(a.DestinationID, b.DestinationID) })
	return out
}

// Restore starts a timer for every destination the store marks as enabled.
func (s *Scheduler) Restore() error {
	for _, destID := range s.store.ListActive() {
		if err := s.Start(destID); err != nil {
			return fmt.Errorf("restore destination %d: %w", destID, err)
		}
	}
	return nil
}

// Shutdown cancels all timers and waits for in-flight ticks until ctx expires.
// Preferences keep their enabled flag so a later Restore resumes them.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for id, j := range s.jobs {
		j.cancel()
		delete(s.jobs, id)
	}
	metrics.ScheduledDestinations.Set(0)
	s.mu.Unlock()
	s.rootCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight ticks: %w", ctx.Err())
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()
	defer close(j.done)

	s.tick(ctx, j)
	if ctx.Err() != nil {
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	j.setNext(s.now().Add(s.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.setNext(s.now().Add(s.cfg.Interval))
			s.tick(ctx, j)
		}
	}
}

// lane returns the mutex serializing ticks of one destination across timer replacements.
func (s *Scheduler) lane(destID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[destID]
	if !ok {
		l = &sync.Mutex{}
		s.lanes[destID] = l
	}
	return l
}

// Deliver sends one item outside the timer. It waits for a running tick of
// destID so the tick and the manual post never both send an item above the cursor.
func (s *Scheduler) Deliver(ctx context.Context, destID int64, item model.Item) (delivery.MessageRef, error) {
	lane := s.lane(destID)
	lane.Lock()
	defer lane.Unlock()
	return s.deliverer.Deliver(ctx, destID, item)
}

func (s *Scheduler) tick(ctx context.Context, j *job) {
	lane := s.lane(j.destID)
	lane.Lock()
	defer lane.Unlock()
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	result := s.check(ctx, j)
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	metrics.Ticks.WithLabelValues(result).Inc()
}

// check runs one pass of the auto-post algorithm for a destination and
// returns its outcome as a metrics label.
func (s *Scheduler) check(ctx context.Context, j *job) string {
	destID := j.destID
	p := s.store.Get(destID)
	filters := p.Filters()

	// Oldest first, so a backlog larger than FetchLimit drains over several ticks.
	q := model.Query{
		Categories: filters.Categories,
		Tags:       filters.Tags,
		AfterID:    p.LastDeliveredItemID,
		Limit:      s.cfg.FetchLimit,
		Order:      model.OldestFirst,
	}
	j.mu.Lock()
	if !j.unbounded {
		q.Since = p.LastCheckedAt
	}
	j.mu.Unlock()

	checkedAt := s.now()
	items, err := s.source.ListItems(ctx, q)
	if err != nil {
		s.log.Error("list items", "destination_id", destID, "error", err)
		return metrics.ResultFailed
	}

	slices.SortStableFunc(items, func(a, b model.Item) int { return cmp.Compare(a.ID, b.ID) })

	result := metrics.ResultOK
	var pending *model.Item
	sent := 0
	for i := range items {
		item := items[i]
		if item.ID <= s.store.Get(destID).LastDeliveredItemID {
			continue
		}
		if !filter.Match(item, filters) {
			continue
		}
		if ctx.Err() != nil {
			pending = &item
			result = metrics.ResultSkipped
			break
		}
		if sent > 0 && !sleep(ctx, s.cfg.ItemDelay) {
			pending = &item
			result = metrics.ResultSkipped
			break
		}

		// Once started, an item's send and cursor update complete even if the timer is cancelled.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DeliveryTimeout)
		_, err := s.deliverer.Deliver(dctx, destID, item)
		cancel()
		if err != nil {
			s.log.Error("deliver item", "destination_id", destID, "item_id", item.ID, "error", err)
			pending = &item
			result = metrics.ResultFailed
			if delivery.IsPermanent(err) {
				result = metrics.ResultRejected
				s.rejected(j)
			}
			break
		}
		sent++
		j.mu.Lock()
		j.rejections = 0
		j.mu.Unlock()
	}

	// A full batch may hide newer items; resume from its newest one.
	resume := pending
	if resume == nil && len(items) >= s.cfg.FetchLimit {
		resume = &items[len(items)-1]
	}
	s.store.MarkChecked(destID, checkpoint(checkedAt, resume))
	j.mu.Lock()
	j.unbounded = resume != nil && resume.PublishedAt.IsZero()
	j.mu.Unlock()

	if sent > 0 {
		s.log.Info("delivered items", "destination_id", destID, "count", sent)
	}
	return result
}

func (s *Scheduler) rejected(j *job) {
	j.mu.Lock()
	j.rejections++
	n := j.rejections
	j.mu.Unlock()

	if s.cfg.MaxRejections <= 0 || n < s.cfg.MaxRejections {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[j.destID] != j {
		return
	}
	delete(s.jobs, j.destID)
	j.cancel()
	metrics.ScheduledDestinations.Set(float64(len(s.jobs)))
	s.store.SetAutoPosting(j.destID, false)
	s.log.Warn("auto-posting disabled after repeated rejections", "destination_id", j.destID, "rejections", n)
}

// checkpoint is the LastCheckedAt value to record after a tick. When the tick
// has to resume at an item, the bound stays just before that item so the next
// time-bounded query still returns it.
func checkpoint(checkedAt time.Time, resume *model.Item) time.Time {
	if resume == nil || resume.PublishedAt.IsZero() {
		return checkedAt
	}
	if t := resume.PublishedAt.Add(-time.Second); t.Before(checkedAt) {
		return t
	}
	return checkedAt
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
