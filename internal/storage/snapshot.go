package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"autopost_bot/internal/model"
)

// Source provides the state to snapshot.
type Source interface {
	Snapshot() []model.Preferences
}

// Snapshotter writes the preferences map to storage on a cron schedule.
type Snapshotter struct {
	store   Storage
	source  Source
	log     *slog.Logger
	timeout time.Duration
	c       *cron.Cron
}

// NewSnapshotter parses spec (standard five-field cron or a descriptor such
// as "@every 5m") and prepares a snapshotter. Start must be called to run it.
func NewSnapshotter(store Storage, source Source, spec string, log *slog.Logger) (*Snapshotter, error) {
	s := &Snapshotter{
		store:   store,
		source:  source,
		log:     log,
		timeout: 30 * time.Second,
		c:       cron.New(cron.WithLocation(time.UTC)),
	}
	if _, err := s.c.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("parse snapshot schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins the periodic snapshots.
func (s *Snapshotter) Start() {
	s.c.Start()
	s.log.Info("snapshotter started")
}

// Stop waits for a running snapshot to finish and writes a final one.
func (s *Snapshotter) Stop(ctx context.Context) error {
	<-s.c.Stop().Done()
	if err := s.Save(ctx); err != nil {
		return fmt.Errorf("final snapshot: %w", err)
	}
	s.log.Info("snapshotter stopped")
	return nil
}

// Save writes one snapshot.
func (s *Snapshotter) Save(ctx context.Context) error {
	list := s.source.Snapshot()
	if err := s.store.SavePreferences(ctx, list); err != nil {
		return err
	}
	s.log.Debug("preferences snapshot saved", "destinations", len(list))
	return nil
}

func (s *Snapshotter) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.Save(ctx); err != nil {
		s.log.Error("save snapshot", "error", err)
	}
}
