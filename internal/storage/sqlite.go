package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"autopost_bot/internal/model"
	"autopost_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db      *sql.DB
	version int64
	now     func() time.Time
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	version, err := migrations.Run(context.Background(), db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, version: version, now: time.Now}, nil
}

// SchemaVersion returns the schema version applied when the database was opened.
func (s *SQLite) SchemaVersion() int64 {
	return s.version
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SavePreferences upserts every entry in a single transaction.
func (s *SQLite) SavePreferences(ctx context.Context, list []model.Preferences) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO preferences
		   (destination_id, categories, tags, auto_posting, last_delivered_item_id, last_checked_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (destination_id) DO UPDATE SET
		   categories = excluded.categories,
		   tags = excluded.tags,
		   auto_posting = excluded.auto_posting,
		   last_delivered_item_id = excluded.last_delivered_item_id,
		   last_checked_at = excluded.last_checked_at,
		   updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := s.now().UTC().Format(timeLayout)
	for _, p := range list {
		cats, err := encodeIDs(p.CategoryFilter)
		if err != nil {
			return err
		}
		tags, err := encodeIDs(p.TagFilter)
		if err != nil {
			return err
		}
		var lastChecked *string
		if p.LastCheckedAt != nil {
			v := p.LastCheckedAt.UTC().Format(timeLayout)
			lastChecked = &v
		}
		if _, err := stmt.ExecContext(ctx,
			p.DestinationID, cats, tags, boolToInt(p.AutoPostingEnabled), p.LastDeliveredItemID, lastChecked, now,
		); err != nil {
			return fmt.Errorf("upsert preferences %d: %w", p.DestinationID, err)
		}
	}
	return tx.Commit()
}

// LoadPreferences returns all stored entries ordered by destination id.
func (s *SQLite) LoadPreferences(ctx context.Context) ([]model.Preferences, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT destination_id, categories, tags, auto_posting, last_delivered_item_id, last_checked_at
		 FROM preferences ORDER BY destination_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var list []model.Preferences
	for rows.Next() {
		p, err := scanPreferences(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeIDs(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode ids: %w", err)
	}
	return string(b), nil
}

func decodeIDs(raw string) ([]int64, error) {
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPreferences(row scannable) (model.Preferences, error) {
	var p model.Preferences
	var cats, tags string
	var autoPosting int
	var lastChecked sql.NullString
	err := row.Scan(&p.DestinationID, &cats, &tags, &autoPosting, &p.LastDeliveredItemID, &lastChecked)
	if err != nil {
		return p, fmt.Errorf("scan preferences: %w", err)
	}
	if p.CategoryFilter, err = decodeIDs(cats); err != nil {
		return p, fmt.Errorf("decode categories of %d: %w", p.DestinationID, err)
	}
	if p.TagFilter, err = decodeIDs(tags); err != nil {
		return p, fmt.Errorf("decode tags of %d: %w", p.DestinationID, err)
	}
	p.AutoPostingEnabled = autoPosting == 1
	if lastChecked.Valid {
		t, err := time.Parse(timeLayout, lastChecked.String)
		if err != nil {
			return p, fmt.Errorf("parse last_checked_at of %d: %w", p.DestinationID, err)
		}
		p.LastCheckedAt = &t
	}
	return p, nil
}
