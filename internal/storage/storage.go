// Package storage persists best-effort snapshots of destination preferences.
package storage

import (
	"context"

	"autopost_bot/internal/model"
)

// Storage saves and loads the full preferences map.
type Storage interface {
	SavePreferences(ctx context.Context, list []model.Preferences) error
	LoadPreferences(ctx context.Context) ([]model.Preferences, error)
	Close() error
}
