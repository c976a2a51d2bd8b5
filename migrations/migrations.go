// Package migrations holds the preference snapshot schema as embedded goose migrations.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var schema embed.FS

const dialect = "sqlite3"

// Setup configures goose for the embedded schema. Callers that drive goose
// directly, like cmd/migrate, must call it first.
func Setup() error {
	goose.SetBaseFS(schema)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect %s: %w", dialect, err)
	}
	return nil
}

// Run brings db up to the latest schema and reports the resulting version.
// Goose's own progress output is silenced; the caller logs the outcome.
func Run(ctx context.Context, db *sql.DB) (int64, error) {
	if err := Setup(); err != nil {
		return 0, err
	}
	goose.SetLogger(goose.NopLogger())
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return 0, fmt.Errorf("apply schema: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
