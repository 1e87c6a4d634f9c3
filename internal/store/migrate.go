package store

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending switchboard-schema migration. Per-butler
// schemas are not goose-managed (their name is only known at runtime, one
// per configured butler); EnsureButlerSchema creates those idempotently.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	goose.SetTableName("switchboard.schema_migrations")
	return goose.UpContext(ctx, db, "migrations")
}
