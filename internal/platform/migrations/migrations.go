// Package migrations applies the embedded SQL schema in lexical filename
// order. This is the fallback path used when golang-migrate's file source
// driver can't be opened; cmd/primaryd prefers golang-migrate against
// database/migrations/*.{up,down}.sql (the versioned, reversible copy of
// this same schema) and falls back to Apply otherwise.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

//go:embed *.sql
var files embed.FS

// Migrate runs every pending up migration in dir (expected to be
// "database/migrations") via golang-migrate, falling back to Apply against
// the embedded copy if the file source or postgres database driver can't be
// constructed.
func Migrate(ctx context.Context, db *sql.DB, dir string) error {
	target, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return Apply(ctx, db)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", target)
	if err != nil {
		return Apply(ctx, db)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: golang-migrate up: %w", err)
	}
	return nil
}

// Apply executes every embedded .sql file against db in ascending filename
// order. Each file is expected to be idempotent (guarded with IF NOT EXISTS
// / ON CONFLICT as appropriate) so re-running Apply against an
// already-migrated database is safe.
func Apply(ctx context.Context, db *sql.DB) error {
	entries, err := files.ReadDir(".")
	if err != nil {
		return fmt.Errorf("migrations: read dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("migrations: read %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("migrations: apply %s: %w", name, err)
		}
	}
	return nil
}
