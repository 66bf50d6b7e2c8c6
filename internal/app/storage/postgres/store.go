// Package postgres is the production storage.Store implementation,
// backed by sqlx over lib/pq. Every entity method accepts a context.Context
// first and runs against whichever sqlx.ExtContext the Store currently
// wraps — the base *sqlx.DB outside a transaction, or a *sqlx.Tx inside one
// opened by WithTx — so callers write the same code either way.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
)

// Store implements storage.Store.
type Store struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

var _ storage.Store = (*Store)(nil)

// New wraps an existing *sqlx.DB connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, ext: db}
}

// WithTx runs fn against a Store backed by a single transaction, committing
// on a nil return and rolling back otherwise. Nested calls (a Store already
// backed by a *sqlx.Tx) reuse the existing transaction rather than opening a
// second one.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	if _, already := s.ext.(*sqlx.Tx); already {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	txStore := &Store{db: s.db, ext: tx}
	if err := fn(ctx, txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// errNoRows normalizes sql.ErrNoRows so callers can errors.Is against it
// uniformly regardless of which helper produced it.
func errNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sql.ErrNoRows
	}
	return err
}

// nullTime converts an optional timestamp to a driver-friendly sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
