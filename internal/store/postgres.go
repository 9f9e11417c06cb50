// Package store is the relational adapter and the canonical anchor of the
// tri-store: fragments, the candidate ledger, promoted open codes, memos,
// runner mirrors and the audit trail all have their source of truth here.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Store wraps the PostgreSQL connection pool.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New connects to PostgreSQL, verifies connectivity and applies pending
// migrations. Fails fast on credential or schema problems.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn missing")
	}

	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger := slog.Default().With("component", "postgres")
	s := &Store{db: db, logger: logger}

	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	logger.Info("postgres store ready")
	return s, nil
}

// NewWithDB wraps an existing database handle; used by tests.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db, logger: slog.Default().With("component", "postgres")}
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck verifies connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

// inTx runs fn in a short transaction; mutations never hold long locks.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
