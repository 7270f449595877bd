// Package store implements the Repository: the durable SQLite-backed
// state store that is the only shared medium between the detached
// executor and any external observer (dashboard, CLI, MCP host).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database file through a single shared connection
// (SetMaxOpenConns(1)); a bounded wait on lock contention with other
// processes comes from SQLite's busy_timeout pragma.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the database at path, enables WAL
// and NORMAL synchronous mode so readers never block behind the
// executor's writes, and runs the additive schema migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one *DB
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path this store was opened with.
func (s *Store) Path() string { return s.path }

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error fn returns or panics with.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

func nowUTC() time.Time { return time.Now().UTC() }

// TruncateAll deletes every row from every table. Intended for
// development/test reset only, never for operator use against a live
// repository.
func (s *Store) TruncateAll(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"logs", "work_units", "workers", "jobs"} {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
				return fmt.Errorf("truncate %s: %w", table, err)
			}
		}
		return nil
	})
}
