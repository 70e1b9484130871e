// Package store wraps the embedded SQLite database that backs every other
// package: snapshots, observations, content blobs, entity records, tags and
// annotations. It is the realization of spec.md §6's "embedded relational
// store with ACID transactions, foreign-key cascade deletes, and a
// write-ahead log".
package store

import (
	"context"
	"database/sql"
	_ "embed" //nolint:gci // blank import required for go:embed

	_ "github.com/ncruces/go-sqlite3/driver" // registers the "sqlite3" database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"  // bundles the sqlite3 wasm binary, no cgo required
	"github.com/pkg/errors"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("not found")

// Store is a thin wrapper over *sql.DB: it owns connection setup (WAL mode,
// foreign-key enforcement) and schema migration, and exposes transactions
// to the packages that need single-writer discipline (snapshot.Writer).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path, applies
// the embedded schema, and enables WAL journaling plus foreign-key
// cascades. path may be ":memory:" for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite database")
	}

	db.SetMaxOpenConns(1) // single-writer discipline; readers share this handle too

	s := &Store{db: db}

	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return errors.Wrapf(err, "applying %q", p)
		}
	}

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, "applying schema")
	}

	return nil
}

// DB exposes the underlying *sql.DB for packages that issue plain reads
// outside of a writer transaction (list/get/compare/stats/health).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Begin starts a new transaction. Callers are responsible for Commit or
// Rollback; see the WithTx helper in tx.go for the common pattern.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}

	return tx, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
