package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// WithTx runs fn inside a transaction begun on s, committing on success and
// rolling back (and discarding any rollback error) on failure or panic.
// This is the single chokepoint every multi-statement write in the core
// goes through, matching the "begins a transaction ... commits" contract of
// spec.md §4.4.
func WithTx(ctx context.Context, s *Store, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback() //nolint:errcheck
			panic(p)
		}

		if err != nil {
			tx.Rollback() //nolint:errcheck
		}
	}()

	if err = fn(tx); err != nil {
		return errors.Wrap(err, "transaction failed")
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}

	return nil
}
