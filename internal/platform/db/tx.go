package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTxConflict marks a transaction aborted by a deadlock or a serialization
// failure. Nothing was committed; the caller may retry the whole operation.
var ErrTxConflict = errors.New("platform/db: transaction conflict")

// WithTx executes fn within a transaction using the given isolation level.
// The transaction is rolled back when fn returns an error.
func WithTx(ctx context.Context, pool *pgxpool.Pool, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return markConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return markConflict(fmt.Errorf("platform/db: commit tx: %w", err))
	}
	return nil
}

func markConflict(err error) error {
	if Retryable(err) && !errors.Is(err, ErrTxConflict) {
		return fmt.Errorf("%w: %w", ErrTxConflict, err)
	}
	return err
}

// Retryable reports whether err is a deadlock (40P01) or a serialization
// failure (40001).
func Retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40P01" || pgErr.Code == "40001"
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsUniqueViolationOn reports whether err violates the named unique index.
func IsUniqueViolationOn(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
