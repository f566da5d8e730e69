// Package pgstore implements game.Store on PostgreSQL through pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"racket/internal/game"
)

const (
	maxTxAttempts  = 8
	firstRetryWait = 75 * time.Millisecond
	maxRetryWait   = 1200 * time.Millisecond
)

type Store struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

var _ game.Store = (*Store)(nil)

func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger}
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InTx runs fn in a read-committed transaction. Row locks come from
// SELECT ... FOR UPDATE; serialization failures and deadlocks are retried
// with exponential backoff.
func (s *Store) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	retryDelay := firstRetryWait
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		s.log.Debug("retrying transaction", "attempt", attempt+1, "err", err)
		if attempt == maxTxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < maxRetryWait {
			retryDelay *= 2
		}
	}
	return game.ErrTxConflict
}

func (s *Store) runTx(ctx context.Context, fn func(tx game.Tx) error) error {
	pgtx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer pgtx.Rollback(ctx)

	if err := fn(&tx{q: pgtx}); err != nil {
		return err
	}
	return pgtx.Commit(ctx)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", game.ErrNotFound, kind, id)
	}
	return err
}

func collectStrings(rows pgx.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
