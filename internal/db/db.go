// Package db holds the PostgreSQL repositories behind the TurfWatch API and
// workers. Every repository takes a DBTX rather than a concrete pool, so a
// handler can run several repository calls inside one pgx.Tx without the
// repositories knowing they are in a transaction.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the query surface common to *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SQLSTATE 23505, raised on unique index collisions. Repositories map it to
// a conflict_* error so duplicate inserts surface as 409s, not 500s.
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// nilIfEmptyString maps "" to NULL for nullable VARCHAR columns.
func nilIfEmptyString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nilIfZeroTime maps the zero time to NULL. Paired with COALESCE($n, NOW())
// in inserts so callers may leave CreatedAt unset.
func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
