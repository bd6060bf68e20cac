// Package repository implements the profile store on PostgreSQL and in memory.
//
// The Postgres implementation talks to database/sql through the pgx stdlib
// driver. Every mutation is a field-scoped UPDATE: billing writes never touch
// usage columns and usage writes never touch billing columns.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/DukeRupert/aptix/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// pgUniqueViolation is SQLSTATE 23505.
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// storeError maps driver errors onto domain errors.
func storeError(err error, op, userID string) error {
	switch {
	case err == nil:
		return nil
	case isNoRows(err):
		return domain.UserNotFound(op, userID)
	case isUniqueViolation(err):
		return &domain.Error{
			Code:    domain.ECONFLICT,
			Op:      op,
			Message: "billing customer is already bound to another user",
			Err:     domain.ErrCustomerMismatch,
		}
	default:
		return domain.Unavailable(err, op)
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
