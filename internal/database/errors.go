package database

import (
	"database/sql"
	"errors"
	"fmt"

	"asset-ledger-go/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// ErrNoRows is returned unchanged so callers can tell a failed guard or a
// missing row apart from a store failure.
var ErrNoRows = sql.ErrNoRows

const pgUniqueViolation = "23505"

// classify maps driver errors onto the store taxonomy. Anything that is not a
// missing row or a unique collision is a store failure: the caller must not
// assume the statement applied.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, store.ErrScopeClosed):
		return err
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w: %w", op, store.ErrDuplicate, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, store.ErrStoreUnavailable, err)
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
