package database

import (
	"context"
	"database/sql"
	"sync"

	"asset-ledger-go/internal/store"

	"go.uber.org/zap"
)

// Scope is an open transaction handed to the closure passed to
// Service.WithScope. It cannot be committed or rolled back by the holder and
// refuses every call once the closure has returned.
type Scope struct {
	tx      *sql.Tx
	dialect dialect

	mu     sync.Mutex
	closed bool
	hooks  []func(context.Context)
}

// Exec runs a statement and returns the number of affected rows.
func (s *Scope) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	res, err := s.tx.ExecContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return 0, classify("exec", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("rows affected", err)
	}
	return n, nil
}

// QueryRow runs a query expected to return at most one row. A missing row
// surfaces from Scan as ErrNoRows.
func (s *Scope) QueryRow(ctx context.Context, query string, args ...any) *Row {
	if err := s.check(); err != nil {
		return &Row{err: err}
	}
	return &Row{row: s.tx.QueryRowContext(ctx, s.dialect.rebind(query), args...)}
}

// Query runs a query and hands each row to scan.
func (s *Scope) Query(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	if err := s.check(); err != nil {
		return err
	}
	rows, err := s.tx.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return classify("query", err)
	}
	return drain(rows, scan)
}

// AfterCommit registers fn to run once the transaction has committed. It
// never runs when the scope rolls back.
func (s *Scope) AfterCommit(fn func(context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrScopeClosed
	}
	s.hooks = append(s.hooks, fn)
	return nil
}

func (s *Scope) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrScopeClosed
	}
	return nil
}

func (s *Scope) close() []func(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	hooks := s.hooks
	s.hooks = nil
	return hooks
}

// Row wraps sql.Row with store error classification.
type Row struct {
	row    *sql.Row
	err    error
	cancel context.CancelFunc
}

func (r *Row) Scan(dest ...any) error {
	if r.cancel != nil {
		defer r.cancel()
	}
	if r.err != nil {
		return r.err
	}
	return classify("scan", r.row.Scan(dest...))
}

func drain(rows *sql.Rows, scan func(*sql.Rows) error) error {
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return classify("rows", rows.Err())
}
