/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"asset-ledger-go/internal/metrics"
	"asset-ledger-go/internal/models"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const memoryPath = ":memory:"

type Service struct {
	db               *sql.DB
	dialect          dialect
	statementTimeout time.Duration
	metrics          *metrics.Metrics
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	d, ok := dialectFor(cfg.Driver)
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if d.dollarArgs && cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty for driver %s", d.name)
	}
	if !d.dollarArgs && cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	var dsn string
	switch {
	case d.dollarArgs:
		zap.L().Info("Opening Postgres database")
		dsn = cfg.DSN
	case cfg.Path == memoryPath:
		// Every connection to :memory: is a separate database.
		zap.L().Info("Opening in-memory SQLite database")
		dsn = memoryPath
		cfg.MaxOpenConns, cfg.MaxIdleConns = 1, 1
		cfg.ConnMaxLifetime, cfg.ConnMaxIdleTime = 0, 0
	default:
		zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
		dsn = cfg.Path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"
	}

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db, dialect: d, statementTimeout: cfg.StatementTimeout}
	if err := service.initSchema(ctx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully", zap.String("driver", d.name))
	return service, nil
}

// WithMetrics attaches scope duration metrics.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) Driver() string {
	return s.dialect.name
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return classify("ping", s.db.PingContext(ctx))
}

func (s *Service) initSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// WithScope runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back on error or panic. Hooks registered with
// Scope.AfterCommit run after a successful commit only.
func (s *Service) WithScope(ctx context.Context, fn func(ctx context.Context, scope *Scope) error) error {
	return s.withScope(ctx, nil, fn)
}

// WithReadScope is WithScope over a read-only snapshot where the driver
// supports one.
func (s *Service) WithReadScope(ctx context.Context, fn func(ctx context.Context, scope *Scope) error) error {
	var opts *sql.TxOptions
	if s.dialect.dollarArgs {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return s.withScope(ctx, opts, fn)
}

func (s *Service) withScope(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, scope *Scope) error) (err error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return classify("begin", err)
	}
	scope := &Scope{tx: tx, dialect: s.dialect}

	defer func() {
		if p := recover(); p != nil {
			scope.close()
			_ = tx.Rollback()
			panic(p)
		}
		s.metrics.ObserveScope(time.Since(start), err == nil)
	}()

	if err = fn(ctx, scope); err != nil {
		scope.close()
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			zap.L().Warn("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	hooks := scope.close()
	if err = tx.Commit(); err != nil {
		return classify("commit", err)
	}

	hookCtx := context.WithoutCancel(ctx)
	for _, hook := range hooks {
		hook(hookCtx)
	}
	return nil
}

// QueryRow runs a single-row read outside any scope.
func (s *Service) QueryRow(ctx context.Context, query string, args ...any) *Row {
	ctx, cancel := s.withTimeout(ctx)
	return &Row{row: s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...), cancel: cancel}
}

// Query runs a multi-row read outside any scope and hands each row to scan.
func (s *Service) Query(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return classify("query", err)
	}
	return drain(rows, scan)
}

// Count runs a COUNT(*) query.
func (s *Service) Count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := s.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// withTimeout applies the statement timeout unless the caller already set a
// deadline.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.statementTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.statementTimeout)
}

func closeQuietly(db *sql.DB) {
	if err := db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}
