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

package api

import (
	"context"
	"fmt"

	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"go.uber.org/zap"
)

// Pinger is satisfied by database.Service and kvstore.Redis.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Dependencies struct {
	Balances    store.BalanceReader
	Journal     store.JournalReader
	Deposits    store.DepositReader
	Withdrawals store.WithdrawalReader
	DB          Pinger
	KV          Pinger // optional
}

// LedgerService is the read-side API over balances, journal, deposits and
// withdrawals. Inputs are validated and pages clamped before any store call.
type LedgerService struct {
	balances    store.BalanceReader
	journal     store.JournalReader
	deposits    store.DepositReader
	withdrawals store.WithdrawalReader
	db          Pinger
	kv          Pinger
}

func NewLedgerService(deps Dependencies) *LedgerService {
	return &LedgerService{
		balances:    deps.Balances,
		journal:     deps.Journal,
		deposits:    deps.Deposits,
		withdrawals: deps.Withdrawals,
		db:          deps.DB,
		kv:          deps.KV,
	}
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if s.kv != nil {
		if err := s.kv.Ping(ctx); err != nil {
			return fmt.Errorf("key-value store health check failed: %w", err)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidInput, fmt.Sprintf(format, args...))
}

func validateRange(r models.TimeRange) error {
	if !r.From.IsZero() && !r.To.IsZero() && r.From.After(r.To) {
		return invalid("from must not be after to")
	}
	return nil
}

func logReadError(msg string, err error, fields ...zap.Field) {
	zap.L().Error(msg, append(fields, zap.Error(err))...)
}
