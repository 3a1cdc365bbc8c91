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
	"errors"
	"fmt"

	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"go.uber.org/zap"
)

// GetUserBalance returns the balance row of one account. A never-touched
// account reads as zero.
func (s *LedgerService) GetUserBalance(ctx context.Context, account models.Account) (models.UserAsset, error) {
	if err := account.Validate(); err != nil {
		return models.UserAsset{}, invalid("%v", err)
	}

	balance, err := s.balances.GetBalance(ctx, account)
	if errors.Is(err, store.ErrNotFound) {
		return models.UserAsset{Account: account}, nil
	}
	if err != nil {
		logReadError("Failed to get user balance", err, zap.String("account", account.String()))
		return models.UserAsset{}, fmt.Errorf("failed to retrieve balance: %w", err)
	}
	return balance, nil
}

// GetUserBalances returns every balance of a user, one page at a time
func (s *LedgerService) GetUserBalances(ctx context.Context, userId string, page models.Page) (models.PageResult[models.UserAsset], error) {
	if userId == "" {
		return models.PageResult[models.UserAsset]{}, invalid("user_id is required")
	}
	return s.ListBalances(ctx, models.BalanceFilter{UserId: userId, Page: page})
}

func (s *LedgerService) ListBalances(ctx context.Context, filter models.BalanceFilter) (models.PageResult[models.UserAsset], error) {
	filter.Page = filter.Page.Clamp()

	result, err := s.balances.ListBalances(ctx, filter)
	if err != nil {
		logReadError("Failed to list balances", err, zap.String("user_id", filter.UserId))
		return models.PageResult[models.UserAsset]{}, fmt.Errorf("failed to retrieve balances: %w", err)
	}
	return result, nil
}

// GetTransactionHistory returns journal entries newest first
func (s *LedgerService) GetTransactionHistory(ctx context.Context, filter models.JournalFilter) (models.PageResult[models.AssetTransaction], error) {
	if filter.UserId == "" {
		return models.PageResult[models.AssetTransaction]{}, invalid("user_id is required")
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return models.PageResult[models.AssetTransaction]{}, invalid("unknown transaction kind %q", filter.Kind)
	}
	if err := validateRange(filter.TimeRange); err != nil {
		return models.PageResult[models.AssetTransaction]{}, err
	}
	filter.Page = filter.Page.Clamp()

	result, err := s.journal.ListJournal(ctx, filter)
	if err != nil {
		logReadError("Failed to get transaction history", err,
			zap.String("user_id", filter.UserId),
			zap.String("currency", filter.Currency),
			zap.String("chain", filter.Chain))
		return models.PageResult[models.AssetTransaction]{}, fmt.Errorf("failed to retrieve transaction history: %w", err)
	}
	return result, nil
}
