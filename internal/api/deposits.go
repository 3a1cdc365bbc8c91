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

	"go.uber.org/zap"
)

func (s *LedgerService) GetDeposit(ctx context.Context, id string) (models.Deposit, error) {
	if id == "" {
		return models.Deposit{}, invalid("deposit id is required")
	}
	return s.deposits.Get(ctx, id)
}

func (s *LedgerService) ListDeposits(ctx context.Context, filter models.DepositFilter) (models.PageResult[models.Deposit], error) {
	switch filter.Status {
	case "", models.DepositPending, models.DepositConfirmed:
	default:
		return models.PageResult[models.Deposit]{}, invalid("unknown deposit status %q", filter.Status)
	}
	if err := validateRange(filter.TimeRange); err != nil {
		return models.PageResult[models.Deposit]{}, err
	}
	filter.Page = filter.Page.Clamp()

	result, err := s.deposits.List(ctx, filter)
	if err != nil {
		logReadError("Failed to list deposits", err, zap.String("user_id", filter.UserId))
		return models.PageResult[models.Deposit]{}, fmt.Errorf("failed to retrieve deposits: %w", err)
	}
	return result, nil
}
