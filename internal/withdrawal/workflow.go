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

package withdrawal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"asset-ledger-go/internal/coordination"
	"asset-ledger-go/internal/database"
	"asset-ledger-go/internal/ledger"
	"asset-ledger-go/internal/metrics"
	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Broadcaster submits an approved withdrawal to the chain side and returns
// its reference there. Implementations must be idempotent on w.Id.
type Broadcaster interface {
	Broadcast(ctx context.Context, w models.Withdrawal) (string, error)
}

var _ store.WithdrawalReader = (*Workflow)(nil)

// Workflow drives withdrawals through pending -> processing -> completed,
// with rejected reachable from either non-terminal state.
type Workflow struct {
	db          *database.Service
	ledger      *ledger.Ledger
	locker      *coordination.Locker
	limiter     *coordination.Limiter
	catalog     *models.AssetCatalog
	broadcaster Broadcaster
	rateLimit   int
	rateWindow  time.Duration
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewWorkflow(
	l *ledger.Ledger,
	locker *coordination.Locker,
	limiter *coordination.Limiter,
	catalog *models.AssetCatalog,
	cfg models.CoordinationConfig,
	m *metrics.Metrics,
) *Workflow {
	return &Workflow{
		db:         l.DB(),
		ledger:     l,
		locker:     locker,
		limiter:    limiter,
		catalog:    catalog,
		rateLimit:  cfg.WithdrawalRateLimit,
		rateWindow: cfg.WithdrawalRateWindow,
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithBroadcaster sets the chain-side submitter used by Broadcast.
func (w *Workflow) WithBroadcaster(b Broadcaster) *Workflow {
	w.broadcaster = b
	return w
}

type RequestParams struct {
	UserId     string
	Currency   string
	Chain      string
	Amount     decimal.Decimal
	Fee        decimal.Decimal // zero uses the catalog fee
	Address    string
	AddressTag string
	Remark     string
}

func lockKey(id string) string {
	return "withdrawal:" + id
}

// Request freezes the amount and records a pending withdrawal in one scope.
func (w *Workflow) Request(ctx context.Context, p RequestParams) (models.Withdrawal, error) {
	fee, err := w.validate(p)
	if err != nil {
		w.metrics.ObserveWithdrawalTransition(string(models.WithdrawalPending), false)
		return models.Withdrawal{}, err
	}

	// Only well-formed requests count against the user's quota.
	if w.limiter != nil && w.rateLimit > 0 {
		allowed, err := w.limiter.Allow(ctx, "withdraw:"+p.UserId, w.rateLimit, w.rateWindow)
		if err != nil {
			return models.Withdrawal{}, fmt.Errorf("failed to check withdrawal rate for %s: %w", p.UserId, err)
		}
		if !allowed {
			w.metrics.ObserveWithdrawalTransition(string(models.WithdrawalPending), false)
			return models.Withdrawal{}, fmt.Errorf("withdrawals for %s: %w", p.UserId, store.ErrRateLimitExceeded)
		}
	}

	now := w.now()
	wd := models.Withdrawal{
		Id:           uuid.New().String(),
		UserId:       p.UserId,
		Currency:     p.Currency,
		Chain:        p.Chain,
		Amount:       p.Amount,
		Fee:          fee,
		ActualAmount: p.Amount.Sub(fee),
		Address:      p.Address,
		AddressTag:   p.AddressTag,
		Remark:       p.Remark,
		Status:       models.WithdrawalPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = w.db.WithScope(ctx, func(ctx context.Context, scope *database.Scope) error {
		if _, err := w.ledger.Post(ctx, scope, models.Posting{
			Account:     wd.Account(),
			Op:          models.OpFreeze,
			Amount:      wd.Amount,
			Kind:        models.KindFreeze,
			Reference:   models.Reference{Type: models.RefWithdrawal, Id: wd.Id},
			Description: fmt.Sprintf("withdrawal to %s", wd.Address),
		}); err != nil {
			return err
		}
		_, err := scope.Exec(ctx, queryInsertWithdrawal,
			wd.Id, wd.UserId, wd.Currency, wd.Chain, wd.Amount, wd.Fee, wd.ActualAmount,
			wd.Address, wd.AddressTag, wd.Remark, now, now)
		return err
	})
	w.metrics.ObserveWithdrawalTransition(string(models.WithdrawalPending), err == nil)
	if err != nil {
		return models.Withdrawal{}, fmt.Errorf("failed to request withdrawal for %s: %w", wd.Account(), err)
	}

	zap.L().Info("Withdrawal requested",
		zap.String("withdrawal_id", wd.Id),
		zap.String("account", wd.Account().String()),
		zap.String("amount", wd.Amount.String()),
		zap.String("fee", wd.Fee.String()),
		zap.String("actual_amount", wd.ActualAmount.String()),
		zap.String("address", wd.Address))
	return wd, nil
}

func (w *Workflow) validate(p RequestParams) (decimal.Decimal, error) {
	account := models.Account{UserId: p.UserId, Currency: p.Currency, Chain: p.Chain}
	if err := account.Validate(); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	if p.Address == "" {
		return decimal.Zero, fmt.Errorf("%w: destination address is required", store.ErrInvalidInput)
	}
	if !p.Amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount must be positive, got %s", store.ErrInvalidInput, p.Amount)
	}
	if p.Fee.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: fee cannot be negative", store.ErrInvalidInput)
	}
	if models.ExceedsScale(p.Amount) || models.ExceedsScale(p.Fee) {
		return decimal.Zero, fmt.Errorf("%w: amounts are limited to %d decimal places", store.ErrInvalidInput, models.MaxAmountScale)
	}

	fee := p.Fee
	if asset, ok := w.catalog.Lookup(p.Currency, p.Chain); ok {
		if fee.IsZero() {
			fee = asset.WithdrawalFee
		}
		if asset.MinWithdrawal.IsPositive() && p.Amount.LessThan(asset.MinWithdrawal) {
			return decimal.Zero, fmt.Errorf("%w: amount %s is below the minimum withdrawal %s",
				store.ErrInvalidInput, p.Amount, asset.MinWithdrawal)
		}
	}
	if fee.GreaterThanOrEqual(p.Amount) {
		return decimal.Zero, fmt.Errorf("%w: fee %s must be less than amount %s", store.ErrInvalidInput, fee, p.Amount)
	}
	return fee, nil
}

// Approve moves a pending withdrawal to processing. No balance changes.
func (w *Workflow) Approve(ctx context.Context, id, auditorId string) (models.Withdrawal, error) {
	if auditorId == "" {
		return models.Withdrawal{}, fmt.Errorf("%w: auditor is required", store.ErrInvalidInput)
	}

	var wd models.Withdrawal
	err := w.db.WithScope(ctx, func(ctx context.Context, scope *database.Scope) error {
		now := w.now()
		n, err := scope.Exec(ctx, queryApproveWithdrawal, auditorId, now, now, id)
		if err != nil {
			return err
		}
		wd, err = getInScope(ctx, scope, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return transitionError(wd, models.WithdrawalProcessing)
		}
		return nil
	})
	w.metrics.ObserveWithdrawalTransition(string(models.WithdrawalProcessing), err == nil)
	if err != nil {
		return models.Withdrawal{}, fmt.Errorf("failed to approve withdrawal %s: %w", id, err)
	}

	zap.L().Info("Withdrawal approved",
		zap.String("withdrawal_id", id),
		zap.String("auditor_id", auditorId))
	return wd, nil
}

// Reject moves a pending or processing withdrawal to rejected and returns the
// frozen amount to available.
func (w *Workflow) Reject(ctx context.Context, id, auditorId, reason string) (models.Withdrawal, error) {
	if auditorId == "" || reason == "" {
		return models.Withdrawal{}, fmt.Errorf("%w: auditor and reason are required", store.ErrInvalidInput)
	}

	var wd models.Withdrawal
	err := w.locker.WithLock(ctx, lockKey(id), func(ctx context.Context) error {
		return w.db.WithScope(ctx, func(ctx context.Context, scope *database.Scope) error {
			now := w.now()
			n, err := scope.Exec(ctx, queryRejectWithdrawal, auditorId, now, reason, now, id)
			if err != nil {
				return err
			}
			wd, err = getInScope(ctx, scope, id)
			if err != nil {
				return err
			}
			if n == 0 {
				return transitionError(wd, models.WithdrawalRejected)
			}
			_, err = w.ledger.Post(ctx, scope, models.Posting{
				Account:     wd.Account(),
				Op:          models.OpUnfreeze,
				Amount:      wd.Amount,
				Kind:        models.KindUnfreeze,
				Reference:   models.Reference{Type: models.RefWithdrawal, Id: wd.Id},
				Description: reason,
			})
			return err
		})
	})
	w.metrics.ObserveWithdrawalTransition(string(models.WithdrawalRejected), err == nil)
	if err != nil {
		return models.Withdrawal{}, fmt.Errorf("failed to reject withdrawal %s: %w", id, err)
	}

	zap.L().Info("Withdrawal rejected",
		zap.String("withdrawal_id", id),
		zap.String("auditor_id", auditorId),
		zap.String("reason", reason),
		zap.String("released", wd.Amount.String()))
	return wd, nil
}

// Broadcast submits a processing withdrawal and records the returned
// reference as its txid. A withdrawal that already has a txid is returned
// unchanged.
func (w *Workflow) Broadcast(ctx context.Context, id string) (models.Withdrawal, error) {
	if w.broadcaster == nil {
		return models.Withdrawal{}, fmt.Errorf("no broadcaster configured")
	}

	var wd models.Withdrawal
	err := w.locker.WithLock(ctx, lockKey(id), func(ctx context.Context) error {
		var err error
		wd, err = w.Get(ctx, id)
		if err != nil {
			return err
		}
		if wd.Status != models.WithdrawalProcessing {
			return transitionError(wd, models.WithdrawalProcessing)
		}
		if wd.TxId != "" {
			return nil
		}

		ref, err := w.broadcaster.Broadcast(ctx, wd)
		if err != nil {
			return fmt.Errorf("broadcast failed: %w", err)
		}

		return w.db.WithScope(ctx, func(ctx context.Context, scope *database.Scope) error {
			n, err := scope.Exec(ctx, queryRecordBroadcast, ref, w.now(), id)
			if err != nil {
				return err
			}
			wd, err = getInScope(ctx, scope, id)
			if err != nil {
				return err
			}
			if n == 0 && wd.TxId != ref {
				return transitionError(wd, models.WithdrawalProcessing)
			}
			return nil
		})
	})
	if err != nil {
		return models.Withdrawal{}, fmt.Errorf("failed to broadcast withdrawal %s: %w", id, err)
	}

	zap.L().Info("Withdrawal broadcast",
		zap.String("withdrawal_id", id),
		zap.String("txid", wd.TxId),
		zap.String("actual_amount", wd.ActualAmount.String()),
		zap.String("address", wd.Address))
	return wd, nil
}

// Complete settles a processing withdrawal: the frozen amount leaves the
// account and a debit-withdrawal entry references the chain transaction.
// An empty txid keeps the one recorded by Broadcast.
func (w *Workflow) Complete(ctx context.Context, id, txid string) (models.Withdrawal, error) {
	var wd models.Withdrawal
	err := w.locker.WithLock(ctx, lockKey(id), func(ctx context.Context) error {
		return w.db.WithScope(ctx, func(ctx context.Context, scope *database.Scope) error {
			now := w.now()
			n, err := scope.Exec(ctx, queryCompleteWithdrawal, txid, txid, now, now, id)
			if err != nil {
				return err
			}
			wd, err = getInScope(ctx, scope, id)
			if err != nil {
				return err
			}
			if n == 0 {
				return transitionError(wd, models.WithdrawalCompleted)
			}

			ref := models.Reference{Type: models.RefChainTx, Id: wd.TxId}
			if wd.TxId == "" {
				ref = models.Reference{Type: models.RefWithdrawal, Id: wd.Id}
			}
			_, err = w.ledger.Post(ctx, scope, models.Posting{
				Account:     wd.Account(),
				Op:          models.OpDeductFrozen,
				Amount:      wd.Amount,
				Kind:        models.KindDebitWithdrawal,
				Reference:   ref,
				Description: fmt.Sprintf("withdrawal %s", wd.Id),
			})
			return err
		})
	})
	w.metrics.ObserveWithdrawalTransition(string(models.WithdrawalCompleted), err == nil)
	if err != nil {
		return models.Withdrawal{}, fmt.Errorf("failed to complete withdrawal %s: %w", id, err)
	}

	zap.L().Info("Withdrawal completed",
		zap.String("withdrawal_id", id),
		zap.String("txid", wd.TxId),
		zap.String("amount", wd.Amount.String()))
	return wd, nil
}

func (w *Workflow) Get(ctx context.Context, id string) (models.Withdrawal, error) {
	wd, err := scanWithdrawal(w.db.QueryRow(ctx, queryGetWithdrawal, id))
	if errors.Is(err, database.ErrNoRows) {
		return models.Withdrawal{}, fmt.Errorf("withdrawal %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return models.Withdrawal{}, fmt.Errorf("failed to get withdrawal %s: %w", id, err)
	}
	return wd, nil
}

// List returns withdrawals newest first.
func (w *Workflow) List(ctx context.Context, filter models.WithdrawalFilter) (models.PageResult[models.Withdrawal], error) {
	page := filter.Page.Clamp()
	where := (&database.Where{}).
		Eq("user_id", filter.UserId).
		Eq("currency", filter.Currency).
		Eq("chain", filter.Chain).
		Eq("status", string(filter.Status)).
		Between("created_at", filter.TimeRange)

	total, err := w.db.Count(ctx, queryCountWithdrawals+where.SQL(), where.Args()...)
	if err != nil {
		return models.PageResult[models.Withdrawal]{}, fmt.Errorf("failed to count withdrawals: %w", err)
	}

	items := make([]models.Withdrawal, 0, page.Limit)
	query := querySelectWithdrawals + where.SQL() + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	err = w.db.Query(ctx, query, where.Paged(page), func(rows *sql.Rows) error {
		wd, err := scanWithdrawal(rows)
		if err != nil {
			return err
		}
		items = append(items, wd)
		return nil
	})
	if err != nil {
		return models.PageResult[models.Withdrawal]{}, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	return models.PageResult[models.Withdrawal]{Items: items, Total: total}, nil
}

// PendingBroadcast returns approved withdrawals that have not been submitted
// yet, oldest first.
func (w *Workflow) PendingBroadcast(ctx context.Context, limit int) ([]models.Withdrawal, error) {
	if limit <= 0 || limit > models.MaxPageLimit {
		limit = models.MaxPageLimit
	}
	var out []models.Withdrawal
	err := w.db.Query(ctx, queryPendingBroadcast, []any{limit}, func(rows *sql.Rows) error {
		wd, err := scanWithdrawal(rows)
		if err != nil {
			return err
		}
		out = append(out, wd)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals awaiting broadcast: %w", err)
	}
	return out, nil
}

func getInScope(ctx context.Context, scope *database.Scope, id string) (models.Withdrawal, error) {
	wd, err := scanWithdrawal(scope.QueryRow(ctx, queryGetWithdrawal, id))
	if errors.Is(err, database.ErrNoRows) {
		return models.Withdrawal{}, fmt.Errorf("withdrawal %s: %w", id, store.ErrNotFound)
	}
	return wd, err
}

func transitionError(wd models.Withdrawal, to models.WithdrawalStatus) error {
	return fmt.Errorf("withdrawal %s is %s, cannot move to %s: %w", wd.Id, wd.Status, to, store.ErrInvalidStateTransition)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWithdrawal(row scanner) (models.Withdrawal, error) {
	var wd models.Withdrawal
	var status string
	var auditTime, completeTime sql.NullTime
	err := row.Scan(&wd.Id, &wd.UserId, &wd.Currency, &wd.Chain, &wd.Amount, &wd.Fee, &wd.ActualAmount,
		&wd.Address, &wd.AddressTag, &wd.Remark, &wd.TxId, &status, &wd.AuditorId, &auditTime, &wd.RejectReason,
		&completeTime, &wd.CreatedAt, &wd.UpdatedAt)
	if err != nil {
		return models.Withdrawal{}, err
	}
	wd.Status = models.WithdrawalStatus(status)
	if auditTime.Valid {
		t := auditTime.Time
		wd.AuditTime = &t
	}
	if completeTime.Valid {
		t := completeTime.Time
		wd.CompleteTime = &t
	}
	return wd, nil
}
