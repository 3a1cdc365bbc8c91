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

package deposit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"asset-ledger-go/internal/database"
	"asset-ledger-go/internal/ledger"
	"asset-ledger-go/internal/metrics"
	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ConfirmationPolicy decides whether observed confirmations may decrease.
type ConfirmationPolicy string

const (
	// PolicyMonotonic ignores observations lower than the stored count.
	PolicyMonotonic ConfirmationPolicy = "monotonic"
	// PolicyAllowRollback accepts any count while pending, so a reorg can
	// push a deposit back under its threshold.
	PolicyAllowRollback ConfirmationPolicy = "allow-rollback"
)

var _ store.DepositReader = (*Tracker)(nil)

// Tracker turns chain confirmation events into exactly-once ledger credits.
type Tracker struct {
	db              *database.Service
	ledger          *ledger.Ledger
	catalog         *models.AssetCatalog
	policy          ConfirmationPolicy
	defaultRequired int
	metrics         *metrics.Metrics
	now             func() time.Time
}

func NewTracker(l *ledger.Ledger, catalog *models.AssetCatalog, cfg models.DepositConfig, m *metrics.Metrics) *Tracker {
	policy := ConfirmationPolicy(cfg.ConfirmationPolicy)
	if policy != PolicyAllowRollback {
		policy = PolicyMonotonic
	}
	required := cfg.DefaultRequiredConfirmations
	if required < 1 {
		required = 1
	}
	return &Tracker{
		db:              l.DB(),
		ledger:          l,
		catalog:         catalog,
		policy:          policy,
		defaultRequired: required,
		metrics:         m,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

type RegisterParams struct {
	UserId                string
	Currency              string
	Chain                 string
	TxId                  string
	Address               string
	FromAddress           string
	Amount                decimal.Decimal
	RequiredConfirmations int // zero falls back to the catalog, then the default
}

// Register records a newly observed deposit, or returns the existing row for
// the same (txid, currency, chain). created reports which.
func (t *Tracker) Register(ctx context.Context, p RegisterParams) (models.Deposit, bool, error) {
	if p.TxId == "" {
		return models.Deposit{}, false, fmt.Errorf("%w: txid is required", store.ErrInvalidInput)
	}
	account := models.Account{UserId: p.UserId, Currency: p.Currency, Chain: p.Chain}
	if err := account.Validate(); err != nil {
		return models.Deposit{}, false, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	if !p.Amount.IsPositive() {
		return models.Deposit{}, false, fmt.Errorf("%w: deposit amount must be positive, got %s", store.ErrInvalidInput, p.Amount)
	}
	if models.ExceedsScale(p.Amount) {
		return models.Deposit{}, false, fmt.Errorf("%w: deposit amount %s has more than %d decimal places",
			store.ErrInvalidInput, p.Amount, models.MaxAmountScale)
	}

	required := p.RequiredConfirmations
	if required <= 0 {
		if asset, ok := t.catalog.Lookup(p.Currency, p.Chain); ok && asset.RequiredConfirmations > 0 {
			required = asset.RequiredConfirmations
		} else {
			required = t.defaultRequired
		}
	}

	var dep models.Deposit
	var created bool
	err := t.db.WithScope(ctx, func(ctx context.Context, scope *database.Scope) error {
		now := t.now()
		n, err := scope.Exec(ctx, queryInsertDeposit,
			uuid.New().String(), p.UserId, p.Currency, p.Chain, p.TxId, p.Address, p.FromAddress, p.Amount,
			0, required, now, now)
		if err != nil {
			return err
		}
		created = n == 1
		dep, err = scanDeposit(scope.QueryRow(ctx, queryGetDepositByTx, p.TxId, p.Currency, p.Chain))
		return err
	})
	if err != nil {
		return models.Deposit{}, false, fmt.Errorf("failed to register deposit %s: %w", p.TxId, err)
	}

	if created {
		zap.L().Info("Deposit registered",
			zap.String("deposit_id", dep.Id),
			zap.String("txid", dep.TxId),
			zap.String("account", account.String()),
			zap.String("amount", dep.Amount.String()),
			zap.Int("required_confirmations", dep.RequiredConfirmations))
	} else if !dep.Amount.Equal(p.Amount) || dep.UserId != p.UserId {
		zap.L().Warn("Deposit re-observed with different details, keeping original",
			zap.String("deposit_id", dep.Id),
			zap.String("txid", dep.TxId),
			zap.String("stored_amount", dep.Amount.String()),
			zap.String("observed_amount", p.Amount.String()))
	}
	return dep, created, nil
}

// Observe stores the latest confirmation count of a pending deposit. Under
// the monotonic policy a lower count is ignored. Confirmed deposits are left
// untouched.
func (t *Tracker) Observe(ctx context.Context, id string, confirmations int) (models.Deposit, error) {
	if confirmations < 0 {
		return models.Deposit{}, fmt.Errorf("%w: confirmations cannot be negative", store.ErrInvalidInput)
	}

	var dep models.Deposit
	err := t.db.WithScope(ctx, func(ctx context.Context, scope *database.Scope) error {
		var err error
		if t.policy == PolicyMonotonic {
			_, err = scope.Exec(ctx, queryObserveMonotonic, confirmations, t.now(), id, confirmations)
		} else {
			_, err = scope.Exec(ctx, queryObserveAny, confirmations, t.now(), id)
		}
		if err != nil {
			return err
		}
		dep, err = scanDeposit(scope.QueryRow(ctx, queryGetDeposit, id))
		return err
	})
	if errors.Is(err, database.ErrNoRows) {
		return models.Deposit{}, fmt.Errorf("deposit %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return models.Deposit{}, fmt.Errorf("failed to observe deposit %s: %w", id, err)
	}

	if dep.Status == models.DepositPending && dep.Confirmations != confirmations {
		zap.L().Debug("Ignoring lower confirmation count",
			zap.String("deposit_id", id),
			zap.Int("stored", dep.Confirmations),
			zap.Int("observed", confirmations))
	}
	return dep, nil
}

// Finalize confirms a pending deposit that reached its threshold and credits
// the ledger in the same scope. credited is false when the deposit was
// already confirmed.
func (t *Tracker) Finalize(ctx context.Context, id string) (bool, error) {
	var dep models.Deposit
	credited := false
	err := t.db.WithScope(ctx, func(ctx context.Context, scope *database.Scope) error {
		now := t.now()
		n, err := scope.Exec(ctx, queryConfirmDeposit, now, now, id)
		if err != nil {
			return err
		}
		dep, err = scanDeposit(scope.QueryRow(ctx, queryGetDeposit, id))
		if errors.Is(err, database.ErrNoRows) {
			return fmt.Errorf("deposit %s: %w", id, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			if dep.Status == models.DepositConfirmed {
				return nil
			}
			return fmt.Errorf("deposit %s has %d of %d confirmations: %w",
				id, dep.Confirmations, dep.RequiredConfirmations, store.ErrInvalidStateTransition)
		}

		_, err = t.ledger.Post(ctx, scope, models.Posting{
			Account:     dep.Account(),
			Op:          models.OpCredit,
			Amount:      dep.Amount,
			Kind:        models.KindCreditDeposit,
			Reference:   models.Reference{Type: models.RefDeposit, Id: dep.Id},
			Description: fmt.Sprintf("deposit %s", dep.TxId),
		})
		if err != nil {
			return err
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to finalize deposit %s: %w", id, err)
	}

	if !credited {
		zap.L().Debug("Deposit already confirmed", zap.String("deposit_id", id))
		return false, nil
	}
	t.metrics.ObserveDepositFinalized()
	zap.L().Info("Deposit confirmed and credited",
		zap.String("deposit_id", dep.Id),
		zap.String("txid", dep.TxId),
		zap.String("account", dep.Account().String()),
		zap.String("amount", dep.Amount.String()),
		zap.Int("confirmations", dep.Confirmations))
	return true, nil
}

// HandleEvent applies one chain deposit event: register, observe, and
// finalize once the threshold is met. Redelivered events are harmless.
func (t *Tracker) HandleEvent(ctx context.Context, ev models.ChainEvent) (models.Deposit, error) {
	if ev.Type != models.EventDeposit {
		return models.Deposit{}, fmt.Errorf("%w: unexpected event type %q", store.ErrInvalidInput, ev.Type)
	}

	dep, _, err := t.Register(ctx, RegisterParams{
		UserId:                ev.UserId,
		Currency:              ev.Currency,
		Chain:                 ev.Chain,
		TxId:                  ev.TxId,
		Address:               ev.Address,
		FromAddress:           ev.FromAddress,
		Amount:                ev.Amount,
		RequiredConfirmations: ev.RequiredConfirmations,
	})
	if err != nil {
		return models.Deposit{}, err
	}
	if dep.Status == models.DepositConfirmed {
		return dep, nil
	}

	dep, err = t.Observe(ctx, dep.Id, ev.Confirmations)
	if err != nil {
		return models.Deposit{}, err
	}
	if !dep.Ready() {
		return dep, nil
	}

	if _, err := t.Finalize(ctx, dep.Id); err != nil {
		return models.Deposit{}, err
	}
	return t.Get(ctx, dep.Id)
}

func (t *Tracker) Get(ctx context.Context, id string) (models.Deposit, error) {
	dep, err := scanDeposit(t.db.QueryRow(ctx, queryGetDeposit, id))
	if errors.Is(err, database.ErrNoRows) {
		return models.Deposit{}, fmt.Errorf("deposit %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return models.Deposit{}, fmt.Errorf("failed to get deposit %s: %w", id, err)
	}
	return dep, nil
}

// List returns deposits newest first.
func (t *Tracker) List(ctx context.Context, filter models.DepositFilter) (models.PageResult[models.Deposit], error) {
	page := filter.Page.Clamp()
	where := (&database.Where{}).
		Eq("user_id", filter.UserId).
		Eq("currency", filter.Currency).
		Eq("chain", filter.Chain).
		Eq("status", string(filter.Status)).
		Between("created_at", filter.TimeRange)

	total, err := t.db.Count(ctx, queryCountDeposits+where.SQL(), where.Args()...)
	if err != nil {
		return models.PageResult[models.Deposit]{}, fmt.Errorf("failed to count deposits: %w", err)
	}

	items := make([]models.Deposit, 0, page.Limit)
	query := querySelectDeposits + where.SQL() + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	err = t.db.Query(ctx, query, where.Paged(page), func(rows *sql.Rows) error {
		dep, err := scanDeposit(rows)
		if err != nil {
			return err
		}
		items = append(items, dep)
		return nil
	})
	if err != nil {
		return models.PageResult[models.Deposit]{}, fmt.Errorf("failed to list deposits: %w", err)
	}
	return models.PageResult[models.Deposit]{Items: items, Total: total}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeposit(row scanner) (models.Deposit, error) {
	var d models.Deposit
	var status string
	var confirmedAt sql.NullTime
	err := row.Scan(&d.Id, &d.UserId, &d.Currency, &d.Chain, &d.TxId, &d.Address, &d.FromAddress, &d.Amount,
		&d.Confirmations, &d.RequiredConfirmations, &status, &confirmedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return models.Deposit{}, err
	}
	d.Status = models.DepositStatus(status)
	if confirmedAt.Valid {
		t := confirmedAt.Time
		d.ConfirmedAt = &t
	}
	return d, nil
}
