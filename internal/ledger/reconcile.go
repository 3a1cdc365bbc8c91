package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"asset-ledger-go/internal/database"
	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReconcileResult compares a balance row with the sum of its journal.
type ReconcileResult struct {
	models.Account
	Available     decimal.Decimal
	Frozen        decimal.Decimal
	JournalTotal  decimal.Decimal
	JournalFrozen decimal.Decimal
	Entries       int
}

func (r ReconcileResult) Total() decimal.Decimal {
	return r.Available.Add(r.Frozen)
}

func (r ReconcileResult) Balanced() bool {
	return r.JournalTotal.Equal(r.Total()) && r.JournalFrozen.Equal(r.Frozen)
}

// Reconcile replays the journal of account against its balance row from one
// read snapshot. A mismatch returns the result together with
// ErrReconcileMismatch.
func (l *Ledger) Reconcile(ctx context.Context, account models.Account) (ReconcileResult, error) {
	result := ReconcileResult{Account: account, JournalTotal: decimal.Zero, JournalFrozen: decimal.Zero}

	err := l.db.WithReadScope(ctx, func(ctx context.Context, scope *database.Scope) error {
		var ignored models.UserAsset
		err := scope.QueryRow(ctx, queryGetAsset, account.UserId, account.Currency, account.Chain).Scan(
			&ignored.UserId, &ignored.Currency, &ignored.Chain, &result.Available, &result.Frozen,
			&ignored.CreatedAt, &ignored.UpdatedAt)
		if errors.Is(err, database.ErrNoRows) {
			return fmt.Errorf("balance %s: %w", account, store.ErrNotFound)
		}
		if err != nil {
			return err
		}

		return scope.Query(ctx, queryJournalDeltas, []any{account.UserId, account.Currency, account.Chain}, func(rows *sql.Rows) error {
			var amount, frozenDelta decimal.Decimal
			if err := rows.Scan(&amount, &frozenDelta); err != nil {
				return err
			}
			result.JournalTotal = result.JournalTotal.Add(amount)
			result.JournalFrozen = result.JournalFrozen.Add(frozenDelta)
			result.Entries++
			return nil
		})
	})
	if err != nil {
		return result, fmt.Errorf("failed to reconcile %s: %w", account, err)
	}

	if !result.Balanced() {
		zap.L().Error("Balance mismatch detected",
			zap.String("account", account.String()),
			zap.String("balance_total", result.Total().String()),
			zap.String("journal_total", result.JournalTotal.String()),
			zap.String("total_difference", result.Total().Sub(result.JournalTotal).String()),
			zap.String("balance_frozen", result.Frozen.String()),
			zap.String("journal_frozen", result.JournalFrozen.String()),
			zap.Int("entries", result.Entries))
		return result, fmt.Errorf("%s: %w", account, store.ErrReconcileMismatch)
	}

	zap.L().Debug("Balance reconciled",
		zap.String("account", account.String()),
		zap.String("total", result.Total().String()),
		zap.Int("entries", result.Entries))
	return result, nil
}
