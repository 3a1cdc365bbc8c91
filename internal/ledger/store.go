package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"asset-ledger-go/internal/database"
	"asset-ledger-go/internal/metrics"
	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type balanceOp struct {
	query      string
	amountArgs int // amount placeholders before updated_at
	guarded    bool
	guardErr   error
	totalSign  int64
	frozenSign int64
}

var balanceOps = map[models.BalanceOp]balanceOp{
	models.OpCredit: {
		query: queryCreditAvailable, amountArgs: 1,
		totalSign: 1, frozenSign: 0,
	},
	models.OpDebit: {
		query: queryDebitAvailable, amountArgs: 1, guarded: true, guardErr: store.ErrInsufficientBalance,
		totalSign: -1, frozenSign: 0,
	},
	models.OpFreeze: {
		query: queryFreezeAvailable, amountArgs: 2, guarded: true, guardErr: store.ErrInsufficientBalance,
		totalSign: 0, frozenSign: 1,
	},
	models.OpUnfreeze: {
		query: queryUnfreezeFrozen, amountArgs: 2, guarded: true, guardErr: store.ErrInsufficientFrozenBalance,
		totalSign: 0, frozenSign: -1,
	},
	models.OpDeductFrozen: {
		query: queryDeductFrozen, amountArgs: 1, guarded: true, guardErr: store.ErrInsufficientFrozenBalance,
		totalSign: -1, frozenSign: -1,
	},
}

// Store owns the user_assets rows. Every method runs inside the caller's
// scope so the mutation commits or rolls back with the caller's other writes.
type Store struct {
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewStore(m *metrics.Metrics) *Store {
	return &Store{metrics: m, now: func() time.Time { return time.Now().UTC() }}
}

// Ensure creates the (0, 0) row for account if it does not exist yet.
func (s *Store) Ensure(ctx context.Context, scope *database.Scope, account models.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	now := s.now()
	if _, err := scope.Exec(ctx, queryEnsureAsset, account.UserId, account.Currency, account.Chain, now, now); err != nil {
		return fmt.Errorf("failed to ensure asset %s: %w", account, err)
	}
	return nil
}

func (s *Store) Credit(ctx context.Context, scope *database.Scope, account models.Account, amount decimal.Decimal) (models.BalanceChange, error) {
	return s.Apply(ctx, scope, models.OpCredit, account, amount)
}

func (s *Store) Debit(ctx context.Context, scope *database.Scope, account models.Account, amount decimal.Decimal) (models.BalanceChange, error) {
	return s.Apply(ctx, scope, models.OpDebit, account, amount)
}

func (s *Store) Freeze(ctx context.Context, scope *database.Scope, account models.Account, amount decimal.Decimal) (models.BalanceChange, error) {
	return s.Apply(ctx, scope, models.OpFreeze, account, amount)
}

func (s *Store) Unfreeze(ctx context.Context, scope *database.Scope, account models.Account, amount decimal.Decimal) (models.BalanceChange, error) {
	return s.Apply(ctx, scope, models.OpUnfreeze, account, amount)
}

func (s *Store) DeductFrozen(ctx context.Context, scope *database.Scope, account models.Account, amount decimal.Decimal) (models.BalanceChange, error) {
	return s.Apply(ctx, scope, models.OpDeductFrozen, account, amount)
}

// Apply runs one balance operation as a single conditional UPDATE.
func (s *Store) Apply(ctx context.Context, scope *database.Scope, op models.BalanceOp, account models.Account, amount decimal.Decimal) (models.BalanceChange, error) {
	def, ok := balanceOps[op]
	if !ok {
		return models.BalanceChange{}, fmt.Errorf("%w: unknown balance operation %q", store.ErrInvalidInput, op)
	}
	if !amount.IsPositive() {
		return models.BalanceChange{}, fmt.Errorf("%w: %s amount must be positive, got %s", store.ErrInvalidInput, op, amount)
	}
	if models.ExceedsScale(amount) {
		return models.BalanceChange{}, fmt.Errorf("%w: %s amount %s has more than %d decimal places",
			store.ErrInvalidInput, op, amount, models.MaxAmountScale)
	}
	if err := s.Ensure(ctx, scope, account); err != nil {
		return models.BalanceChange{}, err
	}

	args := make([]any, 0, def.amountArgs+5)
	for i := 0; i < def.amountArgs; i++ {
		args = append(args, amount)
	}
	args = append(args, s.now(), account.UserId, account.Currency, account.Chain)
	if def.guarded {
		args = append(args, amount)
	}

	var available, frozen decimal.Decimal
	err := scope.QueryRow(ctx, def.query, args...).Scan(&available, &frozen)
	if errors.Is(err, database.ErrNoRows) {
		s.metrics.ObserveMutation(string(op), "rejected")
		if !def.guarded {
			return models.BalanceChange{}, fmt.Errorf("%s %s: %w", op, account, store.ErrNotFound)
		}
		zap.L().Debug("Balance guard rejected mutation",
			zap.String("op", string(op)),
			zap.String("account", account.String()),
			zap.String("amount", amount.String()))
		return models.BalanceChange{}, fmt.Errorf("%s %s on %s: %w", op, amount, account, def.guardErr)
	}
	if err != nil {
		s.metrics.ObserveMutation(string(op), "error")
		return models.BalanceChange{}, fmt.Errorf("failed to %s %s: %w", op, account, err)
	}
	s.metrics.ObserveMutation(string(op), "ok")

	return models.BalanceChange{
		Account:        account,
		Op:             op,
		Amount:         amount,
		TotalDelta:     amount.Mul(decimal.NewFromInt(def.totalSign)),
		FrozenDelta:    amount.Mul(decimal.NewFromInt(def.frozenSign)),
		AvailableAfter: available,
		FrozenAfter:    frozen,
	}, nil
}
