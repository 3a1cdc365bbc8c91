package store

import (
	"context"
	"errors"

	"asset-ledger-go/internal/models"
)

// Sentinel errors shared by every ledger component. Callers match them with
// errors.Is; wrapping adds context but never hides the sentinel.
var (
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrInsufficientFrozenBalance = errors.New("insufficient frozen balance")
	ErrInvalidStateTransition    = errors.New("invalid state transition")
	ErrLockUnavailable           = errors.New("lock unavailable")
	ErrRateLimitExceeded         = errors.New("rate limit exceeded")
	ErrNotFound                  = errors.New("not found")
	ErrStoreUnavailable          = errors.New("store unavailable")

	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicate         = errors.New("duplicate record")
	ErrScopeClosed       = errors.New("transactional scope already closed")
	ErrReconcileMismatch = errors.New("journal does not match balance")
)

// Retryable reports whether a failure is transient: the operation did not
// apply and may be attempted again later.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrLockUnavailable)
}

// JournalSink receives committed journal entries. Sinks are best effort: a
// failure is logged by the caller and never undoes the ledger write.
type JournalSink interface {
	Name() string
	Publish(ctx context.Context, entries []models.AssetTransaction) error
}

// BalanceReader is the read side over user_assets.
type BalanceReader interface {
	GetBalance(ctx context.Context, account models.Account) (models.UserAsset, error)
	ListBalances(ctx context.Context, filter models.BalanceFilter) (models.PageResult[models.UserAsset], error)
}

// JournalReader is the read side over asset_transactions.
type JournalReader interface {
	ListJournal(ctx context.Context, filter models.JournalFilter) (models.PageResult[models.AssetTransaction], error)
}

// DepositReader is the read side over deposits.
type DepositReader interface {
	Get(ctx context.Context, id string) (models.Deposit, error)
	List(ctx context.Context, filter models.DepositFilter) (models.PageResult[models.Deposit], error)
}

// WithdrawalReader is the read side over withdrawals.
type WithdrawalReader interface {
	Get(ctx context.Context, id string) (models.Withdrawal, error)
	List(ctx context.Context, filter models.WithdrawalFilter) (models.PageResult[models.Withdrawal], error)
}
