package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Account identifies one balance row
type Account struct {
	UserId   string `json:"user_id" db:"user_id"`
	Currency string `json:"currency" db:"currency"`
	Chain    string `json:"chain" db:"chain"`
}

func (a Account) String() string {
	return fmt.Sprintf("%s/%s/%s", a.UserId, a.Currency, a.Chain)
}

func (a Account) Validate() error {
	if a.UserId == "" || a.Currency == "" || a.Chain == "" {
		return fmt.Errorf("user_id, currency and chain are required")
	}
	return nil
}

// MaxAmountScale is the number of fractional digits every backend stores
// exactly (Postgres columns are NUMERIC(36,18)).
const MaxAmountScale = 18

// ExceedsScale reports whether d carries non-zero digits past MaxAmountScale.
// Trailing zeros do not count.
func ExceedsScale(d decimal.Decimal) bool {
	return !d.Equal(d.Truncate(MaxAmountScale))
}

// UserAsset represents the current balance of an account (hot data)
type UserAsset struct {
	Account
	Available decimal.Decimal `json:"available" db:"available"`
	Frozen    decimal.Decimal `json:"frozen" db:"frozen"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Total is derived, never stored.
func (u UserAsset) Total() decimal.Decimal {
	return u.Available.Add(u.Frozen)
}

// TransactionKind classifies a journal entry
type TransactionKind string

const (
	KindCreditDeposit   TransactionKind = "credit-deposit"
	KindDebitWithdrawal TransactionKind = "debit-withdrawal"
	KindFreeze          TransactionKind = "freeze"
	KindUnfreeze        TransactionKind = "unfreeze"
	KindTradeSettlement TransactionKind = "trade-settlement"
	KindAdjustment      TransactionKind = "adjustment"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindCreditDeposit, KindDebitWithdrawal, KindFreeze, KindUnfreeze, KindTradeSettlement, KindAdjustment:
		return true
	}
	return false
}

// BalanceOp is one of the guarded balance mutations
type BalanceOp string

const (
	OpCredit       BalanceOp = "credit"
	OpDebit        BalanceOp = "debit"
	OpFreeze       BalanceOp = "freeze"
	OpUnfreeze     BalanceOp = "unfreeze"
	OpDeductFrozen BalanceOp = "deduct_frozen"
)

// BalanceChange is the outcome of one balance mutation
type BalanceChange struct {
	Account
	Op             BalanceOp
	Amount         decimal.Decimal // magnitude passed to the operation
	TotalDelta     decimal.Decimal // signed change of available + frozen
	FrozenDelta    decimal.Decimal // signed change of frozen
	AvailableAfter decimal.Decimal
	FrozenAfter    decimal.Decimal
}

func (c BalanceChange) TotalAfter() decimal.Decimal {
	return c.AvailableAfter.Add(c.FrozenAfter)
}

func (c BalanceChange) TotalBefore() decimal.Decimal {
	return c.TotalAfter().Sub(c.TotalDelta)
}

// Reference points at the entity that caused a journal entry
type Reference struct {
	Type string `json:"type,omitempty"`
	Id   string `json:"id,omitempty"`
}

const (
	RefDeposit    = "deposit"
	RefWithdrawal = "withdrawal"
	RefChainTx    = "chain_tx"
	RefOrder      = "order"
	RefOperator   = "operator"
)

// Posting asks the ledger to apply one mutation and journal it
type Posting struct {
	Account
	Op          BalanceOp
	Amount      decimal.Decimal
	Kind        TransactionKind
	Reference   Reference
	Description string
}

// AssetTransaction represents one immutable journal entry (cold data)
type AssetTransaction struct {
	Id             string          `json:"id" db:"id"`
	Seq            int64           `json:"seq" db:"seq"`
	UserId         string          `json:"user_id" db:"user_id"`
	Currency       string          `json:"currency" db:"currency"`
	Chain          string          `json:"chain" db:"chain"`
	Kind           TransactionKind `json:"kind" db:"tx_type"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	FrozenDelta    decimal.Decimal `json:"frozen_delta" db:"frozen_delta"`
	BalanceBefore  decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter   decimal.Decimal `json:"balance_after" db:"balance_after"`
	AvailableAfter decimal.Decimal `json:"available_after" db:"available_after"`
	FrozenAfter    decimal.Decimal `json:"frozen_after" db:"frozen_after"`
	ReferenceType  string          `json:"reference_type,omitempty" db:"reference_type"`
	ReferenceId    string          `json:"reference_id,omitempty" db:"reference_id"`
	Description    string          `json:"description,omitempty" db:"description"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

func (t AssetTransaction) Account() Account {
	return Account{UserId: t.UserId, Currency: t.Currency, Chain: t.Chain}
}

// DepositStatus is the deposit state machine
type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositConfirmed DepositStatus = "confirmed"
)

// Deposit tracks an inbound chain transaction until it is credited
type Deposit struct {
	Id                    string          `json:"id" db:"id"`
	UserId                string          `json:"user_id" db:"user_id"`
	Currency              string          `json:"currency" db:"currency"`
	Chain                 string          `json:"chain" db:"chain"`
	TxId                  string          `json:"txid" db:"txid"`
	Address               string          `json:"address" db:"address"`
	FromAddress           string          `json:"from_address,omitempty" db:"from_address"`
	Amount                decimal.Decimal `json:"amount" db:"amount"`
	Confirmations         int             `json:"confirmations" db:"confirmations"`
	RequiredConfirmations int             `json:"required_confirmations" db:"required_confirmations"`
	Status                DepositStatus   `json:"status" db:"status"`
	ConfirmedAt           *time.Time      `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
}

func (d Deposit) Account() Account {
	return Account{UserId: d.UserId, Currency: d.Currency, Chain: d.Chain}
}

func (d Deposit) Ready() bool {
	return d.Status == DepositPending && d.Confirmations >= d.RequiredConfirmations
}

// WithdrawalStatus is the withdrawal state machine
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
)

func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalRejected
}

// Withdrawal tracks a user withdrawal from request to settlement
type Withdrawal struct {
	Id           string           `json:"id" db:"id"`
	UserId       string           `json:"user_id" db:"user_id"`
	Currency     string           `json:"currency" db:"currency"`
	Chain        string           `json:"chain" db:"chain"`
	Amount       decimal.Decimal  `json:"amount" db:"amount"`
	Fee          decimal.Decimal  `json:"fee" db:"fee"`
	ActualAmount decimal.Decimal  `json:"actual_amount" db:"actual_amount"`
	Address      string           `json:"address" db:"address"`
	AddressTag   string           `json:"address_tag,omitempty" db:"address_tag"`
	Remark       string           `json:"remark,omitempty" db:"remark"`
	TxId         string           `json:"txid,omitempty" db:"txid"`
	Status       WithdrawalStatus `json:"status" db:"status"`
	AuditorId    string           `json:"audit_user_id,omitempty" db:"audit_user_id"`
	AuditTime    *time.Time       `json:"audit_time,omitempty" db:"audit_time"`
	RejectReason string           `json:"reject_reason,omitempty" db:"reject_reason"`
	CompleteTime *time.Time       `json:"complete_time,omitempty" db:"complete_time"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

func (w Withdrawal) Account() Account {
	return Account{UserId: w.UserId, Currency: w.Currency, Chain: w.Chain}
}
