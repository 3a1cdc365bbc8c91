package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"asset-ledger-go/internal/database"
	"asset-ledger-go/internal/metrics"
	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	_ store.BalanceReader = (*Ledger)(nil)
	_ store.JournalReader = (*Ledger)(nil)
)

// Ledger pairs the balance store with the journal so that every mutation is
// journaled in the same scope.
type Ledger struct {
	db      *database.Service
	store   *Store
	journal *Journal
}

func New(db *database.Service, m *metrics.Metrics, sinks ...store.JournalSink) *Ledger {
	return &Ledger{
		db:      db,
		store:   NewStore(m),
		journal: NewJournal(m, sinks...),
	}
}

func (l *Ledger) DB() *database.Service { return l.db }
func (l *Ledger) Store() *Store         { return l.store }
func (l *Ledger) Journal() *Journal     { return l.journal }

// Post applies one balance operation and journals it inside scope.
func (l *Ledger) Post(ctx context.Context, scope *database.Scope, p models.Posting) (models.AssetTransaction, error) {
	change, err := l.store.Apply(ctx, scope, p.Op, p.Account, p.Amount)
	if err != nil {
		return models.AssetTransaction{}, err
	}
	return l.journal.Append(ctx, scope, NewEntry(change, p.Kind, p.Reference, p.Description))
}

// PostAll applies postings in order inside one new scope. Either all of them
// commit or none do.
func (l *Ledger) PostAll(ctx context.Context, postings ...models.Posting) ([]models.AssetTransaction, error) {
	var entries []models.AssetTransaction
	err := l.db.WithScope(ctx, func(ctx context.Context, scope *database.Scope) error {
		entries = entries[:0]
		for _, p := range postings {
			entry, err := l.Post(ctx, scope, p)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Adjust applies a signed operator correction: positive credits, negative
// debits. The debit is guarded like any other.
func (l *Ledger) Adjust(ctx context.Context, account models.Account, delta decimal.Decimal, operator, reason string) (models.AssetTransaction, error) {
	if delta.IsZero() {
		return models.AssetTransaction{}, fmt.Errorf("%w: adjustment cannot be zero", store.ErrInvalidInput)
	}
	if operator == "" || reason == "" {
		return models.AssetTransaction{}, fmt.Errorf("%w: operator and reason are required", store.ErrInvalidInput)
	}
	op := models.OpCredit
	if delta.IsNegative() {
		op = models.OpDebit
	}

	zap.L().Info("Applying balance adjustment",
		zap.String("account", account.String()),
		zap.String("delta", delta.String()),
		zap.String("operator", operator),
		zap.String("reason", reason))

	entries, err := l.PostAll(ctx, models.Posting{
		Account:     account,
		Op:          op,
		Amount:      delta.Abs(),
		Kind:        models.KindAdjustment,
		Reference:   models.Reference{Type: models.RefOperator, Id: operator},
		Description: reason,
	})
	if err != nil {
		return models.AssetTransaction{}, err
	}
	return entries[0], nil
}

// TradeLeg is one balance movement of a trade settlement.
type TradeLeg struct {
	models.Account
	Op     models.BalanceOp
	Amount decimal.Decimal
}

// SettleTrade applies all legs of a matched order atomically. Legs may
// deduct frozen funds, release leftover frozen funds, or credit proceeds.
func (l *Ledger) SettleTrade(ctx context.Context, orderId string, legs []TradeLeg) ([]models.AssetTransaction, error) {
	if orderId == "" || len(legs) == 0 {
		return nil, fmt.Errorf("%w: order id and legs are required", store.ErrInvalidInput)
	}
	postings := make([]models.Posting, len(legs))
	for i, leg := range legs {
		switch leg.Op {
		case models.OpDeductFrozen, models.OpUnfreeze, models.OpCredit:
		default:
			return nil, fmt.Errorf("%w: operation %s not allowed in trade settlement", store.ErrInvalidInput, leg.Op)
		}
		postings[i] = models.Posting{
			Account:   leg.Account,
			Op:        leg.Op,
			Amount:    leg.Amount,
			Kind:      models.KindTradeSettlement,
			Reference: models.Reference{Type: models.RefOrder, Id: orderId},
		}
	}
	return l.PostAll(ctx, postings...)
}

// GetBalance returns the balance row, or ErrNotFound if the account was never
// referenced.
func (l *Ledger) GetBalance(ctx context.Context, account models.Account) (models.UserAsset, error) {
	var a models.UserAsset
	err := l.db.QueryRow(ctx, queryGetAsset, account.UserId, account.Currency, account.Chain).Scan(
		&a.UserId, &a.Currency, &a.Chain, &a.Available, &a.Frozen, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, database.ErrNoRows) {
		return models.UserAsset{}, fmt.Errorf("balance %s: %w", account, store.ErrNotFound)
	}
	if err != nil {
		return models.UserAsset{}, fmt.Errorf("failed to get balance %s: %w", account, err)
	}
	return a, nil
}

func (l *Ledger) ListBalances(ctx context.Context, filter models.BalanceFilter) (models.PageResult[models.UserAsset], error) {
	page := filter.Page.Clamp()
	where := (&database.Where{}).
		Eq("user_id", filter.UserId).
		Eq("currency", filter.Currency).
		Eq("chain", filter.Chain)

	total, err := l.db.Count(ctx, queryCountAssets+where.SQL(), where.Args()...)
	if err != nil {
		return models.PageResult[models.UserAsset]{}, fmt.Errorf("failed to count balances: %w", err)
	}

	items := make([]models.UserAsset, 0, page.Limit)
	query := selectAssetColumns + where.SQL() + ` ORDER BY user_id, currency, chain LIMIT ? OFFSET ?`
	err = l.db.Query(ctx, query, where.Paged(page), func(rows *sql.Rows) error {
		var a models.UserAsset
		if err := rows.Scan(&a.UserId, &a.Currency, &a.Chain, &a.Available, &a.Frozen, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return err
		}
		items = append(items, a)
		return nil
	})
	if err != nil {
		return models.PageResult[models.UserAsset]{}, fmt.Errorf("failed to list balances: %w", err)
	}
	return models.PageResult[models.UserAsset]{Items: items, Total: total}, nil
}

// ListJournal returns entries newest first.
func (l *Ledger) ListJournal(ctx context.Context, filter models.JournalFilter) (models.PageResult[models.AssetTransaction], error) {
	page := filter.Page.Clamp()
	where := (&database.Where{}).
		Eq("user_id", filter.UserId).
		Eq("currency", filter.Currency).
		Eq("chain", filter.Chain).
		Eq("tx_type", string(filter.Kind)).
		Between("created_at", filter.TimeRange)

	total, err := l.db.Count(ctx, queryCountTransactions+where.SQL(), where.Args()...)
	if err != nil {
		return models.PageResult[models.AssetTransaction]{}, fmt.Errorf("failed to count journal entries: %w", err)
	}

	items := make([]models.AssetTransaction, 0, page.Limit)
	query := selectTransactionColumns + where.SQL() + ` ORDER BY seq DESC LIMIT ? OFFSET ?`
	err = l.db.Query(ctx, query, where.Paged(page), func(rows *sql.Rows) error {
		tx, err := scanTransaction(rows)
		if err != nil {
			return err
		}
		items = append(items, tx)
		return nil
	})
	if err != nil {
		return models.PageResult[models.AssetTransaction]{}, fmt.Errorf("failed to list journal entries: %w", err)
	}
	return models.PageResult[models.AssetTransaction]{Items: items, Total: total}, nil
}
