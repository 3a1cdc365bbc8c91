package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

type fakeReaders struct {
	balanceFilter    models.BalanceFilter
	journalFilter    models.JournalFilter
	depositFilter    models.DepositFilter
	withdrawalFilter models.WithdrawalFilter
	balance          *models.UserAsset
	err              error
}

func (f *fakeReaders) GetBalance(_ context.Context, account models.Account) (models.UserAsset, error) {
	if f.balance == nil {
		return models.UserAsset{}, store.ErrNotFound
	}
	return *f.balance, f.err
}

func (f *fakeReaders) ListBalances(_ context.Context, filter models.BalanceFilter) (models.PageResult[models.UserAsset], error) {
	f.balanceFilter = filter
	return models.PageResult[models.UserAsset]{}, f.err
}

func (f *fakeReaders) ListJournal(_ context.Context, filter models.JournalFilter) (models.PageResult[models.AssetTransaction], error) {
	f.journalFilter = filter
	return models.PageResult[models.AssetTransaction]{}, f.err
}

type fakeDeposits struct{ *fakeReaders }

func (f fakeDeposits) Get(_ context.Context, id string) (models.Deposit, error) {
	return models.Deposit{}, store.ErrNotFound
}

func (f fakeDeposits) List(_ context.Context, filter models.DepositFilter) (models.PageResult[models.Deposit], error) {
	f.depositFilter = filter
	return models.PageResult[models.Deposit]{}, f.err
}

type fakeWithdrawals struct{ *fakeReaders }

func (f fakeWithdrawals) Get(_ context.Context, id string) (models.Withdrawal, error) {
	return models.Withdrawal{Id: id}, nil
}

func (f fakeWithdrawals) List(_ context.Context, filter models.WithdrawalFilter) (models.PageResult[models.Withdrawal], error) {
	f.withdrawalFilter = filter
	return models.PageResult[models.Withdrawal]{}, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func setupTestService(t *testing.T) (*LedgerService, *fakeReaders) {
	t.Helper()
	readers := &fakeReaders{}
	return NewLedgerService(Dependencies{
		Balances:    readers,
		Journal:     readers,
		Deposits:    fakeDeposits{readers},
		Withdrawals: fakeWithdrawals{readers},
		DB:          fakePinger{},
	}), readers
}

func TestGetUserBalance(t *testing.T) {
	svc, readers := setupTestService(t)
	ctx := context.Background()
	account := models.Account{UserId: "alice", Currency: "USDC", Chain: "ethereum-mainnet"}

	if _, err := svc.GetUserBalance(ctx, models.Account{UserId: "alice"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for partial account, got %v", err)
	}

	zero, err := svc.GetUserBalance(ctx, account)
	if err != nil {
		t.Fatalf("GetUserBalance failed: %v", err)
	}
	if !zero.Total().IsZero() || zero.Account != account {
		t.Errorf("Expected zero balance for untouched account, got %+v", zero)
	}

	readers.balance = &models.UserAsset{Account: account, Available: decimal.NewFromInt(5), Frozen: decimal.NewFromInt(1)}
	b, err := svc.GetUserBalance(ctx, account)
	if err != nil || !b.Total().Equal(decimal.NewFromInt(6)) {
		t.Errorf("GetUserBalance = %+v, %v", b, err)
	}

	readers.err = errors.New("disk on fire")
	if _, err := svc.GetUserBalance(ctx, account); err == nil {
		t.Errorf("Expected store error to surface")
	}
}

func TestPageClamping(t *testing.T) {
	svc, readers := setupTestService(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		in         models.Page
		wantLimit  int
		wantOffset int
	}{
		{"default", models.Page{}, models.DefaultPageLimit, 0},
		{"too large", models.Page{Limit: 1000}, models.DefaultPageLimit, 0},
		{"negative offset", models.Page{Limit: 50, Offset: -3}, 50, 0},
		{"max", models.Page{Limit: models.MaxPageLimit, Offset: 10}, models.MaxPageLimit, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.GetUserBalances(ctx, "alice", tt.in); err != nil {
				t.Fatalf("GetUserBalances failed: %v", err)
			}
			got := readers.balanceFilter.Page
			if got.Limit != tt.wantLimit || got.Offset != tt.wantOffset {
				t.Errorf("page = %+v, want limit %d offset %d", got, tt.wantLimit, tt.wantOffset)
			}

			if _, err := svc.GetTransactionHistory(ctx, models.JournalFilter{UserId: "alice", Page: tt.in}); err != nil {
				t.Fatalf("GetTransactionHistory failed: %v", err)
			}
			if readers.journalFilter.Page != got {
				t.Errorf("journal page = %+v, want %+v", readers.journalFilter.Page, got)
			}
		})
	}
}

func TestValidation(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()
	now := time.Now()
	backwards := models.TimeRange{From: now, To: now.Add(-time.Hour)}

	tests := []struct {
		name string
		call func() error
	}{
		{"balances without user", func() error {
			_, err := svc.GetUserBalances(ctx, "", models.Page{})
			return err
		}},
		{"history without user", func() error {
			_, err := svc.GetTransactionHistory(ctx, models.JournalFilter{})
			return err
		}},
		{"history unknown kind", func() error {
			_, err := svc.GetTransactionHistory(ctx, models.JournalFilter{UserId: "alice", Kind: "gift"})
			return err
		}},
		{"history backwards range", func() error {
			_, err := svc.GetTransactionHistory(ctx, models.JournalFilter{UserId: "alice", TimeRange: backwards})
			return err
		}},
		{"deposit without id", func() error {
			_, err := svc.GetDeposit(ctx, "")
			return err
		}},
		{"deposits unknown status", func() error {
			_, err := svc.ListDeposits(ctx, models.DepositFilter{Status: "lost"})
			return err
		}},
		{"withdrawals unknown status", func() error {
			_, err := svc.ListWithdrawals(ctx, models.WithdrawalFilter{Status: "stuck"})
			return err
		}},
		{"withdrawals backwards range", func() error {
			_, err := svc.ListWithdrawals(ctx, models.WithdrawalFilter{TimeRange: backwards})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, store.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestGetDeposit_NotFoundPassesThrough(t *testing.T) {
	svc, _ := setupTestService(t)
	if _, err := svc.GetDeposit(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	if err := svc.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}

	svc.kv = fakePinger{err: store.ErrStoreUnavailable}
	if err := svc.HealthCheck(ctx); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Errorf("Expected kv failure, got %v", err)
	}

	svc.db = fakePinger{err: errors.New("closed")}
	if err := svc.HealthCheck(ctx); err == nil {
		t.Errorf("Expected db failure")
	}
}
