package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"asset-ledger-go/internal/ledger"
	"asset-ledger-go/internal/metrics"
	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Summary reports one reconciliation pass
type Summary struct {
	Accounts   int
	Balanced   int
	Mismatched []ledger.ReconcileResult
	Failed     map[string]error
	Duration   time.Duration
}

func (s Summary) Clean() bool {
	return len(s.Mismatched) == 0 && len(s.Failed) == 0
}

// Job reconciles every balance row against its journal on a bounded worker pool.
type Job struct {
	ledger  *ledger.Ledger
	workers int
	metrics *metrics.Metrics
}

func NewJob(l *ledger.Ledger, workers int, m *metrics.Metrics) *Job {
	if workers <= 0 {
		workers = 1
	}
	return &Job{ledger: l, workers: workers, metrics: m}
}

// Run snapshots the account list first, then reconciles each account in its
// own read scope. Accounts created after the snapshot wait for the next run.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	start := time.Now()

	accounts, err := j.accounts(ctx)
	if err != nil {
		return Summary{}, err
	}

	pool, err := ants.NewPool(j.workers)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to create reconcile pool: %w", err)
	}
	defer pool.Release()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		summary = Summary{Accounts: len(accounts), Failed: map[string]error{}}
	)
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		account := account
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			result, err := j.ledger.Reconcile(ctx, account)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Balanced++
				j.metrics.ObserveReconcile("balanced")
			case errors.Is(err, store.ErrReconcileMismatch):
				summary.Mismatched = append(summary.Mismatched, result)
				j.metrics.ObserveReconcile("mismatch")
			default:
				summary.Failed[account.String()] = err
				j.metrics.ObserveReconcile("error")
			}
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			summary.Failed[account.String()] = err
			mu.Unlock()
		}
	}
	wg.Wait()
	summary.Duration = time.Since(start)

	zap.L().Info("Reconciliation finished",
		zap.Int("accounts", summary.Accounts),
		zap.Int("balanced", summary.Balanced),
		zap.Int("mismatched", len(summary.Mismatched)),
		zap.Int("failed", len(summary.Failed)),
		zap.Duration("duration", summary.Duration))

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (j *Job) accounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	page := models.Page{Limit: models.MaxPageLimit}
	for {
		result, err := j.ledger.ListBalances(ctx, models.BalanceFilter{Page: page})
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts: %w", err)
		}
		for _, a := range result.Items {
			accounts = append(accounts, a.Account)
		}
		page.Offset += len(result.Items)
		if len(result.Items) < page.Limit || int64(page.Offset) >= result.Total {
			return accounts, nil
		}
	}
}
