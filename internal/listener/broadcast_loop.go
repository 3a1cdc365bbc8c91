package listener

import (
	"context"
	"errors"
	"time"

	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"go.uber.org/zap"
)

const broadcastBatch = 50

type WithdrawalBroadcaster interface {
	PendingBroadcast(ctx context.Context, limit int) ([]models.Withdrawal, error)
	Broadcast(ctx context.Context, id string) (models.Withdrawal, error)
}

// BroadcastLoop periodically submits approved withdrawals that have no chain
// reference yet.
type BroadcastLoop struct {
	withdrawals     WithdrawalBroadcaster
	pollingInterval time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewBroadcastLoop(withdrawals WithdrawalBroadcaster, pollingInterval time.Duration) *BroadcastLoop {
	return &BroadcastLoop{
		withdrawals:     withdrawals,
		pollingInterval: pollingInterval,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

func (b *BroadcastLoop) Start(ctx context.Context) {
	go b.pollLoop(ctx)
	zap.L().Info("Withdrawal broadcast loop started", zap.Duration("polling_interval", b.pollingInterval))
}

func (b *BroadcastLoop) Stop() {
	zap.L().Info("Stopping withdrawal broadcast loop")
	close(b.stopChan)
	<-b.doneChan
	zap.L().Info("Withdrawal broadcast loop stopped")
}

func (b *BroadcastLoop) pollLoop(ctx context.Context) {
	defer close(b.doneChan)

	ticker := time.NewTicker(b.pollingInterval)
	defer ticker.Stop()

	b.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			b.RunOnce(ctx)
		case <-b.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce submits one batch and returns how many withdrawals were sent.
func (b *BroadcastLoop) RunOnce(ctx context.Context) int {
	pending, err := b.withdrawals.PendingBroadcast(ctx, broadcastBatch)
	if err != nil {
		zap.L().Error("Failed to load withdrawals awaiting broadcast", zap.Error(err))
		return 0
	}

	sent := 0
	for _, w := range pending {
		if ctx.Err() != nil {
			break
		}
		if _, err := b.withdrawals.Broadcast(ctx, w.Id); err != nil {
			if errors.Is(err, store.ErrLockUnavailable) || errors.Is(err, store.ErrInvalidStateTransition) {
				zap.L().Debug("Withdrawal handled elsewhere, skipping",
					zap.String("withdrawal_id", w.Id),
					zap.Error(err))
				continue
			}
			zap.L().Error("Failed to broadcast withdrawal",
				zap.String("withdrawal_id", w.Id),
				zap.String("account", w.Account().String()),
				zap.String("actual_amount", w.ActualAmount.String()),
				zap.Error(err))
			continue
		}
		sent++
	}

	if len(pending) > 0 {
		zap.L().Info("Broadcast cycle finished",
			zap.Int("pending", len(pending)),
			zap.Int("sent", sent))
	}
	return sent
}
