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

package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"asset-ledger-go/internal/events"
	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// chainAuditor is recorded as the auditor of withdrawals the chain rejected.
const chainAuditor = "chain"

// MessageReader is the subset of *kafka.Reader the listener consumes.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type DepositHandler interface {
	HandleEvent(ctx context.Context, ev models.ChainEvent) (models.Deposit, error)
}

type WithdrawalSettler interface {
	Complete(ctx context.Context, id, txid string) (models.Withdrawal, error)
	Reject(ctx context.Context, id, auditorId, reason string) (models.Withdrawal, error)
}

type ChainListenerConfig struct {
	Reader      MessageReader
	Deposits    DepositHandler
	Withdrawals WithdrawalSettler
}

// ChainListener consumes chain events and applies them to deposits and
// withdrawals. A message is committed once it is handled or found to be a
// business-rule failure; transient store failures are retried until they
// succeed or the listener stops.
type ChainListener struct {
	reader      MessageReader
	deposits    DepositHandler
	withdrawals WithdrawalSettler

	retryInitial time.Duration
	retryMax     time.Duration

	cancel   context.CancelFunc
	doneChan chan struct{}
}

func NewChainListener(cfg ChainListenerConfig) *ChainListener {
	return &ChainListener{
		reader:       cfg.Reader,
		deposits:     cfg.Deposits,
		withdrawals:  cfg.Withdrawals,
		retryInitial: 500 * time.Millisecond,
		retryMax:     30 * time.Second,
		doneChan:     make(chan struct{}),
	}
}

// Start begins consuming in the background.
func (l *ChainListener) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	go l.consumeLoop(ctx)
	zap.L().Info("Chain listener started")
}

// Stop cancels consumption, waits for the in-flight event and closes the reader.
func (l *ChainListener) Stop() {
	zap.L().Info("Stopping chain listener")
	if l.cancel != nil {
		l.cancel()
		<-l.doneChan
	}
	if err := l.reader.Close(); err != nil {
		zap.L().Warn("Failed to close chain event reader", zap.Error(err))
	}
	zap.L().Info("Chain listener stopped")
}

func (l *ChainListener) consumeLoop(ctx context.Context) {
	defer close(l.doneChan)

	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.L().Error("Failed to fetch chain event", zap.Error(err))
			if !sleepCtx(ctx, l.retryInitial) {
				return
			}
			continue
		}

		if !l.handleMessage(ctx, msg) {
			return
		}
		if err := l.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			zap.L().Error("Failed to commit chain event",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

// handleMessage returns false only when ctx ended before the message could
// be applied; the message is then left uncommitted for redelivery.
func (l *ChainListener) handleMessage(ctx context.Context, msg kafka.Message) bool {
	ev, err := events.DecodeChainEvent(msg)
	if err != nil {
		zap.L().Error("Skipping malformed chain event",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return true
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.retryInitial
	b.MaxInterval = l.retryMax
	b.MaxElapsedTime = 0

	err = backoff.RetryNotify(func() error {
		err := l.Dispatch(ctx, ev)
		if err != nil && !store.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		zap.L().Warn("Retrying chain event",
			zap.String("type", string(ev.Type)),
			zap.String("txid", ev.TxId),
			zap.Duration("next_attempt", next),
			zap.Error(err))
	})

	switch {
	case err == nil:
		return true
	case ctx.Err() != nil:
		return false
	case errors.Is(err, store.ErrInvalidStateTransition), errors.Is(err, store.ErrNotFound):
		zap.L().Warn("Chain event not applicable, skipping",
			zap.String("type", string(ev.Type)),
			zap.String("txid", ev.TxId),
			zap.String("withdrawal_id", ev.WithdrawalId),
			zap.Error(err))
	default:
		zap.L().Error("Chain event rejected",
			zap.String("type", string(ev.Type)),
			zap.String("txid", ev.TxId),
			zap.String("withdrawal_id", ev.WithdrawalId),
			zap.Error(err))
	}
	return true
}

// Dispatch applies one decoded chain event.
func (l *ChainListener) Dispatch(ctx context.Context, ev models.ChainEvent) error {
	switch ev.Type {
	case models.EventDeposit:
		dep, err := l.deposits.HandleEvent(ctx, ev)
		if err != nil {
			return err
		}
		zap.L().Debug("Deposit event applied",
			zap.String("deposit_id", dep.Id),
			zap.String("txid", dep.TxId),
			zap.String("status", string(dep.Status)),
			zap.Int("confirmations", dep.Confirmations))
		return nil

	case models.EventWithdrawalConfirmed:
		if ev.WithdrawalId == "" {
			return fmt.Errorf("%w: withdrawal_confirmed without withdrawal_id", store.ErrInvalidInput)
		}
		_, err := l.withdrawals.Complete(ctx, ev.WithdrawalId, ev.TxId)
		return err

	case models.EventWithdrawalFailed:
		if ev.WithdrawalId == "" {
			return fmt.Errorf("%w: withdrawal_failed without withdrawal_id", store.ErrInvalidInput)
		}
		reason := ev.Reason
		if reason == "" {
			reason = "chain transaction failed"
		}
		_, err := l.withdrawals.Reject(ctx, ev.WithdrawalId, chainAuditor, reason)
		return err
	}
	return fmt.Errorf("%w: unknown chain event type %q", store.ErrInvalidInput, ev.Type)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
