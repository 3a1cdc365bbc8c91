package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"asset-ledger-go/internal/kvstore"
	"asset-ledger-go/internal/metrics"
	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const lockPrefix = "lock:"

// Lock is a token-owned mutual exclusion lease on a named key.
type Lock struct {
	kv kvstore.Store
}

func NewLock(kv kvstore.Store) *Lock {
	return &Lock{kv: kv}
}

// Acquire tries once. ok is false when another holder owns key.
func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.New().String()
	ok, err = l.kv.SetNX(ctx, lockPrefix+key, token, ttl)
	if err != nil {
		return "", false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the lease only if token still owns it.
func (l *Lock) Release(ctx context.Context, key, token string) (bool, error) {
	released, err := l.kv.CompareAndDelete(ctx, lockPrefix+key, token)
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}
	return released, nil
}

// Locker runs work under a lock, retrying acquisition with exponential backoff.
type Locker struct {
	lock           *Lock
	ttl            time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	metrics        *metrics.Metrics
}

func NewLocker(kv kvstore.Store, cfg models.CoordinationConfig, m *metrics.Metrics) *Locker {
	if cfg.LockMaxAttempts < 1 {
		cfg.LockMaxAttempts = 1
	}
	return &Locker{
		lock:           NewLock(kv),
		ttl:            cfg.LockTTL,
		maxAttempts:    cfg.LockMaxAttempts,
		initialBackoff: cfg.LockRetryInitial,
		metrics:        m,
	}
}

var errLockBusy = errors.New("lock busy")

// WithLock acquires key, runs fn, and releases key. fn must finish well
// within the lock TTL. ErrLockUnavailable is returned when the lock cannot
// be acquired after the configured attempts.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.initialBackoff
	b.MaxInterval = l.ttl
	b.MaxElapsedTime = 0
	b.Reset()

	var token string
	attempt := func() error {
		t, ok, err := l.lock.Acquire(ctx, key, l.ttl)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLockBusy
		}
		token = t
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(l.maxAttempts-1)), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		if errors.Is(err, errLockBusy) {
			l.metrics.ObserveLock("busy")
			return fmt.Errorf("%s after %d attempts: %w", key, l.maxAttempts, store.ErrLockUnavailable)
		}
		l.metrics.ObserveLock("error")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w: %w", key, store.ErrLockUnavailable, ctxErr)
		}
		return err
	}
	l.metrics.ObserveLock("acquired")

	defer func() {
		released, err := l.lock.Release(context.WithoutCancel(ctx), key, token)
		if err != nil {
			zap.L().Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
			return
		}
		if !released {
			zap.L().Warn("Lock expired before release", zap.String("key", key))
		}
	}()

	return fn(ctx)
}
