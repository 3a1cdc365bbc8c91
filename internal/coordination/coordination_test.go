package coordination

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"asset-ledger-go/internal/kvstore"
	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestKV(t *testing.T) (*kvstore.Redis, *miniredis.Miniredis, func()) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	kv := kvstore.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: s.Addr()}), "test:", time.Second)
	return kv, s, func() {
		_ = kv.Close()
		s.Close()
	}
}

func testCoordinationConfig() models.CoordinationConfig {
	return models.CoordinationConfig{
		LockTTL:          30 * time.Second,
		LockMaxAttempts:  3,
		LockRetryInitial: time.Millisecond,
	}
}

func TestLock_AcquireRelease(t *testing.T) {
	kv, s, cleanup := setupTestKV(t)
	defer cleanup()
	ctx := context.Background()
	lock := NewLock(kv)

	token, ok, err := lock.Acquire(ctx, "withdrawal:1", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("Expected acquire, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := lock.Acquire(ctx, "withdrawal:1", 10*time.Second); ok {
		t.Fatalf("Expected second acquire to fail while held")
	}
	if released, _ := lock.Release(ctx, "withdrawal:1", "not-the-token"); released {
		t.Fatalf("Released with a foreign token")
	}
	if released, err := lock.Release(ctx, "withdrawal:1", token); err != nil || !released {
		t.Fatalf("Expected owner release, released=%v err=%v", released, err)
	}
	if _, ok, _ := lock.Acquire(ctx, "withdrawal:1", 10*time.Second); !ok {
		t.Fatalf("Expected acquire after release")
	}

	s.FastForward(11 * time.Second)
	if _, ok, _ := lock.Acquire(ctx, "withdrawal:1", 10*time.Second); !ok {
		t.Errorf("Expected acquire after TTL expiry")
	}
}

func TestLock_ConcurrentAcquireOneWinner(t *testing.T) {
	kv, _, cleanup := setupTestKV(t)
	defer cleanup()
	lock := NewLock(kv)

	var wg sync.WaitGroup
	var winners int32
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, ok, err := lock.Acquire(context.Background(), "withdrawal:1", 10*time.Second)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}

func TestStoreDown_IsStoreUnavailable(t *testing.T) {
	kv, s, cleanup := setupTestKV(t)
	defer cleanup()
	s.Close()
	ctx := context.Background()

	_, ok, err := NewLock(kv).Acquire(ctx, "withdrawal:1", time.Second)
	if ok || !errors.Is(err, store.ErrStoreUnavailable) || errors.Is(err, store.ErrLockUnavailable) {
		t.Errorf("Acquire: ok=%v err=%v, want ErrStoreUnavailable only", ok, err)
	}
	if _, err := NewLock(kv).Release(ctx, "withdrawal:1", "token"); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Errorf("Release: expected ErrStoreUnavailable, got %v", err)
	}

	ran := false
	err = NewLocker(kv, testCoordinationConfig(), nil).WithLock(ctx, "withdrawal:1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if ran || !errors.Is(err, store.ErrStoreUnavailable) {
		t.Errorf("WithLock: ran=%v err=%v, want ErrStoreUnavailable", ran, err)
	}

	if _, err := NewLimiter(kv, nil).Allow(ctx, "withdraw:alice", 3, time.Minute); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Errorf("Allow: expected ErrStoreUnavailable, got %v", err)
	}
	if !store.Retryable(err) {
		t.Errorf("Expected store outage to be retryable")
	}
}

func TestWithLock_RunsAndReleases(t *testing.T) {
	kv, s, cleanup := setupTestKV(t)
	defer cleanup()

	locker := NewLocker(kv, testCoordinationConfig(), nil)
	ran := false
	err := locker.WithLock(context.Background(), "withdrawal:1", func(ctx context.Context) error {
		ran = true
		if !s.Exists("test:lock:withdrawal:1") {
			t.Errorf("Lock not held while fn runs")
		}
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("WithLock err=%v ran=%v", err, ran)
	}
	if s.Exists("test:lock:withdrawal:1") {
		t.Errorf("Lock not released")
	}
}

func TestWithLock_PropagatesFnError(t *testing.T) {
	kv, s, cleanup := setupTestKV(t)
	defer cleanup()

	errBoom := errors.New("boom")
	err := NewLocker(kv, testCoordinationConfig(), nil).WithLock(context.Background(), "k", func(ctx context.Context) error {
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Expected fn error, got %v", err)
	}
	if s.Exists("test:lock:k") {
		t.Errorf("Lock not released after fn error")
	}
}

func TestWithLock_BusyAfterRetries(t *testing.T) {
	kv, _, cleanup := setupTestKV(t)
	defer cleanup()
	ctx := context.Background()

	if _, ok, _ := NewLock(kv).Acquire(ctx, "withdrawal:1", time.Minute); !ok {
		t.Fatalf("setup acquire failed")
	}

	var calls int32
	err := NewLocker(kv, testCoordinationConfig(), nil).WithLock(ctx, "withdrawal:1", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if !errors.Is(err, store.ErrLockUnavailable) {
		t.Fatalf("Expected ErrLockUnavailable, got %v", err)
	}
	if calls != 0 {
		t.Errorf("fn ran without the lock")
	}
}

func TestLimiter_SlidingWindow(t *testing.T) {
	kv, _, cleanup := setupTestKV(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	limiter := NewLimiter(kv, nil)
	limiter.now = func() time.Time { return now }

	want := []bool{true, true, true, false}
	for i, w := range want {
		allowed, err := limiter.Allow(ctx, "withdraw:alice", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if allowed != w {
			t.Errorf("attempt %d: allowed=%v, want %v", i+1, allowed, w)
		}
		now = now.Add(time.Second)
	}

	if allowed, _ := limiter.Allow(ctx, "withdraw:bob", 3, time.Minute); !allowed {
		t.Errorf("Expected keys to be limited independently")
	}

	now = now.Add(time.Minute)
	allowed, err := limiter.Allow(ctx, "withdraw:alice", 3, time.Minute)
	if err != nil || !allowed {
		t.Errorf("Expected allow after window, allowed=%v err=%v", allowed, err)
	}
}
