package coordination

import (
	"context"
	"fmt"
	"time"

	"asset-ledger-go/internal/kvstore"
	"asset-ledger-go/internal/metrics"
	"asset-ledger-go/internal/store"

	"github.com/google/uuid"
)

const rateLimitPrefix = "rl:"

// Limiter is a sliding-window rate limiter shared by every process using the
// same key-value store.
type Limiter struct {
	kv      kvstore.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewLimiter(kv kvstore.Store, m *metrics.Metrics) *Limiter {
	return &Limiter{kv: kv, metrics: m, now: time.Now}
}

// Allow records one attempt for key and reports whether at most limit
// attempts fell inside the trailing window, this one included.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit < 1 {
		return false, fmt.Errorf("%w: invalid rate limit %d", store.ErrInvalidInput, limit)
	}
	count, err := l.kv.SlidingWindow(ctx, rateLimitPrefix+key, l.now(), window, uuid.New().String())
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	allowed := count <= int64(limit)
	l.metrics.ObserveRateLimit(allowed)
	return allowed, nil
}
