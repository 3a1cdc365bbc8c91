package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is the key-value surface the coordination layer needs. Every call is
// bounded by the store's own timeout on top of ctx.
type Store interface {
	// SetNX stores value under key only if key is absent.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only if it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	// SlidingWindow records member at now and returns how many members fall
	// inside (now-window, now].
	SlidingWindow(ctx context.Context, key string, now time.Time, window time.Duration, member string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

var _ Store = (*Redis)(nil)

func NewRedis(ctx context.Context, cfg models.RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	r := NewRedisFromClient(client, cfg.KeyPrefix, cfg.Timeout)
	if err := r.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	zap.L().Info("Redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return r, nil
}

func NewRedisFromClient(client redis.UniversalClient, prefix string, timeout time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, timeout: timeout}
}

// classify maps every client failure (timeout, refused or closed
// connection, script error) onto ErrStoreUnavailable. A false result from
// SetNX or CompareAndDelete is not an error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("redis %s: %w: %w", op, store.ErrStoreUnavailable, err)
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	ok, err := r.client.SetNX(ctx, r.key(key), value, ttl).Result()
	if err != nil {
		return false, classify("setnx "+key, err)
	}
	return ok, nil
}

func (r *Redis) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	n, err := compareAndDeleteScript.Run(ctx, r.client, []string{r.key(key)}, value).Int64()
	if err != nil {
		return false, classify("compare-and-delete "+key, err)
	}
	return n == 1, nil
}

func (r *Redis) SlidingWindow(ctx context.Context, key string, now time.Time, window time.Duration, member string) (int64, error) {
	if window <= 0 {
		return 0, fmt.Errorf("%w: invalid sliding window %s", store.ErrInvalidInput, window)
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	k := r.key(key)
	nowMs := now.UnixMilli()
	windowStart := nowMs - window.Milliseconds()

	var count *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(windowStart, 10))
		pipe.ZAdd(ctx, k, redis.Z{Score: float64(nowMs), Member: member})
		count = pipe.ZCount(ctx, k, "("+strconv.FormatInt(windowStart, 10), "+inf")
		pipe.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return 0, classify("sliding window "+key, err)
	}
	return count.Val(), nil
}

func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return classify("ping", r.client.Ping(ctx).Err())
}

func (r *Redis) Close() error {
	return r.client.Close()
}
