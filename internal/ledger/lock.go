package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Locker serialises allocation across processes. It is an optimisation
// only: the store's unique sequence index is what guarantees correctness.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context), err error)
}

// NoopLocker never blocks.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string) (func(context.Context), error) {
	return func(context.Context) {}, nil
}

// RedisLocker takes a short-lived Redis lock per allocation key.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
	logger  *slog.Logger
}

// NewRedisLocker constructs a locker holding each lock for at most ttl.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: redislock.New(client), ttl: ttl, retries: 40, logger: logger}
}

// Acquire waits briefly for the lock. When Redis is unavailable or the lock
// stays contended the caller proceeds unlocked and relies on conflict retry.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(context.Context), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := &redislock.Options{RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(25*time.Millisecond), l.retries)}
	lock, err := l.client.Obtain(ctx, key, l.ttl, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("ledger: acquire %s: %w", key, err)
		}
		if errors.Is(err, redislock.ErrNotObtained) {
			l.logger.Warn("allocation lock contended, proceeding unlocked", slog.String("key", key))
		} else {
			l.logger.Warn("allocation lock unavailable, proceeding unlocked", slog.String("key", key), slog.Any("error", err))
		}
		return func(context.Context) {}, nil
	}
	return func(ctx context.Context) {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("release allocation lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}
