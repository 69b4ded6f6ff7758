package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis serializes work on the same keys across service replicas. It is a
// guard in front of the store transaction, not a replacement for the row
// locks taken inside it.
type Redis struct {
	locker  *redislock.Client
	prefix  string
	ttl     time.Duration
	backoff time.Duration
	logger  *zap.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		locker:  redislock.New(client),
		prefix:  "stokpilot:lock:",
		ttl:     ttl,
		backoff: 25 * time.Millisecond,
		logger:  logger,
	}
}

func (r *Redis) Acquire(ctx context.Context, keys []string, wait time.Duration) (Release, error) {
	keys = normalizeKeys(keys)
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	held := make([]*redislock.Lock, 0, len(keys))
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.Warn("redis lock release failed", zap.String("key", held[i].Key()), zap.Error(err))
			}
		}
	}

	for _, key := range keys {
		lk, err := r.locker.Obtain(ctx, r.prefix+key, r.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(r.backoff),
		})
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrNotAcquired
			}
			return nil, err
		}
		held = append(held, lk)
	}

	return release, nil
}
