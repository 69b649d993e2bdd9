package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only if it still holds our token, so a
// replica whose lease expired cannot free a lock another replica now holds.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TickLock is a lease held across scheduler replicas so only one evaluates
// a tick at a time.
type TickLock struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewTickLock creates a lock whose leases expire after ttl if never released.
func NewTickLock(client *Client, ttl time.Duration, logger *zap.Logger) *TickLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TickLock{client: client, logger: logger, ttl: ttl}
}

func (l *TickLock) key(name string) string {
	return fmt.Sprintf("zenpush:ticklock:%s", name)
}

// Acquire takes the named lock using SET NX PX. ok is false when another
// holder has it. The returned release func is a no-op when ok is false.
func (l *TickLock) Acquire(ctx context.Context, name string) (func(context.Context) error, bool, error) {
	key := l.key(name)
	token := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return noopRelease, false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		l.logger.Debug("tick lock held elsewhere", zap.String("key", key))
		return noopRelease, false, nil
	}

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client.rdb, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("redis release failed: %w", err)
		}
		if n == 0 {
			l.logger.Warn("tick lock expired before release", zap.String("key", key), zap.Duration("ttl", l.ttl))
		}
		return nil
	}
	return release, true, nil
}

func noopRelease(context.Context) error { return nil }
