package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// lockTTL bounds how long a crashed holder can keep a lock. It must
// comfortably exceed the longest tick body (a full multi-tenant mail
// poll) so a live holder is never expired underneath.
const lockTTL = 10 * time.Minute

// releaseScript deletes the lock only when this holder still owns it,
// so an expired-and-reacquired lock is never released by the old holder.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Locker is the distributed advisory lock used to keep exactly one
// scheduler instance executing a given recurring job tick. Acquisition
// failure is an expected outcome in a multi-instance deployment, not an
// error.
type Locker struct {
	client *Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewLocker creates a distributed lock service.
func NewLocker(client *Client, logger *zap.Logger) *Locker {
	return &Locker{
		client: client,
		ttl:    lockTTL,
		logger: logger,
	}
}

func (l *Locker) buildKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

// Acquire attempts to take the lock using SET NX. On success it returns
// acquired=true and a release func that the caller must invoke on every
// exit path (defer it). When the lock is held elsewhere it returns
// acquired=false with a no-op release.
func (l *Locker) Acquire(ctx context.Context, key string) (release func(), acquired bool, err error) {
	redisKey := l.buildKey(key)
	token := uuid.NewString()

	set, err := l.client.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !set {
		return func() {}, false, nil
	}

	release = func() {
		// Release uses its own deadline so shutdown cancellation cannot
		// leave the lock held until TTL expiry.
		rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := l.client.rdb.Eval(rctx, releaseScript, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("failed to release advisory lock",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}

	return release, true, nil
}
