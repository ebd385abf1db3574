// internal/trigger/lock.go
package trigger

import (
	"context"
	"time"

	"reminder-workers/internal/common/database"
)

// RunLock serializes delivery runs so overlapping scheduler invocations
// cannot race on the idempotency markers.
type RunLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

const runLockKey = "reminders:delivery-run:lock"

// RedisRunLock implements RunLock with SET NX and a TTL equal to the run
// budget, so a crashed run cannot hold the lock forever.
type RedisRunLock struct {
	redis *database.RedisClient
	key   string
	ttl   time.Duration
}

func NewRedisRunLock(redis *database.RedisClient, ttl time.Duration) *RedisRunLock {
	return &RedisRunLock{
		redis: redis,
		key:   runLockKey,
		ttl:   ttl,
	}
}

func (l *RedisRunLock) Acquire(ctx context.Context) (bool, error) {
	return l.redis.SetNX(ctx, l.key, time.Now().UTC().Format(time.RFC3339), l.ttl)
}

func (l *RedisRunLock) Release(ctx context.Context) error {
	return l.redis.Del(ctx, l.key)
}
