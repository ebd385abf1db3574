// internal/trigger/lock_test.go
package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-workers/internal/common/database"
)

func testRedis(t *testing.T) *database.RedisClient {
	t.Helper()
	mr := miniredis.RunT(t)
	return &database.RedisClient{
		Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
	}
}

func TestRedisRunLock(t *testing.T) {
	ctx := context.Background()

	t.Run("acquire and release", func(t *testing.T) {
		lock := NewRedisRunLock(testRedis(t), 10*time.Minute)

		acquired, err := lock.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, acquired)

		// Held lock blocks a second acquisition.
		again, err := lock.Acquire(ctx)
		require.NoError(t, err)
		assert.False(t, again)

		require.NoError(t, lock.Release(ctx))

		released, err := lock.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, released)
	})

	t.Run("two locks over the same backend are mutually exclusive", func(t *testing.T) {
		client := testRedis(t)
		first := NewRedisRunLock(client, 10*time.Minute)
		second := NewRedisRunLock(client, 10*time.Minute)

		acquired, err := first.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, acquired)

		blocked, err := second.Acquire(ctx)
		require.NoError(t, err)
		assert.False(t, blocked)
	})
}
