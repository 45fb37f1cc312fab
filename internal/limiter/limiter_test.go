package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, maxAttempts int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, maxAttempts, window), mr
}

func TestAllowWithinBudget(t *testing.T) {
	limiter, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.NoError(t, limiter.Allow(ctx, "login", "ada@example.com"))
	}
	assert.ErrorIs(t, limiter.Allow(ctx, "login", "ada@example.com"), ErrRateLimited)
}

func TestScopesAndKeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "login", "ada@example.com"))
	assert.ErrorIs(t, limiter.Allow(ctx, "login", "ada@example.com"), ErrRateLimited)

	// Same key in a different scope, and a different key, are unaffected.
	assert.NoError(t, limiter.Allow(ctx, "reset", "ada@example.com"))
	assert.NoError(t, limiter.Allow(ctx, "login", "bob@example.com"))
}

func TestWindowExpiryResetsBudget(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "login", "ada@example.com"))
	require.ErrorIs(t, limiter.Allow(ctx, "login", "ada@example.com"), ErrRateLimited)

	mr.FastForward(2 * time.Minute)

	assert.NoError(t, limiter.Allow(ctx, "login", "ada@example.com"))
}

func TestKeysAreCaseInsensitive(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "login", "Ada@Example.com"))
	assert.ErrorIs(t, limiter.Allow(ctx, "login", "ada@example.com"), ErrRateLimited)
}

func TestEmptyKeysAreSkipped(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	assert.NoError(t, limiter.Allow(ctx, "login", "", " "))
	assert.NoError(t, limiter.Allow(ctx, "login", "", " "))
}

func TestRedisDownReportsUnavailable(t *testing.T) {
	limiter, mr := newTestLimiter(t, 3, time.Minute)
	mr.Close()

	err := limiter.Allow(context.Background(), "login", "ada@example.com")
	assert.ErrorIs(t, err, ErrUnavailable)
}
