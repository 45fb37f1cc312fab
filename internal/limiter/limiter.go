// Package limiter throttles credential-sensitive endpoints with a
// fixed-window counter held in redis.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned when a key exceeded its attempt budget
// inside the current window.
var ErrRateLimited = errors.New("rate limited")

// ErrUnavailable wraps redis failures so callers can decide to fail open.
var ErrUnavailable = errors.New("limiter unavailable")

// Limiter counts attempts per (scope, key) with INCR+EXPIRE.
type Limiter struct {
	rdb         *redis.Client
	maxAttempts int
	window      time.Duration
}

func New(rdb *redis.Client, maxAttempts int, window time.Duration) *Limiter {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Limiter{rdb: rdb, maxAttempts: maxAttempts, window: window}
}

// Allow records one attempt for every non-empty key and fails if any of
// them is over budget. The window starts at the first attempt.
func (l *Limiter) Allow(ctx context.Context, scope string, keys ...string) error {
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if err := l.enforce(ctx, scope+":"+strings.ToLower(key)); err != nil {
			return err
		}
	}
	return nil
}

func (l *Limiter) enforce(ctx context.Context, key string) error {
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if count == 1 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	if count > int64(l.maxAttempts) {
		return ErrRateLimited
	}

	return nil
}
