package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const failureKeyPrefix = "login-failures"

// FailureTracker counts consecutive bad-password attempts per user in
// Redis. The increment and the TTL refresh run in one pipeline so two
// concurrent failed logins cannot lose an update.
type FailureTracker struct {
	redis  *redis.Client
	window time.Duration
}

// NewFailureTracker creates a tracker with the given observation window
func NewFailureTracker(client *redis.Client, window time.Duration) *FailureTracker {
	return &FailureTracker{
		redis:  client,
		window: window,
	}
}

func failureKey(userID int64) string {
	return fmt.Sprintf("%s:%d", failureKeyPrefix, userID)
}

// Record increments the failure counter for a user and refreshes its TTL,
// returning the post-increment count.
func (t *FailureTracker) Record(ctx context.Context, userID int64) (int64, error) {
	key := failureKey(userID)

	pipe := t.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, t.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("recording login failure: %w", err)
	}

	return incr.Val(), nil
}

// Reset clears the failure counter for a user
func (t *FailureTracker) Reset(ctx context.Context, userID int64) error {
	if err := t.redis.Del(ctx, failureKey(userID)).Err(); err != nil {
		return fmt.Errorf("resetting login failures: %w", err)
	}
	return nil
}

// Failures returns the current failure count for a user
func (t *FailureTracker) Failures(ctx context.Context, userID int64) (int64, error) {
	count, err := t.redis.Get(ctx, failureKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("reading login failures: %w", err)
	}
	return count, nil
}
