package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const rateKeyPrefix = "integrity:attempts:"

// DefaultRetention bounds how long attempt timestamps are kept. It must be
// at least as long as the largest rate window any detector queries.
const DefaultRetention = 10 * time.Minute

// rateTracker keeps per-user attempt timestamps in a redis sorted set so
// trailing-window counts survive restarts and span service instances.
type rateTracker struct {
	client    *redis.Client
	retention time.Duration
}

// NewRateTracker creates a redis-backed rate tracker. retention <= 0 falls
// back to DefaultRetention.
func NewRateTracker(client *redis.Client, retention time.Duration) *rateTracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &rateTracker{client: client, retention: retention}
}

// RecordAttempt appends one attempt timestamp. Members carry a uuid suffix
// so attempts landing in the same millisecond are not deduplicated.
func (t *rateTracker) RecordAttempt(ctx context.Context, userID string, at time.Time) error {
	key := rateKeyPrefix + userID
	member := strconv.FormatInt(at.UnixMilli(), 10) + ":" + uuid.NewString()

	pipe := t.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "-inf",
		strconv.FormatInt(at.Add(-t.retention).UnixMilli(), 10))
	pipe.Expire(ctx, key, t.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// CountSince returns the number of attempts in the trailing window.
func (t *rateTracker) CountSince(ctx context.Context, userID string, window time.Duration) (int, error) {
	cutoff := time.Now().Add(-window).UnixMilli()

	count, err := t.client.ZCount(ctx, rateKeyPrefix+userID,
		strconv.FormatInt(cutoff, 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return int(count), nil
}
