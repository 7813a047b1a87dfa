package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edupulse/learning-integrity-backend/internal/domain/risk"
)

const scoreKeyPrefix = "integrity:score:"

// scoreCache holds the current fraud score per user with a short TTL so
// read-heavy endpoints skip the database on repeat lookups.
type scoreCache struct {
	client *redis.Client
}

// NewScoreCache creates a redis-backed score cache.
func NewScoreCache(client *redis.Client) *scoreCache {
	return &scoreCache{client: client}
}

// GetScore returns the cached score, or (nil, nil) on a miss.
func (c *scoreCache) GetScore(ctx context.Context, userID string) (*risk.Score, error) {
	data, err := c.client.Get(ctx, scoreKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached score: %w", err)
	}

	var score risk.Score
	if err := json.Unmarshal(data, &score); err != nil {
		return nil, fmt.Errorf("failed to decode cached score: %w", err)
	}
	return &score, nil
}

// SetScore caches the score under the user key for the given TTL.
func (c *scoreCache) SetScore(ctx context.Context, score *risk.Score, ttl time.Duration) error {
	data, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("failed to encode score: %w", err)
	}
	if err := c.client.Set(ctx, scoreKeyPrefix+score.UserID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache score: %w", err)
	}
	return nil
}
