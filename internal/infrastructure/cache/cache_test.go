package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edupulse/learning-integrity-backend/internal/domain/risk"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestScoreCache_RoundTrip(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	sc := NewScoreCache(client)

	miss, err := sc.GetScore(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, miss)

	score := &risk.Score{
		UserID:      "user-1",
		Value:       0.67,
		Confidence:  0.8,
		RiskLevel:   risk.RiskHigh,
		ActiveFlags: risk.NewFlagSet(risk.FlagRapidResponses, risk.FlagMechanicalTiming),
		LastUpdated: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, sc.SetScore(ctx, score, time.Minute))

	got, err := sc.GetScore(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, score.Value, got.Value, 1e-9)
	assert.Equal(t, score.RiskLevel, got.RiskLevel)
	assert.True(t, got.ActiveFlags.Has(risk.FlagRapidResponses))
	assert.True(t, got.ActiveFlags.Has(risk.FlagMechanicalTiming))

	other, err := sc.GetScore(ctx, "user-2")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestScoreCache_Expiry(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	sc := NewScoreCache(client)

	score := &risk.Score{UserID: "user-1", Value: 0.5, RiskLevel: risk.RiskMedium}
	require.NoError(t, sc.SetScore(ctx, score, 30*time.Second))

	mr.FastForward(31 * time.Second)

	got, err := sc.GetScore(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRateTracker_CountSince(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	rt := NewRateTracker(client, 10*time.Minute)

	now := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, rt.RecordAttempt(ctx, "user-1", now.Add(-time.Duration(i)*time.Second)))
	}
	// Outside the one-minute window.
	require.NoError(t, rt.RecordAttempt(ctx, "user-1", now.Add(-5*time.Minute)))

	count, err := rt.CountSince(ctx, "user-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	all, err := rt.CountSince(ctx, "user-1", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 6, all)
}

func TestRateTracker_SameMillisecondNotDeduplicated(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	rt := NewRateTracker(client, time.Minute)

	at := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, rt.RecordAttempt(ctx, "user-1", at))
	}

	count, err := rt.CountSince(ctx, "user-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRateTracker_RetentionPrunes(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	rt := NewRateTracker(client, time.Minute)

	now := time.Now()
	require.NoError(t, rt.RecordAttempt(ctx, "user-1", now.Add(-2*time.Minute)))
	require.NoError(t, rt.RecordAttempt(ctx, "user-1", now))

	// The stale member is trimmed on the next write.
	count, err := rt.CountSince(ctx, "user-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRateTracker_UnknownUser(t *testing.T) {
	_, client := setupRedis(t)
	rt := NewRateTracker(client, 0)

	count, err := rt.CountSince(context.Background(), "ghost", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
