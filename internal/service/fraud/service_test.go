package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edupulse/learning-integrity-backend/internal/domain/attempt"
	"github.com/edupulse/learning-integrity-backend/internal/domain/behavior"
	domainerrors "github.com/edupulse/learning-integrity-backend/internal/domain/errors"
	"github.com/edupulse/learning-integrity-backend/internal/domain/risk"
)

type mockProfileStore struct {
	mock.Mock
}

func (m *mockProfileStore) GetProfile(ctx context.Context, userID string) (*behavior.Profile, error) {
	args := m.Called(ctx, userID)
	if p := args.Get(0); p != nil {
		return p.(*behavior.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProfileStore) SaveProfile(ctx context.Context, profile *behavior.Profile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func (m *mockProfileStore) ListProfiles(ctx context.Context, userIDs []string) ([]*behavior.Profile, error) {
	args := m.Called(ctx, userIDs)
	if p := args.Get(0); p != nil {
		return p.([]*behavior.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockScoreStore struct {
	mock.Mock
}

func (m *mockScoreStore) SaveScore(ctx context.Context, score *risk.Score) error {
	args := m.Called(ctx, score)
	return args.Error(0)
}

func (m *mockScoreStore) GetLatestScore(ctx context.Context, userID string) (*risk.Score, error) {
	args := m.Called(ctx, userID)
	if s := args.Get(0); s != nil {
		return s.(*risk.Score), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockThresholdStore struct {
	mock.Mock
}

func (m *mockThresholdStore) GetThreshold(ctx context.Context, metricName string) (*Threshold, error) {
	args := m.Called(ctx, metricName)
	if t := args.Get(0); t != nil {
		return t.(*Threshold), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockThresholdStore) SaveThreshold(ctx context.Context, threshold *Threshold) error {
	args := m.Called(ctx, threshold)
	return args.Error(0)
}

type mockScoreCache struct {
	mock.Mock
}

func (m *mockScoreCache) GetScore(ctx context.Context, userID string) (*risk.Score, error) {
	args := m.Called(ctx, userID)
	if s := args.Get(0); s != nil {
		return s.(*risk.Score), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockScoreCache) SetScore(ctx context.Context, score *risk.Score, ttl time.Duration) error {
	args := m.Called(ctx, score, ttl)
	return args.Error(0)
}

// rapidProfile builds a profile with count recent attempts spread over the
// last minute, with enough timing variance to keep the mechanical check quiet.
func rapidProfile(userID string, count int, now time.Time) *behavior.Profile {
	p := behavior.NewProfile(userID, behavior.DefaultWindowSize)
	for i := 0; i < count; i++ {
		ev := makeEvent(userID, uint64(3000+i*137), i%3 != 0, "desktop",
			now.Add(-time.Duration(count-i)*time.Second))
		p.Record(ev)
	}
	return p
}

// mechanicalProfile builds a profile where every attempt took exactly the
// same time, which is machine-like.
func mechanicalProfile(userID string, count int, now time.Time) *behavior.Profile {
	p := behavior.NewProfile(userID, behavior.DefaultWindowSize)
	for i := 0; i < count; i++ {
		ev := makeEvent(userID, 3000, true, "desktop",
			now.Add(-time.Duration(count-i)*time.Second))
		p.Record(ev)
	}
	return p
}

// normalProfile builds an unremarkable history: varied timing, mixed
// correctness, one device, attempts spaced well outside the rate window.
func normalProfile(userID string, count int, now time.Time) *behavior.Profile {
	p := behavior.NewProfile(userID, behavior.DefaultWindowSize)
	for i := 0; i < count; i++ {
		ev := makeEvent(userID, uint64(9000+(i%7)*900), i%3 != 0, "desktop",
			now.Add(-time.Duration(count-i)*10*time.Minute))
		p.Record(ev)
	}
	return p
}

func validEvent(userID string, now time.Time) *attempt.Event {
	ev := makeEvent(userID, 3000, true, "desktop", now)
	return &ev
}

func TestAnalyzeAttemptRejectsInvalidEvent(t *testing.T) {
	profiles := new(mockProfileStore)
	svc := NewService(Deps{Profiles: profiles})

	_, err := svc.AnalyzeAttempt(context.Background(), &attempt.Event{UserID: "u1"})

	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
	profiles.AssertNotCalled(t, "GetProfile", mock.Anything, mock.Anything)
	profiles.AssertNotCalled(t, "SaveProfile", mock.Anything, mock.Anything)
}

func TestAnalyzeAttemptRapidResponses(t *testing.T) {
	now := time.Now()
	profiles := new(mockProfileStore)
	scores := new(mockScoreStore)
	profiles.On("GetProfile", mock.Anything, "u1").Return(rapidProfile("u1", 30, now), nil)
	profiles.On("SaveProfile", mock.Anything, mock.AnythingOfType("*behavior.Profile")).Return(nil)
	scores.On("SaveScore", mock.Anything, mock.AnythingOfType("*risk.Score")).Return(nil)

	// No model configured: rule-only scoring, marked degraded.
	svc := NewService(Deps{Profiles: profiles, Scores: scores})

	ev := validEvent("u1", now)
	ev.TimeTakenMS = 3500
	score, err := svc.AnalyzeAttempt(context.Background(), ev)
	require.NoError(t, err)

	assert.Greater(t, score.Value, 0.3, "31 attempts in the window must exceed the medium band")
	assert.True(t, score.ActiveFlags.Has(risk.FlagRapidResponses))
	assert.True(t, score.Degraded, "missing model must mark the score degraded")
	assert.Equal(t, risk.RiskMedium, score.RiskLevel)
	assert.GreaterOrEqual(t, score.Confidence, 0.0)
	assert.LessOrEqual(t, score.Confidence, 1.0)

	require.NoError(t, svc.Shutdown(context.Background()))
	profiles.AssertCalled(t, "SaveProfile", mock.Anything, mock.AnythingOfType("*behavior.Profile"))
	scores.AssertCalled(t, "SaveScore", mock.Anything, mock.AnythingOfType("*risk.Score"))
}

func TestAnalyzeAttemptRapidResponsesWithModel(t *testing.T) {
	now := time.Now()
	profiles := new(mockProfileStore)
	profiles.On("GetProfile", mock.Anything, "u1").Return(rapidProfile("u1", 30, now), nil)
	profiles.On("SaveProfile", mock.Anything, mock.Anything).Return(nil)

	// The model sees varied timing and middling accuracy, so its probability
	// is near zero. That must not average the rapid-rate hit below the
	// medium band.
	svc := NewService(Deps{Profiles: profiles, Model: NewLogisticModel()})

	ev := validEvent("u1", now)
	ev.TimeTakenMS = 3500
	score, err := svc.AnalyzeAttempt(context.Background(), ev)
	require.NoError(t, err)

	assert.Greater(t, score.Value, 0.3, "31 attempts in the window must exceed the medium band")
	assert.True(t, score.ActiveFlags.Has(risk.FlagRapidResponses))
	assert.Equal(t, risk.RiskMedium, score.RiskLevel)
	assert.False(t, score.Degraded)
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestAnalyzeAttemptCleanUser(t *testing.T) {
	now := time.Now()
	profiles := new(mockProfileStore)
	profiles.On("GetProfile", mock.Anything, "u2").Return(normalProfile("u2", 20, now), nil)
	profiles.On("SaveProfile", mock.Anything, mock.Anything).Return(nil)

	svc := NewService(Deps{Profiles: profiles, Model: NewLogisticModel()})

	ev := validEvent("u2", now)
	ev.TimeTakenMS = 11000
	score, err := svc.AnalyzeAttempt(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, risk.RiskLow, score.RiskLevel)
	assert.Empty(t, score.ActiveFlags.Sorted())
	assert.False(t, score.Degraded)
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestAnalyzeAttemptMechanicalTimingRaisesAlert(t *testing.T) {
	now := time.Now()
	profiles := new(mockProfileStore)
	alerts := new(mockAlertStore)
	profiles.On("GetProfile", mock.Anything, "u3").Return(mechanicalProfile("u3", 30, now), nil)
	profiles.On("SaveProfile", mock.Anything, mock.Anything).Return(nil)
	alerts.On("SaveAlert", mock.Anything, mock.AnythingOfType("*risk.Alert")).Return(nil)

	svc := NewService(Deps{Profiles: profiles, Alerts: alerts})

	score, err := svc.AnalyzeAttempt(context.Background(), validEvent("u3", now))
	require.NoError(t, err)

	assert.True(t, score.ActiveFlags.Has(risk.FlagMechanicalTiming))
	assert.True(t, score.ActiveFlags.Has(risk.FlagRapidResponses))
	assert.GreaterOrEqual(t, score.Value, 0.85)
	assert.Equal(t, risk.RiskCritical, score.RiskLevel)

	require.NoError(t, svc.Shutdown(context.Background()))
	alerts.AssertCalled(t, "SaveAlert", mock.Anything, mock.AnythingOfType("*risk.Alert"))
}

func TestAnalyzeSessionDeviceChurn(t *testing.T) {
	now := time.Now()
	profiles := new(mockProfileStore)
	profiles.On("GetProfile", mock.Anything, "u4").Return(nil, domainerrors.ErrProfileNotFound)
	profiles.On("SaveProfile", mock.Anything, mock.Anything).Return(nil)

	svc := NewService(Deps{Profiles: profiles})

	summary := &attempt.SessionSummary{
		UserID:     "u4",
		SessionID:  "sess-1",
		StartedAt:  now.Add(-10 * time.Minute),
		EndedAt:    now,
		DeviceType: "desktop",
		IPAddress:  "203.0.113.7",
		Attempts: []attempt.Event{
			makeEvent("u4", 9000, true, "desktop", now.Add(-9*time.Minute)),
			makeEvent("u4", 11000, false, "mobile", now.Add(-6*time.Minute)),
			makeEvent("u4", 8000, true, "desktop", now.Add(-3*time.Minute)),
		},
	}

	score, err := svc.AnalyzeSession(context.Background(), summary)
	require.NoError(t, err)

	assert.True(t, score.ActiveFlags.Has(risk.FlagDeviceInconsistency))
	assert.Greater(t, score.Value, 0.0)
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestAnalyzeSessionRejectsEmptySession(t *testing.T) {
	svc := NewService(Deps{})
	now := time.Now()

	_, err := svc.AnalyzeSession(context.Background(), &attempt.SessionSummary{
		UserID:     "u1",
		SessionID:  "sess-1",
		StartedAt:  now,
		EndedAt:    now,
		DeviceType: "desktop",
		IPAddress:  "203.0.113.7",
	})

	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
}

func TestGetFraudScore(t *testing.T) {
	stored := highScore("u5")

	t.Run("cache hit skips the store", func(t *testing.T) {
		cache := new(mockScoreCache)
		scores := new(mockScoreStore)
		cache.On("GetScore", mock.Anything, "u5").Return(stored, nil)

		svc := NewService(Deps{Scores: scores, Cache: cache})
		got, err := svc.GetFraudScore(context.Background(), "u5")
		require.NoError(t, err)
		assert.Equal(t, stored, got)
		scores.AssertNotCalled(t, "GetLatestScore", mock.Anything, mock.Anything)
	})

	t.Run("cache miss falls back to store", func(t *testing.T) {
		cache := new(mockScoreCache)
		scores := new(mockScoreStore)
		cache.On("GetScore", mock.Anything, "u5").Return(nil, domainerrors.ErrScoreNotFound)
		scores.On("GetLatestScore", mock.Anything, "u5").Return(stored, nil)

		svc := NewService(Deps{Scores: scores, Cache: cache})
		got, err := svc.GetFraudScore(context.Background(), "u5")
		require.NoError(t, err)
		assert.Equal(t, stored, got)
	})

	t.Run("unknown user", func(t *testing.T) {
		scores := new(mockScoreStore)
		scores.On("GetLatestScore", mock.Anything, "ghost").Return(nil, nil)

		svc := NewService(Deps{Scores: scores})
		_, err := svc.GetFraudScore(context.Background(), "ghost")
		require.Error(t, err)
		assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeNotFound))
	})

	t.Run("empty user id", func(t *testing.T) {
		svc := NewService(Deps{})
		_, err := svc.GetFraudScore(context.Background(), "")
		require.Error(t, err)
		assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
	})
}

func TestReviewAlertFeedsBackIntoThresholdAndModel(t *testing.T) {
	stored := risk.NewAlert("fraud_score_exceeded", "u6", "d", risk.RiskHigh, 0.9, nil)

	alerts := new(mockAlertStore)
	thresholds := new(mockThresholdStore)
	alerts.On("GetAlert", mock.Anything, stored.ID).Return(stored, nil)
	alerts.On("UpdateAlert", mock.Anything, stored).Return(nil)
	thresholds.On("GetThreshold", mock.Anything, MetricFraudScore).Return(nil, nil)
	thresholds.On("SaveThreshold", mock.Anything, mock.MatchedBy(func(th *Threshold) bool {
		// A dismissed alert is a pure false positive: threshold moves up
		// by the full capped step.
		return th.MetricName == MetricFraudScore && th.Value > 0.8
	})).Return(nil)

	model := NewLogisticModel()
	svc := NewService(Deps{Alerts: alerts, Thresholds: thresholds, Model: model})

	reviewed, err := svc.ReviewAlert(context.Background(), stored.ID, risk.ActionDismiss, "reviewer-1", "benign burst")
	require.NoError(t, err)
	assert.Equal(t, risk.AlertDismissed, reviewed.Status)

	thresholds.AssertExpectations(t)

	diag, err := svc.ModelInsights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, diag.FeedbackCount, "dismissal must reach the model as a labeled sample")
}

func TestReviewAlertRequiresReviewer(t *testing.T) {
	svc := NewService(Deps{})
	_, err := svc.ReviewAlert(context.Background(), risk.NewAlert("t", "u", "d", risk.RiskLow, 0.1, nil).ID, risk.ActionConfirm, "", "")
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
}

func TestDetectCollusion(t *testing.T) {
	now := time.Now()
	profiles := new(mockProfileStore)
	batch := []*behavior.Profile{
		mechanicalProfile("a", 10, now),
		mechanicalProfile("b", 10, now),
	}
	profiles.On("ListProfiles", mock.Anything, []string{"a", "b"}).Return(batch, nil)

	svc := NewService(Deps{Profiles: profiles})

	report, err := svc.DetectCollusion(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.ScannedUsers)
	require.Len(t, report.Pairs, 1)
	assert.Equal(t, "a", report.Pairs[0].UserA)
	assert.Equal(t, "b", report.Pairs[0].UserB)
}

func TestDetectCollusionRejectsEmptyBatch(t *testing.T) {
	svc := NewService(Deps{Profiles: new(mockProfileStore)})
	_, err := svc.DetectCollusion(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
}

func TestAnalyzeNetwork(t *testing.T) {
	svc := NewService(Deps{})
	ctx := context.Background()

	// Many distinct users behind one IP.
	var lastScore float64
	var lastFlags []risk.Flag
	for i := 0; i < 25; i++ {
		var err error
		lastScore, lastFlags, err = svc.AnalyzeNetwork(ctx, string(rune('a'+i)), "198.51.100.77", "desktop")
		require.NoError(t, err)
	}
	assert.Greater(t, lastScore, 0.0)
	assert.Contains(t, lastFlags, risk.FlagNetworkAnomaly)

	_, _, err := svc.AnalyzeNetwork(ctx, "", "198.51.100.77", "desktop")
	require.Error(t, err)
}

func TestRetrainWithoutModel(t *testing.T) {
	svc := NewService(Deps{})
	err := svc.Retrain(context.Background(), []LabeledSample{{PredictedScore: 0.9, PredictedFraud: true, ActualFraud: true}})
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeModelUnavailable))

	_, err = svc.ModelInsights(context.Background())
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeModelUnavailable))
}

func TestRecommendationsFromCurrentScore(t *testing.T) {
	scores := new(mockScoreStore)
	profiles := new(mockProfileStore)
	scores.On("GetLatestScore", mock.Anything, "u7").Return(highScore("u7"), nil)
	profiles.On("GetProfile", mock.Anything, "u7").Return(nil, domainerrors.ErrProfileNotFound)

	svc := NewService(Deps{Scores: scores, Profiles: profiles})

	recs, err := svc.Recommendations(context.Background(), "u7")
	require.NoError(t, err)
	assert.NotEmpty(t, recs)
	assert.True(t, containsSubstring(recs, "suspend"))
}

func TestUpdateThresholdsEmptyFeedbackIsNoOp(t *testing.T) {
	thresholds := new(mockThresholdStore)
	thresholds.On("GetThreshold", mock.Anything, MetricFraudScore).Return(nil, nil)

	svc := NewService(Deps{Thresholds: thresholds})
	require.NoError(t, svc.UpdateThresholds(context.Background(), nil))
	thresholds.AssertNotCalled(t, "SaveThreshold", mock.Anything, mock.Anything)
}
