package fraud

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcomes(tp, fp, tn, fn int) []LabeledOutcome {
	var out []LabeledOutcome
	for i := 0; i < tp; i++ {
		out = append(out, LabeledOutcome{PredictedFraud: true, ActualFraud: true})
	}
	for i := 0; i < fp; i++ {
		out = append(out, LabeledOutcome{PredictedFraud: true, ActualFraud: false})
	}
	for i := 0; i < tn; i++ {
		out = append(out, LabeledOutcome{PredictedFraud: false, ActualFraud: false})
	}
	for i := 0; i < fn; i++ {
		out = append(out, LabeledOutcome{PredictedFraud: false, ActualFraud: true})
	}
	return out
}

func TestRecalibrateThreshold(t *testing.T) {
	tests := []struct {
		name     string
		prior    float64
		feedback []LabeledOutcome
		want     float64
	}{
		{
			name:  "false positives dominate raises threshold",
			prior: 0.8,
			// FPR = 1.0, FNR = 0.0; step capped at +0.05
			feedback: outcomes(0, 10, 0, 0),
			want:     0.85,
		},
		{
			name:  "false negatives dominate lowers threshold",
			prior: 0.8,
			// FPR = 0.0, FNR = 1.0; step capped at -0.05
			feedback: outcomes(0, 0, 0, 10),
			want:     0.75,
		},
		{
			name:  "balanced errors leave threshold unchanged",
			prior: 0.8,
			// FPR = FNR = 0.5
			feedback: outcomes(5, 5, 5, 5),
			want:     0.8,
		},
		{
			name:  "small imbalance stays within dead zone",
			prior: 0.8,
			// FPR = 0.5, FNR ≈ 0.47; |diff| < 0.1
			feedback: outcomes(10, 9, 9, 9),
			want:     0.8,
		},
		{
			name:  "moderate imbalance moves proportionally",
			prior: 0.8,
			// FPR = 0.5, FNR = 0.0; step = 0.05 * 0.5 = 0.025
			feedback: outcomes(5, 5, 5, 0),
			want:     0.825,
		},
		{
			name:     "ceiling clamp",
			prior:    0.98,
			feedback: outcomes(0, 10, 0, 0),
			want:     0.99,
		},
		{
			name:     "floor clamp",
			prior:    0.07,
			feedback: outcomes(0, 0, 0, 10),
			want:     0.05,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, snapshot := RecalibrateThreshold(tt.prior, tt.feedback)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, len(tt.feedback), snapshot.SampleCount)

			// Same inputs, same result.
			again, _ := RecalibrateThreshold(tt.prior, tt.feedback)
			assert.Equal(t, got, again)
		})
	}
}

func TestRecalibrateThresholdSnapshot(t *testing.T) {
	_, snap := RecalibrateThreshold(0.8, outcomes(8, 2, 85, 5))
	assert.InDelta(t, 0.8, snap.Precision, 1e-9)
	assert.InDelta(t, 8.0/13.0, snap.Recall, 1e-9)
	assert.InDelta(t, 2.0/87.0, snap.FalsePositiveRate, 1e-9)
	assert.InDelta(t, 5.0/13.0, snap.FalseNegativeRate, 1e-9)
	assert.Equal(t, 100, snap.SampleCount)
}

func TestThresholdManagerDefaults(t *testing.T) {
	rules := DefaultRules()
	tm := NewThresholdManager(rules, nil, nil)
	ctx := context.Background()

	current := tm.Current(ctx, MetricFraudScore)
	assert.Equal(t, rules.DefaultAlertThreshold, current.Value)

	assert.True(t, tm.ShouldTriggerAlert(ctx, 0.8, MetricFraudScore))
	assert.False(t, tm.ShouldTriggerAlert(ctx, 0.79, MetricFraudScore))
}

func TestThresholdManagerRecalibrate(t *testing.T) {
	rules := DefaultRules()
	tm := NewThresholdManager(rules, nil, nil)
	ctx := context.Background()

	// Empty feedback is a no-op.
	updated, err := tm.Recalibrate(ctx, MetricFraudScore, nil)
	require.NoError(t, err)
	assert.Equal(t, rules.DefaultAlertThreshold, updated.Value)

	updated, err = tm.Recalibrate(ctx, MetricFraudScore, outcomes(0, 10, 0, 0))
	require.NoError(t, err)
	assert.InDelta(t, 0.85, updated.Value, 1e-9)
	assert.False(t, updated.LastRecalibrated.IsZero())

	// The new value becomes the active boundary.
	assert.False(t, tm.ShouldTriggerAlert(ctx, 0.84, MetricFraudScore))
	assert.True(t, tm.ShouldTriggerAlert(ctx, 0.85, MetricFraudScore))
}

func TestThresholdManagerMetricsIsolated(t *testing.T) {
	tm := NewThresholdManager(DefaultRules(), nil, nil)
	ctx := context.Background()

	_, err := tm.Recalibrate(ctx, MetricFraudScore, outcomes(0, 10, 0, 0))
	require.NoError(t, err)

	// The network metric keeps its own independent boundary.
	other := tm.Current(ctx, MetricNetworkAnomaly)
	assert.Equal(t, DefaultRules().DefaultAlertThreshold, other.Value)
}
