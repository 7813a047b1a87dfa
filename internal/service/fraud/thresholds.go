package fraud

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/edupulse/learning-integrity-backend/internal/domain/errors"
)

// Working range for adaptive thresholds. The guards keep a runaway feedback
// loop from disabling alerting entirely in either direction.
const (
	thresholdFloor   = 0.05
	thresholdCeiling = 0.99
	errorDominance   = 0.1 // minimum |FPR-FNR| before the threshold moves
)

// ThresholdManager owns the adaptive decision boundaries, one per metric.
// State is held in memory and written through to the store on change.
type ThresholdManager struct {
	rules  *Rules
	store  ThresholdStore
	logger *slog.Logger

	mu         sync.RWMutex
	thresholds map[string]*Threshold
}

func NewThresholdManager(rules *Rules, store ThresholdStore, logger *slog.Logger) *ThresholdManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThresholdManager{
		rules:      rules,
		store:      store,
		logger:     logger,
		thresholds: make(map[string]*Threshold),
	}
}

// Current returns the active threshold for a metric, loading it from the
// store on first touch and falling back to the configured default.
func (tm *ThresholdManager) Current(ctx context.Context, metricName string) *Threshold {
	tm.mu.RLock()
	t, ok := tm.thresholds[metricName]
	tm.mu.RUnlock()
	if ok {
		return t
	}

	if tm.store != nil {
		if stored, err := tm.store.GetThreshold(ctx, metricName); err == nil && stored != nil {
			tm.mu.Lock()
			tm.thresholds[metricName] = stored
			tm.mu.Unlock()
			return stored
		}
	}

	t = &Threshold{MetricName: metricName, Value: tm.rules.DefaultAlertThreshold}
	tm.mu.Lock()
	tm.thresholds[metricName] = t
	tm.mu.Unlock()
	return t
}

// ShouldTriggerAlert compares a score against the active threshold.
func (tm *ThresholdManager) ShouldTriggerAlert(ctx context.Context, score float64, metricName string) bool {
	return score >= tm.Current(ctx, metricName).Value
}

// Recalibrate replays a labeled feedback batch against the stored threshold
// and applies the bounded adjustment rule. Idempotent for a fixed (prior
// threshold, feedback) pair. Empty feedback leaves the threshold unchanged.
func (tm *ThresholdManager) Recalibrate(ctx context.Context, metricName string, feedback []LabeledOutcome) (*Threshold, error) {
	current := tm.Current(ctx, metricName)
	if len(feedback) == 0 {
		return current, nil
	}

	newValue, snapshot := RecalibrateThreshold(current.Value, feedback)
	updated := &Threshold{
		MetricName:       metricName,
		Value:            newValue,
		LastRecalibrated: time.Now(),
		Performance:      snapshot,
	}

	tm.mu.Lock()
	tm.thresholds[metricName] = updated
	tm.mu.Unlock()

	if tm.store != nil {
		if err := tm.store.SaveThreshold(ctx, updated); err != nil {
			tm.logger.WarnContext(ctx, "threshold persistence failed",
				"metric", metricName, "error", err)
			return updated, errors.NewPersistenceError("save_threshold").WithCause(err)
		}
	}

	tm.logger.InfoContext(ctx, "threshold recalibrated",
		"metric", metricName,
		"previous", current.Value,
		"value", newValue,
		"fpr", snapshot.FalsePositiveRate,
		"fnr", snapshot.FalseNegativeRate)

	return updated, nil
}

// RecalibrateThreshold is the pure adjustment rule: compute the confusion
// rates over the batch, then move the threshold by a step proportional to
// (FPR - FNR), capped at ±0.05 per recalibration. False positives dominate
// -> raise the threshold (fire fewer alerts); false negatives dominate ->
// lower it. Movement only happens when one error rate dominates by more
// than 0.1. The result is clamped to [0.05, 0.99].
func RecalibrateThreshold(prior float64, feedback []LabeledOutcome) (float64, PerformanceSnapshot) {
	var tp, fp, tn, fn int
	for _, f := range feedback {
		switch {
		case f.PredictedFraud && f.ActualFraud:
			tp++
		case f.PredictedFraud && !f.ActualFraud:
			fp++
		case !f.PredictedFraud && f.ActualFraud:
			fn++
		default:
			tn++
		}
	}
	snapshot := confusionSnapshot(tp, fp, tn, fn)

	value := prior
	diff := snapshot.FalsePositiveRate - snapshot.FalseNegativeRate
	if math.Abs(diff) > errorDominance {
		step := 0.05 * diff
		if step > 0.05 {
			step = 0.05
		}
		if step < -0.05 {
			step = -0.05
		}
		value = prior + step
	}

	if value < thresholdFloor {
		value = thresholdFloor
	}
	if value > thresholdCeiling {
		value = thresholdCeiling
	}
	return value, snapshot
}
