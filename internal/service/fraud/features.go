package fraud

import (
	"math"

	"github.com/edupulse/learning-integrity-backend/internal/domain/attempt"
	"github.com/edupulse/learning-integrity-backend/internal/domain/behavior"
)

// Population defaults used when a user has too little history for a
// statistic to be defined.
const (
	defaultMeanResponseMS = 12000.0
	recencyAlpha          = 0.3
)

// Features is the numeric behavioral feature map fed to detectors and the
// probability model.
type Features struct {
	AvgResponseMS        float64 `json:"avg_response_ms"`
	StddevResponseMS     float64 `json:"stddev_response_ms"`
	AccuracyRate         float64 `json:"accuracy_rate"`
	DeviceConsistency    float64 `json:"device_consistency"`
	RecencyAvgResponseMS float64 `json:"recency_avg_response_ms"`
	RecencyAccuracy      float64 `json:"recency_accuracy"`
	HintRate             float64 `json:"hint_rate"`
	SampleCount          int     `json:"sample_count"`
}

// featureOrder fixes the vector layout consumed by the model. Order changes
// invalidate stored weights.
var featureOrder = []string{
	"avg_response_ms",
	"stddev_response_ms",
	"accuracy_rate",
	"device_consistency",
	"recency_avg_response_ms",
	"recency_accuracy",
	"hint_rate",
}

// Vector returns the features in the fixed model ordering, with timing
// values log-scaled so weights operate on comparable magnitudes.
func (f *Features) Vector() []float64 {
	return []float64{
		math.Log1p(f.AvgResponseMS),
		math.Log1p(f.StddevResponseMS),
		f.AccuracyRate,
		f.DeviceConsistency,
		math.Log1p(f.RecencyAvgResponseMS),
		f.RecencyAccuracy,
		f.HintRate,
	}
}

// Map returns named feature values for diagnostics output.
func (f *Features) Map() map[string]float64 {
	vec := f.Vector()
	out := make(map[string]float64, len(featureOrder))
	for i, name := range featureOrder {
		out[name] = vec[i]
	}
	return out
}

// ExtractFeatures computes behavioral features from an ordered attempt
// sequence, optionally merged with the stored profile window. Pure: neither
// input is mutated. Sequences of length 1 are valid; undefined statistics
// fall back to population defaults (stddev of one sample is 0).
func ExtractFeatures(events []attempt.Event, profile *behavior.Profile) *Features {
	merged := events
	if profile != nil && len(profile.Window) > 0 {
		merged = make([]attempt.Event, 0, len(profile.Window)+len(events))
		merged = append(merged, profile.Window...)
		merged = append(merged, events...)
	}

	n := len(merged)
	if n == 0 {
		return &Features{
			AvgResponseMS:        defaultMeanResponseMS,
			RecencyAvgResponseMS: defaultMeanResponseMS,
			DeviceConsistency:    1.0,
		}
	}

	var sum, correct, hints float64
	devices := make(map[string]int, 4)
	for _, ev := range merged {
		sum += float64(ev.TimeTakenMS)
		if ev.Correct {
			correct++
		}
		hints += float64(ev.HintsUsed)
		devices[ev.DeviceType]++
	}
	mean := sum / float64(n)

	var sq float64
	for _, ev := range merged {
		d := float64(ev.TimeTakenMS) - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(n))

	modal := 0
	for _, c := range devices {
		if c > modal {
			modal = c
		}
	}

	// Recency weighting: exponential moving average walked oldest to
	// newest, so the latest attempts dominate.
	recAvg := float64(merged[0].TimeTakenMS)
	recAcc := boolToFloat(merged[0].Correct)
	for _, ev := range merged[1:] {
		recAvg = recencyAlpha*float64(ev.TimeTakenMS) + (1-recencyAlpha)*recAvg
		recAcc = recencyAlpha*boolToFloat(ev.Correct) + (1-recencyAlpha)*recAcc
	}

	return &Features{
		AvgResponseMS:        mean,
		StddevResponseMS:     stddev,
		AccuracyRate:         correct / float64(n),
		DeviceConsistency:    float64(modal) / float64(n),
		RecencyAvgResponseMS: recAvg,
		RecencyAccuracy:      recAcc,
		HintRate:             hints / float64(n),
		SampleCount:          n,
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
