package fraud

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/edupulse/learning-integrity-backend/internal/domain/errors"
)

// confidenceRampSamples controls how quickly confidence grows with
// accumulated feedback; at n samples confidence is scaled by n/(n+ramp).
const confidenceRampSamples = 20

// calibration is the immutable Platt-scaling state. Updates build a new
// value and swap the pointer so readers never see a torn model.
type calibration struct {
	a               float64
	b               float64
	feedbackCount   int
	lastRecalibrate time.Time
	performance     PerformanceSnapshot
}

// LogisticModel is a fixed-weight logistic scorer with an online-refit
// calibration layer. The base weights never change at runtime; Retrain
// feedback only moves the calibration, which keeps incremental updates
// cheap and deterministic.
type LogisticModel struct {
	weights []float64
	bias    float64
	calib   atomic.Pointer[calibration]
}

// NewLogisticModel returns the model with stock weights over the fixed
// feature ordering. Weights were chosen so that fast, low-variance,
// high-accuracy behavior on an inconsistent device pushes probability up.
func NewLogisticModel() *LogisticModel {
	m := &LogisticModel{
		weights: []float64{
			-0.55, // log avg response: faster answers raise suspicion
			-0.35, // log stddev: flat timing raises suspicion
			2.10,  // accuracy rate
			-1.20, // device consistency: churn raises suspicion
			-0.45, // log recency avg response
			1.30,  // recency accuracy
			-0.25, // hint rate: cheaters rarely burn hints
		},
		// Intercept offsets the log-scaled timing terms so typical honest
		// behavior lands well below 0.1 probability.
		bias: 6.5,
	}
	m.calib.Store(&calibration{a: 1.0, b: 0.0})
	return m
}

// Predict returns (probability, confidence), both in [0,1], deterministic
// for fixed model state and input.
func (m *LogisticModel) Predict(features *Features) (float64, float64, error) {
	if features == nil {
		return 0, 0, errors.NewValidationError("INVALID_FEATURES", "feature vector cannot be nil")
	}
	vec := features.Vector()
	if len(vec) != len(m.weights) {
		return 0, 0, errors.NewValidationError("INVALID_FEATURES", "feature vector length mismatch")
	}

	z := m.bias
	for i, w := range m.weights {
		z += w * vec[i]
	}
	raw := sigmoid(z)

	c := m.calib.Load()
	p := clamp01(sigmoid(c.a*logit(raw) + c.b))

	// Margin-based confidence, shrunk while the model is cold.
	margin := 2 * math.Abs(p-0.5)
	ramp := float64(c.feedbackCount) / float64(c.feedbackCount+confidenceRampSamples)
	confidence := clamp01(margin * (0.25 + 0.75*ramp))

	return p, confidence, nil
}

// Update refits the calibration layer from a labeled feedback batch using a
// fixed number of gradient steps over the log-loss. Empty input is a no-op.
// The new calibration becomes visible atomically.
func (m *LogisticModel) Update(samples []LabeledSample) error {
	if len(samples) == 0 {
		return nil
	}

	prev := m.calib.Load()
	a, b := prev.a, prev.b

	type point struct{ s, y float64 }
	points := make([]point, 0, len(samples))
	var tp, fp, tn, fn int
	for _, s := range samples {
		score := s.PredictedScore
		if s.Features != nil {
			p, _, err := m.Predict(s.Features)
			if err == nil {
				score = p
			}
		}
		y := 0.0
		if s.ActualFraud {
			y = 1.0
		}
		points = append(points, point{s: logit(clampProb(score)), y: y})

		switch {
		case s.PredictedFraud && s.ActualFraud:
			tp++
		case s.PredictedFraud && !s.ActualFraud:
			fp++
		case !s.PredictedFraud && s.ActualFraud:
			fn++
		default:
			tn++
		}
	}

	const steps = 50
	lr := 0.1
	for i := 0; i < steps; i++ {
		var ga, gb float64
		for _, pt := range points {
			p := sigmoid(a*pt.s + b)
			ga += (p - pt.y) * pt.s
			gb += p - pt.y
		}
		n := float64(len(points))
		a -= lr * ga / n
		b -= lr * gb / n
	}
	// Keep calibration from inverting the score ordering.
	if a < 0.05 {
		a = 0.05
	}

	next := &calibration{
		a:               a,
		b:               b,
		feedbackCount:   prev.feedbackCount + len(samples),
		lastRecalibrate: time.Now(),
		performance:     confusionSnapshot(tp, fp, tn, fn),
	}
	m.calib.Store(next)
	return nil
}

// Diagnostics exposes the current weights and calibration state.
func (m *LogisticModel) Diagnostics() ModelDiagnostics {
	c := m.calib.Load()
	weights := make(map[string]float64, len(featureOrder)+1)
	for i, name := range featureOrder {
		weights[name] = m.weights[i]
	}
	weights["bias"] = m.bias
	return ModelDiagnostics{
		Weights:          weights,
		CalibrationA:     c.a,
		CalibrationB:     c.b,
		FeedbackCount:    c.feedbackCount,
		LastRecalibrated: c.lastRecalibrate,
		Performance:      c.performance,
	}
}

// confusionSnapshot computes precision/recall/FPR/FNR with zero-denominator
// safety: any undefined rate reports 0.
func confusionSnapshot(tp, fp, tn, fn int) PerformanceSnapshot {
	snap := PerformanceSnapshot{SampleCount: tp + fp + tn + fn}
	if tp+fp > 0 {
		snap.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		snap.Recall = float64(tp) / float64(tp+fn)
	}
	if fp+tn > 0 {
		snap.FalsePositiveRate = float64(fp) / float64(fp+tn)
	}
	if fn+tp > 0 {
		snap.FalseNegativeRate = float64(fn) / float64(fn+tp)
	}
	return snap
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

func logit(p float64) float64 {
	p = clampProb(p)
	return math.Log(p / (1 - p))
}

// clampProb keeps probabilities away from 0 and 1 so logit stays finite.
func clampProb(p float64) float64 {
	const eps = 1e-6
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
