package fraud

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edupulse/learning-integrity-backend/internal/domain/attempt"
	"github.com/edupulse/learning-integrity-backend/internal/domain/behavior"
	"github.com/edupulse/learning-integrity-backend/internal/domain/risk"
)

// Service is the fraud detection entry point exposed to the transport layer.
type Service interface {
	// AnalyzeAttempt scores a single answer attempt and updates the user's profile
	AnalyzeAttempt(ctx context.Context, ev *attempt.Event) (*risk.Score, error)
	// AnalyzeSession scores a whole practice session
	AnalyzeSession(ctx context.Context, summary *attempt.SessionSummary) (*risk.Score, error)
	// GetFraudScore returns the current score for a user
	GetFraudScore(ctx context.Context, userID string) (*risk.Score, error)
	// ListAlerts returns alerts ordered newest first
	ListAlerts(ctx context.Context, limit, offset int) ([]*risk.Alert, error)
	// ReviewAlert applies a reviewer decision and feeds the outcome back
	ReviewAlert(ctx context.Context, alertID uuid.UUID, action risk.ReviewAction, reviewerID, notes string) (*risk.Alert, error)
	// AnalyzeNetwork scores a single (user, ip, device) observation
	AnalyzeNetwork(ctx context.Context, userID, ipAddress, deviceType string) (float64, []risk.Flag, error)
	// DetectCollusion builds a similarity graph over the given users
	DetectCollusion(ctx context.Context, userIDs []string) (*CollusionReport, error)
	// UpdateThresholds recalibrates decision thresholds from labeled feedback
	UpdateThresholds(ctx context.Context, feedback []LabeledOutcome) error
	// Retrain recalibrates the probability model from labeled samples
	Retrain(ctx context.Context, samples []LabeledSample) error
	// ModelInsights returns model diagnostics
	ModelInsights(ctx context.Context) (*ModelDiagnostics, error)
	// Recommendations derives mitigation actions from the user's current score
	Recommendations(ctx context.Context, userID string) ([]string, error)
	// Shutdown drains in-flight background persistence
	Shutdown(ctx context.Context) error
}

// ProfileStore persists rolling behavior profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*behavior.Profile, error)
	SaveProfile(ctx context.Context, profile *behavior.Profile) error
	ListProfiles(ctx context.Context, userIDs []string) ([]*behavior.Profile, error)
}

// ScoreStore persists fraud scores; history is append-only for audit.
type ScoreStore interface {
	SaveScore(ctx context.Context, score *risk.Score) error
	GetLatestScore(ctx context.Context, userID string) (*risk.Score, error)
}

// AlertStore persists alerts and their review state.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *risk.Alert) error
	GetAlert(ctx context.Context, id uuid.UUID) (*risk.Alert, error)
	UpdateAlert(ctx context.Context, alert *risk.Alert) error
	ListAlerts(ctx context.Context, limit, offset int) ([]*risk.Alert, error)
}

// ThresholdStore persists adaptive threshold state per metric.
type ThresholdStore interface {
	GetThreshold(ctx context.Context, metricName string) (*Threshold, error)
	SaveThreshold(ctx context.Context, threshold *Threshold) error
}

// RateTracker records attempt timestamps and answers trailing-window counts.
// Backed by redis so counts survive restarts and span instances.
type RateTracker interface {
	RecordAttempt(ctx context.Context, userID string, at time.Time) error
	CountSince(ctx context.Context, userID string, window time.Duration) (int, error)
}

// ScoreCache holds the current score per user with a short TTL.
type ScoreCache interface {
	GetScore(ctx context.Context, userID string) (*risk.Score, error)
	SetScore(ctx context.Context, score *risk.Score, ttl time.Duration) error
}

// Model maps behavioral features to a fraud probability with confidence.
// Predict is deterministic for fixed model state; Update swaps calibration
// state atomically so concurrent Predict calls never observe a torn model.
type Model interface {
	Predict(features *Features) (probability, confidence float64, err error)
	Update(samples []LabeledSample) error
	Diagnostics() ModelDiagnostics
}

// Detector is one independent suspicion signal.
type Detector interface {
	Name() string
	Detect(ctx context.Context, features *Features, dctx *DetectionContext) (float64, []risk.Flag, error)
}

// EventLogger is the collaborator sink for audit events.
type EventLogger interface {
	LogEvent(ctx context.Context, kind, userID string, fields map[string]interface{})
}

// DetectionContext carries per-evaluation inputs beyond the feature map.
type DetectionContext struct {
	Profile     *behavior.Profile // point-in-time snapshot, never shared state
	Event       *attempt.Event
	Session     *attempt.SessionSummary
	RecentCount int // attempts in the trailing rate window
}

// Threshold is the adaptive decision boundary for one metric.
type Threshold struct {
	MetricName       string              `json:"metric_name"`
	Value            float64             `json:"value"`
	LastRecalibrated time.Time           `json:"last_recalibrated"`
	Performance      PerformanceSnapshot `json:"performance"`
}

// PerformanceSnapshot captures classifier quality from a feedback batch.
type PerformanceSnapshot struct {
	Precision         float64 `json:"precision"`
	Recall            float64 `json:"recall"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	FalseNegativeRate float64 `json:"false_negative_rate"`
	SampleCount       int     `json:"sample_count"`
}

// LabeledOutcome is the minimal feedback unit for threshold recalibration.
type LabeledOutcome struct {
	PredictedFraud bool `json:"predicted_fraud"`
	ActualFraud    bool `json:"actual_fraud"`
}

// LabeledSample is feedback for model recalibration; Features may be nil
// when only the outcome is known.
type LabeledSample struct {
	Features       *Features `json:"features,omitempty"`
	PredictedScore float64   `json:"predicted_score"`
	PredictedFraud bool      `json:"predicted_fraud"`
	ActualFraud    bool      `json:"actual_fraud"`
}

// CollusionPair is one suspicious user pair from a similarity scan.
type CollusionPair struct {
	UserA      string  `json:"user_a"`
	UserB      string  `json:"user_b"`
	Similarity float64 `json:"similarity"`
}

// CollusionReport is the result of one similarity-graph scan.
type CollusionReport struct {
	ScannedUsers  int             `json:"scanned_users"`
	Pairs         []CollusionPair `json:"pairs"`
	Clusters      [][]string      `json:"clusters"`
	Threshold     float64         `json:"threshold"`
	GeneratedAt   time.Time       `json:"generated_at"`
	TruncatedScan bool            `json:"truncated_scan"` // batch cap was hit
}

// ModelDiagnostics reports model state for the insights endpoint.
type ModelDiagnostics struct {
	Weights          map[string]float64  `json:"weights"`
	CalibrationA     float64             `json:"calibration_a"`
	CalibrationB     float64             `json:"calibration_b"`
	FeedbackCount    int                 `json:"feedback_count"`
	LastRecalibrated time.Time           `json:"last_recalibrated"`
	Performance      PerformanceSnapshot `json:"performance"`
}
