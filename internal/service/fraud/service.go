package fraud

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/edupulse/learning-integrity-backend/internal/domain/attempt"
	"github.com/edupulse/learning-integrity-backend/internal/domain/behavior"
	"github.com/edupulse/learning-integrity-backend/internal/domain/errors"
	"github.com/edupulse/learning-integrity-backend/internal/domain/risk"
	"github.com/edupulse/learning-integrity-backend/internal/metrics"
)

// persistTimeout bounds each individual storage attempt.
const persistTimeout = 5 * time.Second

// modelSignalFloor is the smallest model probability that enters fusion.
// A near-zero probability means the model sees nothing, not that the user
// is vouched for; averaging it in would pull detector hits out of the
// alerting bands.
const modelSignalFloor = 0.1

// Deps are the collaborators injected into the fraud service. Stores and
// trackers may be nil; the service then runs without that capability and
// marks results degraded where it matters.
type Deps struct {
	Profiles   ProfileStore
	Scores     ScoreStore
	Alerts     AlertStore
	Thresholds ThresholdStore
	Model      Model
	Rates      RateTracker
	Cache      ScoreCache
	Events     EventLogger
	Metrics    *metrics.Registry
	Logger     *slog.Logger
	Rules      *Rules
}

// service implements the Service interface
type service struct {
	profiles ProfileStore
	scores   ScoreStore
	model    Model
	rates    RateTracker
	cache    ScoreCache
	events   EventLogger
	metrics  *metrics.Registry

	alerts     *AlertManager
	thresholds *ThresholdManager
	network    *NetworkDetector
	collusion  *CollusionDetector
	detectors  []Detector

	rules  *Rules
	logger *slog.Logger
	tracer trace.Tracer

	locks   *keyedMutex
	saves   sync.WaitGroup
	closed  chan struct{}
	closeMu sync.Once
}

// NewService wires a fraud detection service from its collaborators.
func NewService(deps Deps) Service {
	rules := deps.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	rules.normalize()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	network := NewNetworkDetector(rules)
	s := &service{
		profiles:   deps.Profiles,
		scores:     deps.Scores,
		model:      deps.Model,
		rates:      deps.Rates,
		cache:      deps.Cache,
		events:     deps.Events,
		metrics:    deps.Metrics,
		alerts:     NewAlertManager(deps.Alerts, logger),
		thresholds: NewThresholdManager(rules, deps.Thresholds, logger),
		network:    network,
		collusion:  NewCollusionDetector(rules),
		detectors: []Detector{
			NewTimingDetector(rules),
			NewDeviceDetector(rules),
			network,
		},
		rules:  rules,
		logger: logger,
		tracer: otel.Tracer("service.fraud"),
		locks:  newKeyedMutex(),
		closed: make(chan struct{}),
	}

	// Human review outcomes drive both feedback loops.
	s.alerts.OnReviewed(func(ctx context.Context, alert *risk.Alert, confirmed bool) {
		outcome := LabeledOutcome{PredictedFraud: true, ActualFraud: confirmed}
		if _, err := s.thresholds.Recalibrate(ctx, MetricFraudScore, []LabeledOutcome{outcome}); err != nil {
			s.logger.WarnContext(ctx, "threshold feedback failed", "alert_id", alert.ID, "error", err)
		}
		s.metrics.RecordThresholdRecalibration(ctx, MetricFraudScore)
		if s.model != nil {
			sample := LabeledSample{
				PredictedScore: alert.Score,
				PredictedFraud: true,
				ActualFraud:    confirmed,
			}
			if err := s.model.Update([]LabeledSample{sample}); err != nil {
				s.logger.WarnContext(ctx, "model feedback failed", "alert_id", alert.ID, "error", err)
			} else {
				s.metrics.RecordModelRecalibration(ctx, 1)
			}
		}
		s.metrics.RecordAlertResolved(ctx)
	})

	return s
}

// AnalyzeAttempt scores a single attempt. The per-user critical section
// covers only the profile read-modify-write; detection runs on a snapshot.
func (s *service) AnalyzeAttempt(ctx context.Context, ev *attempt.Event) (*risk.Score, error) {
	ctx, span := s.tracer.Start(ctx, "fraud.analyze_attempt")
	defer span.End()

	if err := ev.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ev.UserID)
	profile := s.loadProfile(ctx, ev.UserID)
	profile.Record(*ev)
	snapshot := profile.Clone()
	unlock()

	degraded := false
	recent := snapshot.AttemptsSince(ev.Timestamp.Add(-s.rules.RateWindow))
	if s.rates != nil {
		if err := s.rates.RecordAttempt(ctx, ev.UserID, ev.Timestamp); err != nil {
			s.logger.WarnContext(ctx, "rate tracker unavailable", "user_id", ev.UserID, "error", err)
			degraded = true
		} else if n, err := s.rates.CountSince(ctx, ev.UserID, s.rules.RateWindow); err == nil && n > recent {
			recent = n
		}
	}

	dctx := &DetectionContext{Profile: snapshot, Event: ev, RecentCount: recent}
	score := s.evaluate(ctx, "attempt", ev.UserID, ExtractFeatures(nil, snapshot), dctx, degraded)

	s.persistAsync(ctx, "save_profile", func(c context.Context) error {
		if s.profiles == nil {
			return nil
		}
		return s.profiles.SaveProfile(c, snapshot)
	})

	return score, nil
}

// AnalyzeSession scores a whole practice session through the same pipeline,
// with detection scoped to the session's attempts.
func (s *service) AnalyzeSession(ctx context.Context, summary *attempt.SessionSummary) (*risk.Score, error) {
	ctx, span := s.tracer.Start(ctx, "fraud.analyze_session")
	defer span.End()

	if err := summary.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(summary.UserID)
	profile := s.loadProfile(ctx, summary.UserID)
	for _, ev := range summary.Attempts {
		profile.Record(ev)
	}
	snapshot := profile.Clone()
	unlock()

	recent := snapshot.AttemptsSince(summary.EndedAt.Add(-s.rules.RateWindow))
	dctx := &DetectionContext{Profile: snapshot, Session: summary, RecentCount: recent}
	score := s.evaluate(ctx, "session", summary.UserID, ExtractFeatures(nil, snapshot), dctx, false)

	s.persistAsync(ctx, "save_profile", func(c context.Context) error {
		if s.profiles == nil {
			return nil
		}
		return s.profiles.SaveProfile(c, snapshot)
	})

	return score, nil
}

// evaluate runs detectors and the model over a snapshot, fuses the results,
// and triggers alerting and persistence. Detector failures are isolated:
// a failing detector contributes score 0 with no flags.
func (s *service) evaluate(ctx context.Context, kind, userID string, features *Features, dctx *DetectionContext, degraded bool) *risk.Score {
	started := time.Now()

	var (
		mu         sync.Mutex
		components []Component
		wg         sync.WaitGroup
	)
	for _, d := range s.detectors {
		wg.Add(1)
		go func(d Detector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.ErrorContext(ctx, "detector panic", "detector", d.Name(), "panic", r)
					s.metrics.RecordDetectorFailure(ctx, d.Name())
				}
			}()
			value, flags, err := d.Detect(ctx, features, dctx)
			if err != nil {
				s.logger.WarnContext(ctx, "detector failed", "detector", d.Name(), "error", err)
				s.metrics.RecordDetectorFailure(ctx, d.Name())
				return
			}
			mu.Lock()
			components = append(components, Component{Name: d.Name(), Score: value, Flags: flags})
			mu.Unlock()
		}(d)
	}
	wg.Wait()

	confidence := 0.0
	if s.model != nil {
		p, conf, err := s.model.Predict(features)
		if err != nil {
			s.logger.WarnContext(ctx, "model prediction failed, rule-only scoring", "user_id", userID, "error", err)
			degraded = true
		} else {
			if p >= modelSignalFloor {
				components = append(components, Component{Name: ComponentModel, Score: p})
			}
			confidence = conf
		}
	} else {
		degraded = true
	}
	if confidence == 0 {
		// Rule-only confidence grows with observed history.
		confidence = 0.5 * clamp01(float64(features.SampleCount)/float64(s.rules.ProfileWindowSize))
	}

	value, flags := Fuse(components, s.rules.ComponentWeights)
	score := &risk.Score{
		UserID:      userID,
		Value:       value,
		Confidence:  confidence,
		RiskLevel:   ClassifyRisk(value, s.rules.RiskBreakpoints),
		ActiveFlags: flags,
		Degraded:    degraded,
		LastUpdated: time.Now(),
	}

	if s.thresholds.ShouldTriggerAlert(ctx, score.Value, MetricFraudScore) {
		if _, err := s.alerts.Raise(ctx, score, describeAlert(score)); err != nil {
			s.logger.ErrorContext(ctx, "alert creation failed", "user_id", userID, "error", err)
			score.Degraded = true
		} else {
			s.metrics.RecordAlertRaised(ctx, string(score.RiskLevel))
		}
	}

	s.persistAsync(ctx, "save_score", func(c context.Context) error {
		if s.scores == nil {
			return nil
		}
		return s.scores.SaveScore(c, score)
	})
	if s.cache != nil {
		if err := s.cache.SetScore(ctx, score, s.rules.ScoreCacheTTL); err != nil {
			s.logger.DebugContext(ctx, "score cache write failed", "user_id", userID, "error", err)
		}
	}
	if s.events != nil {
		s.events.LogEvent(ctx, "fraud_evaluation", userID, map[string]interface{}{
			"kind":       kind,
			"score":      score.Value,
			"risk_level": score.RiskLevel,
			"flags":      score.ActiveFlags.Sorted(),
			"degraded":   score.Degraded,
		})
	}

	s.metrics.RecordEvaluation(ctx, float64(time.Since(started).Microseconds())/1000.0, kind, string(score.RiskLevel), score.Degraded)
	return score
}

// GetFraudScore returns the current score for a user, cache first.
func (s *service) GetFraudScore(ctx context.Context, userID string) (*risk.Score, error) {
	if userID == "" {
		return nil, errors.NewValidationError("INVALID_USER", "user id cannot be empty")
	}
	if s.cache != nil {
		if cached, err := s.cache.GetScore(ctx, userID); err == nil && cached != nil {
			return cached, nil
		}
	}
	if s.scores != nil {
		score, err := s.scores.GetLatestScore(ctx, userID)
		if err != nil {
			return nil, err
		}
		if score != nil {
			return score, nil
		}
	}
	return nil, errors.ErrScoreNotFound
}

// ListAlerts returns alerts ordered newest first.
func (s *service) ListAlerts(ctx context.Context, limit, offset int) ([]*risk.Alert, error) {
	return s.alerts.List(ctx, limit, offset)
}

// ReviewAlert applies a reviewer decision and feeds terminal outcomes back
// into the threshold manager and the model.
func (s *service) ReviewAlert(ctx context.Context, alertID uuid.UUID, action risk.ReviewAction, reviewerID, notes string) (*risk.Alert, error) {
	if reviewerID == "" {
		return nil, errors.NewValidationError("INVALID_REVIEWER", "reviewer id cannot be empty")
	}
	return s.alerts.Review(ctx, alertID, action, reviewerID, notes)
}

// AnalyzeNetwork records a (user, ip) observation and scores the IP.
func (s *service) AnalyzeNetwork(ctx context.Context, userID, ipAddress, deviceType string) (float64, []risk.Flag, error) {
	if userID == "" || ipAddress == "" {
		return 0, nil, errors.NewValidationError("INVALID_OBSERVATION", "user id and ip address are required")
	}
	s.network.Observe(userID, ipAddress, time.Now())
	score, flags := s.network.ScoreIP(ipAddress)
	if s.events != nil && len(flags) > 0 {
		s.events.LogEvent(ctx, "network_anomaly", userID, map[string]interface{}{
			"ip_address": ipAddress,
			"device":     deviceType,
			"score":      score,
		})
	}
	return score, flags, nil
}

// DetectCollusion scans a point-in-time copy of the requested profiles.
// The scan never blocks per-user evaluations: stores return copies and the
// similarity graph is transient.
func (s *service) DetectCollusion(ctx context.Context, userIDs []string) (*CollusionReport, error) {
	ctx, span := s.tracer.Start(ctx, "fraud.detect_collusion")
	defer span.End()

	if len(userIDs) == 0 {
		return nil, errors.NewValidationError("INVALID_BATCH", "at least one user id is required")
	}
	if s.profiles == nil {
		return nil, errors.NewInternalError("profile store not configured")
	}

	started := time.Now()
	profiles, err := s.profiles.ListProfiles(ctx, userIDs)
	if err != nil {
		return nil, errors.NewPersistenceError("list_profiles").WithCause(err)
	}

	report := s.collusion.Scan(profiles)
	s.metrics.RecordCollusionScan(ctx, float64(time.Since(started).Microseconds())/1000.0, report.ScannedUsers)

	if s.events != nil && len(report.Pairs) > 0 {
		s.events.LogEvent(ctx, "collusion_detected", "", map[string]interface{}{
			"pairs":    len(report.Pairs),
			"clusters": len(report.Clusters),
		})
	}
	return report, nil
}

// UpdateThresholds recalibrates the fraud score boundary from feedback.
func (s *service) UpdateThresholds(ctx context.Context, feedback []LabeledOutcome) error {
	_, err := s.thresholds.Recalibrate(ctx, MetricFraudScore, feedback)
	if err == nil && len(feedback) > 0 {
		s.metrics.RecordThresholdRecalibration(ctx, MetricFraudScore)
	}
	return err
}

// Retrain recalibrates the probability model from labeled samples.
func (s *service) Retrain(ctx context.Context, samples []LabeledSample) error {
	if s.model == nil {
		return errors.NewModelUnavailableError("no probability model configured")
	}
	if err := s.model.Update(samples); err != nil {
		return err
	}
	if len(samples) > 0 {
		s.metrics.RecordModelRecalibration(ctx, len(samples))
	}
	return nil
}

// ModelInsights returns model diagnostics plus the active threshold.
func (s *service) ModelInsights(ctx context.Context) (*ModelDiagnostics, error) {
	if s.model == nil {
		return nil, errors.NewModelUnavailableError("no probability model configured")
	}
	diag := s.model.Diagnostics()
	return &diag, nil
}

// Recommendations derives mitigation actions from the user's current score.
func (s *service) Recommendations(ctx context.Context, userID string) ([]string, error) {
	score, err := s.GetFraudScore(ctx, userID)
	if err != nil {
		return nil, err
	}
	var profile *behavior.Profile
	if s.profiles != nil {
		if p, err := s.profiles.GetProfile(ctx, userID); err == nil {
			profile = p
		}
	}
	return Recommend(score.Value, score.ActiveFlags, profile), nil
}

// Shutdown waits for in-flight persistence work to drain.
func (s *service) Shutdown(ctx context.Context) error {
	s.closeMu.Do(func() { close(s.closed) })
	done := make(chan struct{})
	go func() {
		s.saves.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadProfile fetches the stored profile or starts a fresh one. Callers
// must hold the user lock.
func (s *service) loadProfile(ctx context.Context, userID string) *behavior.Profile {
	if s.profiles != nil {
		profile, err := s.profiles.GetProfile(ctx, userID)
		if err == nil && profile != nil {
			if profile.WindowSize <= 0 {
				profile.WindowSize = s.rules.ProfileWindowSize
			}
			return profile
		}
		if err != nil && !errors.IsType(err, errors.ErrorTypeNotFound) {
			s.logger.WarnContext(ctx, "profile load failed, starting fresh", "user_id", userID, "error", err)
		}
	}
	return behavior.NewProfile(userID, s.rules.ProfileWindowSize)
}

// persistAsync runs a storage write off the request path with bounded
// retries. A failed write is logged and counted, never fatal: the
// evaluation result has already been returned to the caller.
func (s *service) persistAsync(ctx context.Context, operation string, fn func(context.Context) error) {
	bg := context.WithoutCancel(ctx)
	s.saves.Add(1)
	go func() {
		defer s.saves.Done()
		var err error
		for i := 0; i <= s.rules.SaveRetries; i++ {
			if i > 0 {
				s.metrics.RecordPersistenceRetry(bg, operation)
				select {
				case <-time.After(time.Duration(i) * 100 * time.Millisecond):
				case <-s.closed:
				}
			}
			attemptCtx, cancel := context.WithTimeout(bg, persistTimeout)
			err = fn(attemptCtx)
			cancel()
			if err == nil {
				return
			}
		}
		s.metrics.RecordPersistenceFailure(bg, operation)
		s.logger.ErrorContext(bg, "persistence failed after retries",
			"operation", operation, "retries", s.rules.SaveRetries, "error", err)
	}()
}
