package fraud

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/edupulse/learning-integrity-backend/internal/domain/errors"
	"github.com/edupulse/learning-integrity-backend/internal/domain/risk"
)

// AlertManager creates alerts and applies review transitions. Confirmed and
// dismissed reviews are handed to the feedback callback so thresholds and
// the model learn from human decisions.
type AlertManager struct {
	store    AlertStore
	logger   *slog.Logger
	feedback func(ctx context.Context, alert *risk.Alert, confirmed bool)
}

func NewAlertManager(store AlertStore, logger *slog.Logger) *AlertManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertManager{store: store, logger: logger}
}

// OnReviewed registers the callback invoked after a terminal review.
func (am *AlertManager) OnReviewed(fn func(ctx context.Context, alert *risk.Alert, confirmed bool)) {
	am.feedback = fn
}

// Raise creates a PENDING alert for the given score and persists it.
func (am *AlertManager) Raise(ctx context.Context, score *risk.Score, details string) (*risk.Alert, error) {
	alert := risk.NewAlert("fraud_score_exceeded", score.UserID, details, score.RiskLevel, score.Value, score.ActiveFlags.Sorted())
	if am.store != nil {
		if err := am.store.SaveAlert(ctx, alert); err != nil {
			return nil, errors.NewPersistenceError("save_alert").WithCause(err)
		}
	}
	am.logger.InfoContext(ctx, "alert raised",
		"alert_id", alert.ID,
		"user_id", alert.UserID,
		"severity", alert.Severity,
		"score", alert.Score)
	return alert, nil
}

// Review applies a reviewer action. Returns NotFound for unknown ids and
// InvalidTransition when leaving a terminal state; the alert is unchanged
// on any rejection.
func (am *AlertManager) Review(ctx context.Context, alertID uuid.UUID, action risk.ReviewAction, reviewerID, notes string) (*risk.Alert, error) {
	if am.store == nil {
		return nil, errors.NewInternalError("alert store not configured")
	}
	alert, err := am.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, errors.ErrAlertNotFound
	}

	if err := alert.Apply(action, reviewerID, notes); err != nil {
		return nil, err
	}

	if err := am.store.UpdateAlert(ctx, alert); err != nil {
		return nil, errors.NewPersistenceError("update_alert").WithCause(err)
	}

	am.logger.InfoContext(ctx, "alert reviewed",
		"alert_id", alert.ID,
		"action", action,
		"status", alert.Status,
		"reviewer", reviewerID)

	// confirm/dismiss are labeled outcomes for the feedback loop
	if am.feedback != nil {
		switch alert.Status {
		case risk.AlertConfirmed:
			am.feedback(ctx, alert, true)
		case risk.AlertDismissed:
			am.feedback(ctx, alert, false)
		}
	}

	return alert, nil
}

// List returns alerts newest first.
func (am *AlertManager) List(ctx context.Context, limit, offset int) ([]*risk.Alert, error) {
	if am.store == nil {
		return nil, errors.NewInternalError("alert store not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return am.store.ListAlerts(ctx, limit, offset)
}

// describeAlert renders the human-readable alert detail line.
func describeAlert(score *risk.Score) string {
	return fmt.Sprintf("fraud score %.2f (%s) with flags %v", score.Value, score.RiskLevel, score.ActiveFlags.Sorted())
}
