package risk

import (
	"time"

	"github.com/google/uuid"

	"github.com/edupulse/learning-integrity-backend/internal/domain/errors"
)

// AlertStatus is the review lifecycle state of an alert.
type AlertStatus string

const (
	AlertPending       AlertStatus = "PENDING"
	AlertConfirmed     AlertStatus = "CONFIRMED"
	AlertDismissed     AlertStatus = "DISMISSED"
	AlertInvestigating AlertStatus = "INVESTIGATING"
)

// ReviewAction is a reviewer decision applied to an alert.
type ReviewAction string

const (
	ActionConfirm     ReviewAction = "confirm"
	ActionDismiss     ReviewAction = "dismiss"
	ActionInvestigate ReviewAction = "investigate"
)

// Alert is a reviewable suspicion record created when a fused score
// exceeds the active threshold.
type Alert struct {
	ID         uuid.UUID   `json:"id"`
	Type       string      `json:"type"`
	Severity   RiskLevel   `json:"severity"`
	UserID     string      `json:"user_id"`
	Details    string      `json:"details"`
	Flags      []Flag      `json:"flags"`
	Score      float64     `json:"score"`
	CreatedAt  time.Time   `json:"created_at"`
	Status     AlertStatus `json:"status"`
	ReviewedBy string      `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time  `json:"reviewed_at,omitempty"`
	Notes      string      `json:"notes,omitempty"`
}

// NewAlert creates a pending alert for the given user and score.
func NewAlert(alertType, userID, details string, severity RiskLevel, score float64, flags []Flag) *Alert {
	return &Alert{
		ID:        uuid.New(),
		Type:      alertType,
		Severity:  severity,
		UserID:    userID,
		Details:   details,
		Flags:     flags,
		Score:     score,
		CreatedAt: time.Now(),
		Status:    AlertPending,
	}
}

// IsTerminal reports whether the alert can no longer transition.
func (a *Alert) IsTerminal() bool {
	return a.Status == AlertConfirmed || a.Status == AlertDismissed
}

// Apply transitions the alert according to the review action. Terminal
// states admit no further transitions. INVESTIGATING is re-enterable:
// investigating an alert already under investigation refreshes the
// reviewer, timestamp and notes.
func (a *Alert) Apply(action ReviewAction, reviewerID, notes string) error {
	if a.IsTerminal() {
		return errors.NewInvalidTransitionError(string(a.Status), string(action))
	}

	var next AlertStatus
	switch action {
	case ActionConfirm:
		next = AlertConfirmed
	case ActionDismiss:
		next = AlertDismissed
	case ActionInvestigate:
		next = AlertInvestigating
	default:
		return errors.NewValidationError("INVALID_ACTION", "unknown review action: "+string(action))
	}

	now := time.Now()
	a.Status = next
	a.ReviewedBy = reviewerID
	a.ReviewedAt = &now
	if notes != "" {
		a.Notes = notes
	}
	return nil
}
