package attempt

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/edupulse/learning-integrity-backend/internal/domain/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Event is a single answer attempt produced by the upstream event source.
// Events are immutable; the fraud core only consumes them.
type Event struct {
	UserID      string    `json:"user_id" validate:"required"`
	ItemID      string    `json:"item_id" validate:"required"`
	SessionID   string    `json:"session_id" validate:"required"`
	Correct     bool      `json:"correct"`
	TimeTakenMS uint64    `json:"time_taken_ms" validate:"gt=0"`
	HintsUsed   uint32    `json:"hints_used"`
	DeviceType  string    `json:"device_type" validate:"required"`
	IPAddress   string    `json:"ip_address" validate:"required,ip"`
	Timestamp   time.Time `json:"timestamp" validate:"required"`
}

// Validate checks the event against its field constraints.
// A failed validation means no state may be mutated downstream.
func (e *Event) Validate() error {
	if e == nil {
		return errors.ErrInvalidEvent
	}
	if err := validate.Struct(e); err != nil {
		return errors.NewValidationError("INVALID_EVENT", "malformed attempt event").WithCause(err)
	}
	return nil
}

// SessionSummary aggregates a whole practice session for batch analysis.
type SessionSummary struct {
	UserID       string    `json:"user_id" validate:"required"`
	SessionID    string    `json:"session_id" validate:"required"`
	StartedAt    time.Time `json:"started_at" validate:"required"`
	EndedAt      time.Time `json:"ended_at" validate:"required,gtefield=StartedAt"`
	Attempts     []Event   `json:"attempts" validate:"min=1,dive"`
	DeviceType   string    `json:"device_type" validate:"required"`
	IPAddress    string    `json:"ip_address" validate:"required,ip"`
}

// Validate checks the summary and every embedded attempt.
func (s *SessionSummary) Validate() error {
	if s == nil {
		return errors.NewValidationError("INVALID_SESSION", "session summary cannot be nil")
	}
	if err := validate.Struct(s); err != nil {
		return errors.NewValidationError("INVALID_SESSION", "malformed session summary").WithCause(err)
	}
	return nil
}

// Duration returns the wall-clock length of the session.
func (s *SessionSummary) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}
