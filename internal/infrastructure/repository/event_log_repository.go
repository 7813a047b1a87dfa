package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// eventLogRepository appends fraud evaluation events to an audit table.
// LogEvent never fails the caller: audit writes are best effort and losses
// are surfaced through the logger.
type eventLogRepository struct {
	db     dbExecutor
	logger *zap.Logger
}

// NewEventLogRepository creates an audit event sink over a database handle.
func NewEventLogRepository(db *sql.DB, logger *zap.Logger) *eventLogRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &eventLogRepository{db: db, logger: logger}
}

// LogEvent records one audit event.
func (r *eventLogRepository) LogEvent(ctx context.Context, kind, userID string, fields map[string]interface{}) {
	payload, err := json.Marshal(fields)
	if err != nil {
		r.logger.Warn("failed to encode audit event", zap.String("kind", kind), zap.Error(err))
		return
	}

	query := `
		INSERT INTO fraud_events (id, kind, user_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.db.ExecContext(ctx, query, uuid.New(), kind, userID, payload, time.Now()); err != nil {
		r.logger.Warn("failed to persist audit event",
			zap.String("kind", kind),
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// ListEvents returns recent audit events for a user, newest first.
func (r *eventLogRepository) ListEvents(ctx context.Context, userID string, limit int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT id, kind, user_id, payload, created_at
		FROM fraud_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.UserID, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode audit payload: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}

	return events, nil
}

// AuditEvent is one persisted fraud evaluation event.
type AuditEvent struct {
	ID        uuid.UUID              `json:"id"`
	Kind      string                 `json:"kind"`
	UserID    string                 `json:"user_id"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}
