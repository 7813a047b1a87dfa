package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/edupulse/learning-integrity-backend/internal/domain/risk"
)

// alertRepository persists alerts and their review state in PostgreSQL.
type alertRepository struct {
	db dbExecutor
}

// NewAlertRepository creates an alert repository over a database handle.
func NewAlertRepository(db *sql.DB) *alertRepository {
	return &alertRepository{db: db}
}

// NewAlertRepositoryWithTx creates an alert repository bound to a transaction.
func NewAlertRepositoryWithTx(tx *sql.Tx) *alertRepository {
	return &alertRepository{db: tx}
}

// SaveAlert inserts a new alert.
func (r *alertRepository) SaveAlert(ctx context.Context, a *risk.Alert) error {
	flags, err := json.Marshal(a.Flags)
	if err != nil {
		return fmt.Errorf("failed to encode alert flags: %w", err)
	}

	query := `
		INSERT INTO fraud_alerts (
			id, type, severity, user_id, details, flags, score,
			created_at, status, reviewed_by, reviewed_at, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.Type, string(a.Severity), a.UserID, a.Details, flags, a.Score,
		a.CreatedAt, string(a.Status), nullString(a.ReviewedBy), a.ReviewedAt, nullString(a.Notes),
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// GetAlert loads one alert by id. Returns (nil, nil) for unknown ids.
func (r *alertRepository) GetAlert(ctx context.Context, id uuid.UUID) (*risk.Alert, error) {
	query := `
		SELECT id, type, severity, user_id, details, flags, score,
		       created_at, status, reviewed_by, reviewed_at, notes
		FROM fraud_alerts
		WHERE id = $1
	`

	a, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// UpdateAlert writes the review fields of an existing alert.
func (r *alertRepository) UpdateAlert(ctx context.Context, a *risk.Alert) error {
	query := `
		UPDATE fraud_alerts
		SET status = $2, reviewed_by = $3, reviewed_at = $4, notes = $5
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		a.ID, string(a.Status), nullString(a.ReviewedBy), a.ReviewedAt, nullString(a.Notes),
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("alert %s does not exist", a.ID)
	}
	return nil
}

// ListAlerts returns alerts newest first.
func (r *alertRepository) ListAlerts(ctx context.Context, limit, offset int) ([]*risk.Alert, error) {
	query := `
		SELECT id, type, severity, user_id, details, flags, score,
		       created_at, status, reviewed_by, reviewed_at, notes
		FROM fraud_alerts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*risk.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert rows: %w", err)
	}

	return alerts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*risk.Alert, error) {
	var a risk.Alert
	var severity, status string
	var flags []byte
	var reviewedBy, notes sql.NullString
	var reviewedAt sql.NullTime

	if err := row.Scan(
		&a.ID, &a.Type, &severity, &a.UserID, &a.Details, &flags, &a.Score,
		&a.CreatedAt, &status, &reviewedBy, &reviewedAt, &notes,
	); err != nil {
		return nil, err
	}

	a.Severity = risk.RiskLevel(severity)
	a.Status = risk.AlertStatus(status)
	if reviewedBy.Valid {
		a.ReviewedBy = reviewedBy.String
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		a.ReviewedAt = &t
	}
	if notes.Valid {
		a.Notes = notes.String
	}
	if err := json.Unmarshal(flags, &a.Flags); err != nil {
		return nil, fmt.Errorf("failed to decode alert flags: %w", err)
	}

	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
