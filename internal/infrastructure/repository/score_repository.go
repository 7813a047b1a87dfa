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

// scoreRepository persists fraud scores. Rows are append-only so the score
// history stays reviewable; reads always return the newest row per user.
type scoreRepository struct {
	db dbExecutor
}

// NewScoreRepository creates a score repository over a database handle.
func NewScoreRepository(db *sql.DB) *scoreRepository {
	return &scoreRepository{db: db}
}

// NewScoreRepositoryWithTx creates a score repository bound to a transaction.
func NewScoreRepositoryWithTx(tx *sql.Tx) *scoreRepository {
	return &scoreRepository{db: tx}
}

// SaveScore appends one score row.
func (r *scoreRepository) SaveScore(ctx context.Context, s *risk.Score) error {
	flags, err := json.Marshal(s.ActiveFlags.Sorted())
	if err != nil {
		return fmt.Errorf("failed to encode score flags: %w", err)
	}

	query := `
		INSERT INTO fraud_scores (
			id, user_id, score, confidence, risk_level, flags, degraded, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		uuid.New(), s.UserID, s.Value, s.Confidence,
		string(s.RiskLevel), flags, s.Degraded, s.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to save score: %w", err)
	}
	return nil
}

// GetLatestScore returns the newest score for a user, or (nil, nil) when the
// user has never been scored.
func (r *scoreRepository) GetLatestScore(ctx context.Context, userID string) (*risk.Score, error) {
	query := `
		SELECT user_id, score, confidence, risk_level, flags, degraded, created_at
		FROM fraud_scores
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var s risk.Score
	var level string
	var flags []byte

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&s.UserID, &s.Value, &s.Confidence, &level, &flags, &s.Degraded, &s.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest score: %w", err)
	}

	s.RiskLevel = risk.RiskLevel(level)
	var flagList []risk.Flag
	if err := json.Unmarshal(flags, &flagList); err != nil {
		return nil, fmt.Errorf("failed to decode score flags: %w", err)
	}
	s.ActiveFlags = risk.NewFlagSet(flagList...)

	return &s, nil
}

// ScoreHistory returns up to limit score rows for a user, newest first.
func (r *scoreRepository) ScoreHistory(ctx context.Context, userID string, limit int) ([]*risk.Score, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT user_id, score, confidence, risk_level, flags, degraded, created_at
		FROM fraud_scores
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query score history: %w", err)
	}
	defer rows.Close()

	var scores []*risk.Score
	for rows.Next() {
		var s risk.Score
		var level string
		var flags []byte
		if err := rows.Scan(
			&s.UserID, &s.Value, &s.Confidence, &level, &flags, &s.Degraded, &s.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan score row: %w", err)
		}
		s.RiskLevel = risk.RiskLevel(level)
		var flagList []risk.Flag
		if err := json.Unmarshal(flags, &flagList); err != nil {
			return nil, fmt.Errorf("failed to decode score flags: %w", err)
		}
		s.ActiveFlags = risk.NewFlagSet(flagList...)
		scores = append(scores, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate score rows: %w", err)
	}

	return scores, nil
}
