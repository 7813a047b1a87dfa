package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/edupulse/learning-integrity-backend/internal/domain/attempt"
	"github.com/edupulse/learning-integrity-backend/internal/domain/behavior"
)

// dbExecutor is the common surface of *sql.DB and *sql.Tx.
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// profileRepository persists behavior profiles in PostgreSQL. The rolling
// window and device histogram are stored as JSONB documents.
type profileRepository struct {
	db dbExecutor
}

// NewProfileRepository creates a profile repository over a database handle.
func NewProfileRepository(db *sql.DB) *profileRepository {
	return &profileRepository{db: db}
}

// NewProfileRepositoryWithTx creates a profile repository bound to a transaction.
func NewProfileRepositoryWithTx(tx *sql.Tx) *profileRepository {
	return &profileRepository{db: tx}
}

// GetProfile loads one profile. Returns (nil, nil) when the user is unknown.
func (r *profileRepository) GetProfile(ctx context.Context, userID string) (*behavior.Profile, error) {
	query := `
		SELECT user_id, window_events, window_size, mean_response_ms,
		       stddev_response_ms, accuracy_rate, device_histogram, last_updated
		FROM behavior_profiles
		WHERE user_id = $1
	`

	var p behavior.Profile
	var window, histogram []byte

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &window, &p.WindowSize, &p.MeanResponseMS,
		&p.StddevResponse, &p.AccuracyRate, &histogram, &p.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if err := json.Unmarshal(window, &p.Window); err != nil {
		return nil, fmt.Errorf("failed to decode profile window: %w", err)
	}
	if err := json.Unmarshal(histogram, &p.DeviceHistogram); err != nil {
		return nil, fmt.Errorf("failed to decode device histogram: %w", err)
	}
	if p.Window == nil {
		p.Window = []attempt.Event{}
	}
	if p.DeviceHistogram == nil {
		p.DeviceHistogram = map[string]int{}
	}

	return &p, nil
}

// SaveProfile upserts the profile keyed by user id.
func (r *profileRepository) SaveProfile(ctx context.Context, p *behavior.Profile) error {
	window, err := json.Marshal(p.Window)
	if err != nil {
		return fmt.Errorf("failed to encode profile window: %w", err)
	}
	histogram, err := json.Marshal(p.DeviceHistogram)
	if err != nil {
		return fmt.Errorf("failed to encode device histogram: %w", err)
	}

	query := `
		INSERT INTO behavior_profiles (
			user_id, window_events, window_size, mean_response_ms,
			stddev_response_ms, accuracy_rate, device_histogram, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			window_events = EXCLUDED.window_events,
			window_size = EXCLUDED.window_size,
			mean_response_ms = EXCLUDED.mean_response_ms,
			stddev_response_ms = EXCLUDED.stddev_response_ms,
			accuracy_rate = EXCLUDED.accuracy_rate,
			device_histogram = EXCLUDED.device_histogram,
			last_updated = EXCLUDED.last_updated
	`

	_, err = r.db.ExecContext(ctx, query,
		p.UserID, window, p.WindowSize, p.MeanResponseMS,
		p.StddevResponse, p.AccuracyRate, histogram, p.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// ListProfiles loads profiles for a batch of users. Unknown ids are skipped.
func (r *profileRepository) ListProfiles(ctx context.Context, userIDs []string) ([]*behavior.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT user_id, window_events, window_size, mean_response_ms,
		       stddev_response_ms, accuracy_rate, device_histogram, last_updated
		FROM behavior_profiles
		WHERE user_id = ANY($1)
		ORDER BY user_id
	`

	rows, err := r.db.QueryContext(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*behavior.Profile
	for rows.Next() {
		var p behavior.Profile
		var window, histogram []byte
		if err := rows.Scan(
			&p.UserID, &window, &p.WindowSize, &p.MeanResponseMS,
			&p.StddevResponse, &p.AccuracyRate, &histogram, &p.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		if err := json.Unmarshal(window, &p.Window); err != nil {
			return nil, fmt.Errorf("failed to decode profile window: %w", err)
		}
		if err := json.Unmarshal(histogram, &p.DeviceHistogram); err != nil {
			return nil, fmt.Errorf("failed to decode device histogram: %w", err)
		}
		profiles = append(profiles, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profile rows: %w", err)
	}

	return profiles, nil
}
