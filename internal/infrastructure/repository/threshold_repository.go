package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/edupulse/learning-integrity-backend/internal/service/fraud"
)

// thresholdRepository persists the adaptive decision boundaries, one row per
// metric. The performance snapshot rides along as JSONB.
type thresholdRepository struct {
	db dbExecutor
}

// NewThresholdRepository creates a threshold repository over a database handle.
func NewThresholdRepository(db *sql.DB) *thresholdRepository {
	return &thresholdRepository{db: db}
}

// GetThreshold loads the stored threshold for one metric, (nil, nil) when
// the metric has never been recalibrated.
func (r *thresholdRepository) GetThreshold(ctx context.Context, metricName string) (*fraud.Threshold, error) {
	query := `
		SELECT metric_name, value, last_recalibrated, performance
		FROM fraud_thresholds
		WHERE metric_name = $1
	`

	var t fraud.Threshold
	var performance []byte

	err := r.db.QueryRowContext(ctx, query, metricName).Scan(
		&t.MetricName, &t.Value, &t.LastRecalibrated, &performance,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get threshold: %w", err)
	}

	if err := json.Unmarshal(performance, &t.Performance); err != nil {
		return nil, fmt.Errorf("failed to decode threshold performance: %w", err)
	}

	return &t, nil
}

// SaveThreshold upserts the threshold keyed by metric name.
func (r *thresholdRepository) SaveThreshold(ctx context.Context, t *fraud.Threshold) error {
	performance, err := json.Marshal(t.Performance)
	if err != nil {
		return fmt.Errorf("failed to encode threshold performance: %w", err)
	}

	query := `
		INSERT INTO fraud_thresholds (metric_name, value, last_recalibrated, performance)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (metric_name) DO UPDATE SET
			value = EXCLUDED.value,
			last_recalibrated = EXCLUDED.last_recalibrated,
			performance = EXCLUDED.performance
	`

	_, err = r.db.ExecContext(ctx, query,
		t.MetricName, t.Value, t.LastRecalibrated, performance,
	)
	if err != nil {
		return fmt.Errorf("failed to save threshold: %w", err)
	}
	return nil
}
