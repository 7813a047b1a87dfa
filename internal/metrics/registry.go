package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the fraud service
type Registry struct {
	meter metric.Meter

	// Evaluation metrics
	EvaluationDuration  metric.Float64Histogram
	EvaluationCounter   metric.Int64Counter
	DegradedCounter     metric.Int64Counter
	DetectorFailures    metric.Int64Counter
	PersistenceRetries  metric.Int64Counter
	PersistenceFailures metric.Int64Counter

	// Alert metrics
	AlertsRaised  metric.Int64Counter
	AlertsPending metric.Int64ObservableGauge

	// Model / threshold metrics
	ModelRecalibrations     metric.Int64Counter
	ThresholdRecalibrations metric.Int64Counter
	CollusionScanDuration   metric.Float64Histogram

	// State for observable metrics
	mu            sync.RWMutex
	pendingAlerts int64
}

// NewRegistry creates a new metrics registry with all fraud-domain metrics
func NewRegistry(meterName string) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{meter: meter}

	var err error

	r.EvaluationDuration, err = meter.Float64Histogram(
		"fraud.evaluation.duration",
		metric.WithDescription("Duration of fraud evaluations in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000),
	)
	if err != nil {
		return nil, err
	}

	r.EvaluationCounter, err = meter.Int64Counter(
		"fraud.evaluation.total",
		metric.WithDescription("Total fraud evaluations by kind and risk level"),
	)
	if err != nil {
		return nil, err
	}

	r.DegradedCounter, err = meter.Int64Counter(
		"fraud.evaluation.degraded_total",
		metric.WithDescription("Evaluations returned with a degraded marker"),
	)
	if err != nil {
		return nil, err
	}

	r.DetectorFailures, err = meter.Int64Counter(
		"fraud.detector.failure_total",
		metric.WithDescription("Isolated detector failures by detector name"),
	)
	if err != nil {
		return nil, err
	}

	r.PersistenceRetries, err = meter.Int64Counter(
		"fraud.persistence.retry_total",
		metric.WithDescription("Retried persistence operations"),
	)
	if err != nil {
		return nil, err
	}

	r.PersistenceFailures, err = meter.Int64Counter(
		"fraud.persistence.failure_total",
		metric.WithDescription("Persistence operations that exhausted retries"),
	)
	if err != nil {
		return nil, err
	}

	r.AlertsRaised, err = meter.Int64Counter(
		"fraud.alert.raised_total",
		metric.WithDescription("Alerts raised by severity"),
	)
	if err != nil {
		return nil, err
	}

	r.AlertsPending, err = meter.Int64ObservableGauge(
		"fraud.alert.pending",
		metric.WithDescription("Alerts currently awaiting review"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.pendingAlerts)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	r.ModelRecalibrations, err = meter.Int64Counter(
		"fraud.model.recalibration_total",
		metric.WithDescription("Model calibration refits from labeled feedback"),
	)
	if err != nil {
		return nil, err
	}

	r.ThresholdRecalibrations, err = meter.Int64Counter(
		"fraud.threshold.recalibration_total",
		metric.WithDescription("Adaptive threshold recalibrations by metric"),
	)
	if err != nil {
		return nil, err
	}

	r.CollusionScanDuration, err = meter.Float64Histogram(
		"fraud.collusion.scan_duration",
		metric.WithDescription("Collusion similarity scan duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// RecordEvaluation records one completed evaluation
func (r *Registry) RecordEvaluation(ctx context.Context, durationMS float64, kind, riskLevel string, degraded bool) {
	if r == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.String("risk_level", riskLevel),
	}
	r.EvaluationDuration.Record(ctx, durationMS, metric.WithAttributes(attrs...))
	r.EvaluationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if degraded {
		r.DegradedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// RecordDetectorFailure records an isolated detector failure
func (r *Registry) RecordDetectorFailure(ctx context.Context, detector string) {
	if r == nil {
		return
	}
	r.DetectorFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("detector", detector)))
}

// RecordPersistenceRetry records one retry of a storage operation
func (r *Registry) RecordPersistenceRetry(ctx context.Context, operation string) {
	if r == nil {
		return
	}
	r.PersistenceRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordPersistenceFailure records a storage operation that gave up
func (r *Registry) RecordPersistenceFailure(ctx context.Context, operation string) {
	if r == nil {
		return
	}
	r.PersistenceFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordAlertRaised records a newly raised alert
func (r *Registry) RecordAlertRaised(ctx context.Context, severity string) {
	if r == nil {
		return
	}
	r.AlertsRaised.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", severity)))
	r.mu.Lock()
	r.pendingAlerts++
	r.mu.Unlock()
}

// RecordAlertResolved records an alert leaving the pending pool
func (r *Registry) RecordAlertResolved(ctx context.Context) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.pendingAlerts > 0 {
		r.pendingAlerts--
	}
	r.mu.Unlock()
}

// RecordModelRecalibration records a model calibration refit
func (r *Registry) RecordModelRecalibration(ctx context.Context, sampleCount int) {
	if r == nil {
		return
	}
	r.ModelRecalibrations.Add(ctx, 1, metric.WithAttributes(attribute.Int("samples", sampleCount)))
}

// RecordThresholdRecalibration records a threshold adjustment
func (r *Registry) RecordThresholdRecalibration(ctx context.Context, metricName string) {
	if r == nil {
		return
	}
	r.ThresholdRecalibrations.Add(ctx, 1, metric.WithAttributes(attribute.String("metric", metricName)))
}

// RecordCollusionScan records a similarity scan
func (r *Registry) RecordCollusionScan(ctx context.Context, durationMS float64, users int) {
	if r == nil {
		return
	}
	r.CollusionScanDuration.Record(ctx, durationMS, metric.WithAttributes(attribute.Int("users", users)))
}
