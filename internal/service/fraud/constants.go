package fraud

import "time"

// Metric names tracked by the adaptive threshold manager.
const (
	MetricFraudScore     = "fraud_score"
	MetricNetworkAnomaly = "network_anomaly_score"
)

// Detector names, used for fusion weights and failure logging.
const (
	DetectorTiming  = "timing"
	DetectorDevice  = "device"
	DetectorNetwork = "network"
	ComponentModel  = "model"
)

// Rules holds the tunable detection parameters. All of them have working
// defaults; unset values are replaced at construction.
type Rules struct {
	// Rate/timing detector
	RateWindow          time.Duration `koanf:"rate_window"`
	MaxAttemptsPerMin   int           `koanf:"max_attempts_per_min"`
	MechanicalMinSample int           `koanf:"mechanical_min_sample"`
	MechanicalCV        float64       `koanf:"mechanical_cv"` // stddev/mean below this is suspicious

	// Device detector. Zero is a valid tolerance: every in-session device
	// change scores.
	DeviceChangeTolerance int `koanf:"device_change_tolerance"`

	// Network detector
	MaxUsersPerIP int `koanf:"max_users_per_ip"`

	// Collusion detector
	SimilarityThreshold float64 `koanf:"similarity_threshold"`
	CollusionBatchCap   int     `koanf:"collusion_batch_cap"`

	// Fusion
	ComponentWeights map[string]float64 `koanf:"component_weights"`
	RiskBreakpoints  RiskBreakpoints    `koanf:"risk_breakpoints"`

	// Thresholds
	DefaultAlertThreshold float64 `koanf:"default_alert_threshold"`
	ThresholdMaxStep      float64 `koanf:"threshold_max_step"`

	// Profiles
	ProfileWindowSize int `koanf:"profile_window_size"`

	// Persistence
	SaveRetries   int           `koanf:"save_retries"`
	ScoreCacheTTL time.Duration `koanf:"score_cache_ttl"`
}

// RiskBreakpoints are the lower bounds of MEDIUM, HIGH and CRITICAL.
// Scores below Medium map to LOW.
type RiskBreakpoints struct {
	Medium   float64 `koanf:"medium"`
	High     float64 `koanf:"high"`
	Critical float64 `koanf:"critical"`
}

// DefaultRules returns the stock detection parameters.
func DefaultRules() *Rules {
	return &Rules{
		RateWindow:            60 * time.Second,
		MaxAttemptsPerMin:     30,
		MechanicalMinSample:   10,
		MechanicalCV:          0.05,
		DeviceChangeTolerance: 1,
		MaxUsersPerIP:         10,
		SimilarityThreshold:   0.9,
		CollusionBatchCap:     200,
		ComponentWeights: map[string]float64{
			DetectorTiming:  1.0,
			DetectorDevice:  1.0,
			DetectorNetwork: 1.0,
			ComponentModel:  1.0,
		},
		RiskBreakpoints: RiskBreakpoints{
			Medium:   0.3,
			High:     0.6,
			Critical: 0.85,
		},
		DefaultAlertThreshold: 0.8,
		ThresholdMaxStep:      0.05,
		ProfileWindowSize:     50,
		SaveRetries:           3,
		ScoreCacheTTL:         5 * time.Minute,
	}
}

// normalize fills missing values with defaults so partially populated
// configs stay usable. DeviceChangeTolerance is the one field where zero
// is meaningful, so only negative values fall back there.
func (r *Rules) normalize() {
	d := DefaultRules()
	if r.RateWindow <= 0 {
		r.RateWindow = d.RateWindow
	}
	if r.MaxAttemptsPerMin <= 0 {
		r.MaxAttemptsPerMin = d.MaxAttemptsPerMin
	}
	if r.MechanicalMinSample <= 0 {
		r.MechanicalMinSample = d.MechanicalMinSample
	}
	if r.MechanicalCV <= 0 {
		r.MechanicalCV = d.MechanicalCV
	}
	if r.DeviceChangeTolerance < 0 {
		r.DeviceChangeTolerance = d.DeviceChangeTolerance
	}
	if r.MaxUsersPerIP <= 0 {
		r.MaxUsersPerIP = d.MaxUsersPerIP
	}
	if r.SimilarityThreshold <= 0 {
		r.SimilarityThreshold = d.SimilarityThreshold
	}
	if r.CollusionBatchCap <= 0 {
		r.CollusionBatchCap = d.CollusionBatchCap
	}
	if len(r.ComponentWeights) == 0 {
		r.ComponentWeights = d.ComponentWeights
	}
	if r.RiskBreakpoints.Medium <= 0 {
		r.RiskBreakpoints = d.RiskBreakpoints
	}
	if r.DefaultAlertThreshold <= 0 {
		r.DefaultAlertThreshold = d.DefaultAlertThreshold
	}
	if r.ThresholdMaxStep <= 0 {
		r.ThresholdMaxStep = d.ThresholdMaxStep
	}
	if r.ProfileWindowSize <= 0 {
		r.ProfileWindowSize = d.ProfileWindowSize
	}
	if r.SaveRetries <= 0 {
		r.SaveRetries = d.SaveRetries
	}
	if r.ScoreCacheTTL <= 0 {
		r.ScoreCacheTTL = d.ScoreCacheTTL
	}
}
