package fraud

import (
	"context"
	"math"

	"github.com/edupulse/learning-integrity-backend/internal/domain/attempt"
	"github.com/edupulse/learning-integrity-backend/internal/domain/risk"
)

// TimingDetector flags abnormal attempt rates and suspiciously constant
// response timing.
type TimingDetector struct {
	rules *Rules
}

func NewTimingDetector(rules *Rules) *TimingDetector {
	return &TimingDetector{rules: rules}
}

func (d *TimingDetector) Name() string { return DetectorTiming }

func (d *TimingDetector) Detect(ctx context.Context, features *Features, dctx *DetectionContext) (float64, []risk.Flag, error) {
	var score float64
	var flags []risk.Flag

	// Attempt rate in the trailing window. Score starts above the medium
	// band as soon as the limit is exceeded and saturates at 1.0.
	limit := d.rules.MaxAttemptsPerMin
	if dctx != nil && dctx.RecentCount > limit {
		excess := float64(dctx.RecentCount-limit) / float64(limit)
		score = math.Min(1.0, 0.5+excess)
		flags = append(flags, risk.FlagRapidResponses)
	}

	// Near-zero variance over enough samples means machine-like timing.
	// The coefficient of variation keeps the check scale-free.
	if features != nil && features.SampleCount >= d.rules.MechanicalMinSample && features.AvgResponseMS > 0 {
		cv := features.StddevResponseMS / features.AvgResponseMS
		if cv < d.rules.MechanicalCV {
			mech := math.Min(1.0, 0.6+(d.rules.MechanicalCV-cv)/d.rules.MechanicalCV*0.4)
			score = math.Max(score, mech)
			flags = append(flags, risk.FlagMechanicalTiming)
		}
	}

	return score, flags, nil
}

// DeviceDetector flags device-type churn within a session.
type DeviceDetector struct {
	rules *Rules
}

func NewDeviceDetector(rules *Rules) *DeviceDetector {
	return &DeviceDetector{rules: rules}
}

func (d *DeviceDetector) Name() string { return DetectorDevice }

func (d *DeviceDetector) Detect(ctx context.Context, features *Features, dctx *DetectionContext) (float64, []risk.Flag, error) {
	if dctx == nil {
		return 0, nil, nil
	}

	events := d.sessionEvents(dctx)
	if len(events) < 2 {
		return 0, nil, nil
	}

	changes := 0
	for i := 1; i < len(events); i++ {
		if events[i].DeviceType != events[i-1].DeviceType {
			changes++
		}
	}
	if changes <= d.rules.DeviceChangeTolerance {
		return 0, nil, nil
	}

	over := float64(changes - d.rules.DeviceChangeTolerance)
	score := math.Min(1.0, 0.4+over*0.2)
	return score, []risk.Flag{risk.FlagDeviceInconsistency}, nil
}

// sessionEvents returns the attempts scoped to the current session, in
// arrival order.
func (d *DeviceDetector) sessionEvents(dctx *DetectionContext) []attempt.Event {
	if dctx.Session != nil {
		return dctx.Session.Attempts
	}
	if dctx.Event == nil || dctx.Profile == nil {
		return nil
	}
	var events []attempt.Event
	for _, ev := range dctx.Profile.Window {
		if ev.SessionID == dctx.Event.SessionID {
			events = append(events, ev)
		}
	}
	return events
}
