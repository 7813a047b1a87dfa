package fraud

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edupulse/learning-integrity-backend/internal/domain/risk"
)

func TestFuse(t *testing.T) {
	weights := DefaultRules().ComponentWeights

	tests := []struct {
		name       string
		components []Component
		weights    map[string]float64
		wantScore  float64
		wantFlags  []risk.Flag
	}{
		{
			name:       "empty component list yields zero",
			components: nil,
			weights:    weights,
			wantScore:  0.0,
		},
		{
			name: "all silent components yield zero",
			components: []Component{
				{Name: DetectorTiming, Score: 0},
				{Name: DetectorDevice, Score: 0},
			},
			weights:   weights,
			wantScore: 0.0,
		},
		{
			name: "single signal is returned unchanged",
			components: []Component{
				{Name: DetectorTiming, Score: 0.6, Flags: []risk.Flag{risk.FlagRapidResponses}},
				{Name: DetectorDevice, Score: 0},
			},
			weights:   weights,
			wantScore: 0.6,
			wantFlags: []risk.Flag{risk.FlagRapidResponses},
		},
		{
			name: "equal weights average the signals",
			components: []Component{
				{Name: DetectorTiming, Score: 0.8, Flags: []risk.Flag{risk.FlagRapidResponses}},
				{Name: ComponentModel, Score: 0.4},
			},
			weights:   weights,
			wantScore: 0.6,
			wantFlags: []risk.Flag{risk.FlagRapidResponses},
		},
		{
			name: "custom weights shift the average",
			components: []Component{
				{Name: DetectorTiming, Score: 1.0},
				{Name: ComponentModel, Score: 0.0, Flags: []risk.Flag{risk.FlagNetworkAnomaly}},
			},
			weights:   map[string]float64{DetectorTiming: 3.0, ComponentModel: 1.0},
			wantScore: 0.75,
			wantFlags: []risk.Flag{risk.FlagNetworkAnomaly},
		},
		{
			name: "unknown component name defaults to weight one",
			components: []Component{
				{Name: "experimental", Score: 0.5},
			},
			weights:   weights,
			wantScore: 0.5,
		},
		{
			name: "flags from silent components still union",
			components: []Component{
				{Name: DetectorTiming, Score: 0.9, Flags: []risk.Flag{risk.FlagRapidResponses, risk.FlagMechanicalTiming}},
				{Name: DetectorNetwork, Score: 0, Flags: []risk.Flag{risk.FlagNetworkAnomaly}},
			},
			weights:   weights,
			wantScore: 0.45,
			wantFlags: []risk.Flag{risk.FlagMechanicalTiming, risk.FlagNetworkAnomaly, risk.FlagRapidResponses},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, flags := Fuse(tt.components, tt.weights)
			assert.InDelta(t, tt.wantScore, score, 1e-9)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
			assert.Equal(t, tt.wantFlags, nilIfEmpty(flags.Sorted()))
		})
	}
}

func nilIfEmpty(flags []risk.Flag) []risk.Flag {
	if len(flags) == 0 {
		return nil
	}
	return flags
}

func TestFuseNeverExceedsBounds(t *testing.T) {
	score, _ := Fuse([]Component{
		{Name: DetectorTiming, Score: 5.0},
		{Name: ComponentModel, Score: -3.0, Flags: []risk.Flag{risk.FlagNetworkAnomaly}},
	}, nil)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestClassifyRisk(t *testing.T) {
	bp := DefaultRules().RiskBreakpoints

	tests := []struct {
		score float64
		want  risk.RiskLevel
	}{
		{0.0, risk.RiskLow},
		{0.29, risk.RiskLow},
		{0.3, risk.RiskMedium},
		{0.59, risk.RiskMedium},
		{0.6, risk.RiskHigh},
		{0.84, risk.RiskHigh},
		{0.85, risk.RiskCritical},
		{1.0, risk.RiskCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyRisk(tt.score, bp), "score %.2f", tt.score)
	}

	// Monotonicity over a sweep.
	prev := ClassifyRisk(0, bp)
	order := map[risk.RiskLevel]int{risk.RiskLow: 0, risk.RiskMedium: 1, risk.RiskHigh: 2, risk.RiskCritical: 3}
	for s := 0.0; s <= 1.0; s += 0.01 {
		level := ClassifyRisk(s, bp)
		assert.GreaterOrEqual(t, order[level], order[prev])
		prev = level
	}
}
