package fraud

import (
	"github.com/edupulse/learning-integrity-backend/internal/domain/risk"
)

// Component is one scored input to fusion: a detector result or the model
// probability.
type Component struct {
	Name  string
	Score float64
	Flags []risk.Flag
}

// Fuse combines component scores into one bounded score and unions all
// flags. Pure aggregation, no I/O. A component participates when it carries
// signal (score > 0 or flags); an empty component list yields 0.0, never
// NaN. Weights default to 1.0 for unknown component names.
func Fuse(components []Component, weights map[string]float64) (float64, risk.FlagSet) {
	flags := risk.NewFlagSet()
	var weightedSum, totalWeight float64

	for _, c := range components {
		for _, f := range c.Flags {
			flags.Add(f)
		}
		if c.Score <= 0 && len(c.Flags) == 0 {
			continue
		}
		w, ok := weights[c.Name]
		if !ok || w <= 0 {
			w = 1.0
		}
		weightedSum += w * clamp01(c.Score)
		totalWeight += w
	}

	if totalWeight == 0 {
		return 0.0, flags
	}
	return clamp01(weightedSum / totalWeight), flags
}

// ClassifyRisk maps a score to its discrete level using the configured
// breakpoints. Deterministic and monotonically non-decreasing in score.
func ClassifyRisk(score float64, bp RiskBreakpoints) risk.RiskLevel {
	switch {
	case score >= bp.Critical:
		return risk.RiskCritical
	case score >= bp.High:
		return risk.RiskHigh
	case score >= bp.Medium:
		return risk.RiskMedium
	default:
		return risk.RiskLow
	}
}
