package risk

import (
	"sort"
	"time"
)

// Flag is a named indicator explaining why a score is elevated.
type Flag string

const (
	FlagRapidResponses      Flag = "RAPID_RESPONSES"
	FlagMechanicalTiming    Flag = "MECHANICAL_TIMING"
	FlagDeviceInconsistency Flag = "DEVICE_INCONSISTENCY"
	FlagNetworkAnomaly      Flag = "NETWORK_ANOMALY"
	FlagCollusionSuspected  Flag = "COLLUSION_SUSPECTED"
)

// RiskLevel is the discrete bucket derived from the fraud score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// FlagSet is an order-independent set of flags.
type FlagSet map[Flag]struct{}

func NewFlagSet(flags ...Flag) FlagSet {
	s := make(FlagSet, len(flags))
	for _, f := range flags {
		s[f] = struct{}{}
	}
	return s
}

func (s FlagSet) Add(f Flag) {
	s[f] = struct{}{}
}

func (s FlagSet) Has(f Flag) bool {
	_, ok := s[f]
	return ok
}

// Union merges other into a new set, leaving both inputs untouched.
func (s FlagSet) Union(other FlagSet) FlagSet {
	out := make(FlagSet, len(s)+len(other))
	for f := range s {
		out[f] = struct{}{}
	}
	for f := range other {
		out[f] = struct{}{}
	}
	return out
}

// Sorted returns the flags in lexical order for stable serialization.
func (s FlagSet) Sorted() []Flag {
	out := make([]Flag, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Score is the current fraud assessment for a user. Score, Confidence and
// any embedded probabilities are always within [0,1].
type Score struct {
	UserID      string    `json:"user_id"`
	Value       float64   `json:"score"`
	Confidence  float64   `json:"confidence"`
	RiskLevel   RiskLevel `json:"risk_level"`
	ActiveFlags FlagSet   `json:"active_flags"`
	Degraded    bool      `json:"degraded"`
	LastUpdated time.Time `json:"last_updated"`
}
