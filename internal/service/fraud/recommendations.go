package fraud

import (
	"github.com/edupulse/learning-integrity-backend/internal/domain/behavior"
	"github.com/edupulse/learning-integrity-backend/internal/domain/risk"
)

// Recommend derives ordered, human-readable mitigation actions from a score
// and its flags. Pure function; never returns an empty list.
func Recommend(score float64, flags risk.FlagSet, profile *behavior.Profile) []string {
	var recs []string

	switch {
	case score >= 0.9:
		recs = append(recs,
			"Suspend the account pending manual investigation",
			"Invalidate active sessions and require re-authentication")
	case score >= 0.5:
		recs = append(recs,
			"Require identity verification before the next session",
			"Increase sampling of this user's future attempts")
	}

	if flags.Has(risk.FlagRapidResponses) {
		recs = append(recs, "Apply per-user rate limiting on answer submissions")
	}
	if flags.Has(risk.FlagMechanicalTiming) {
		recs = append(recs, "Present a human-verification challenge on the next attempt")
	}
	if flags.Has(risk.FlagDeviceInconsistency) {
		recs = append(recs, "Prompt for device re-verification")
	}
	if flags.Has(risk.FlagNetworkAnomaly) {
		recs = append(recs, "Review other accounts sharing this IP address")
	}
	if flags.Has(risk.FlagCollusionSuspected) {
		recs = append(recs, "Cross-review the flagged user cluster for shared control")
	}

	if profile != nil && len(profile.Window) < behavior.DefaultWindowSize/5 {
		recs = append(recs, "Limited history available; re-evaluate after more activity")
	}

	if len(recs) == 0 {
		recs = append(recs, "Continue standard monitoring; no action required")
	}
	return recs
}
