package fraud

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/edupulse/learning-integrity-backend/internal/domain/behavior"
	"github.com/edupulse/learning-integrity-backend/internal/domain/risk"
)

// ipObservationTTL bounds how long an (ip, user) observation counts toward
// fan-out. Prevents unbounded registry growth.
const ipObservationTTL = 24 * time.Hour

// NetworkDetector tracks which users have been seen behind each IP and
// flags IPs shared by more distinct users than the configured ceiling.
type NetworkDetector struct {
	rules *Rules

	mu   sync.RWMutex
	seen map[string]map[string]time.Time // ip -> user -> last seen
}

func NewNetworkDetector(rules *Rules) *NetworkDetector {
	return &NetworkDetector{
		rules: rules,
		seen:  make(map[string]map[string]time.Time),
	}
}

func (d *NetworkDetector) Name() string { return DetectorNetwork }

// Observe records a (user, ip) pairing and prunes stale entries for that IP.
func (d *NetworkDetector) Observe(userID, ipAddress string, at time.Time) {
	if userID == "" || ipAddress == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	users, ok := d.seen[ipAddress]
	if !ok {
		users = make(map[string]time.Time)
		d.seen[ipAddress] = users
	}
	users[userID] = at

	cutoff := at.Add(-ipObservationTTL)
	for u, last := range users {
		if last.Before(cutoff) {
			delete(users, u)
		}
	}
}

// ScoreIP returns the anomaly score for a single IP. Score grows
// proportionally with fan-out beyond the ceiling and saturates at 1.0.
func (d *NetworkDetector) ScoreIP(ipAddress string) (float64, []risk.Flag) {
	d.mu.RLock()
	distinct := len(d.seen[ipAddress])
	d.mu.RUnlock()

	ceiling := d.rules.MaxUsersPerIP
	if ceiling <= 0 || distinct <= ceiling {
		return 0, nil
	}
	score := math.Min(1.0, float64(distinct-ceiling)/float64(ceiling))
	return score, []risk.Flag{risk.FlagNetworkAnomaly}
}

func (d *NetworkDetector) Detect(ctx context.Context, features *Features, dctx *DetectionContext) (float64, []risk.Flag, error) {
	if dctx == nil || dctx.Event == nil {
		return 0, nil, nil
	}
	d.Observe(dctx.Event.UserID, dctx.Event.IPAddress, dctx.Event.Timestamp)
	score, flags := d.ScoreIP(dctx.Event.IPAddress)
	return score, flags, nil
}

// CollusionDetector builds a transient similarity graph over a batch of
// behavior profiles and reports pairs above the similarity threshold.
type CollusionDetector struct {
	rules *Rules
}

func NewCollusionDetector(rules *Rules) *CollusionDetector {
	return &CollusionDetector{rules: rules}
}

// ProfileSimilarity is symmetric and bounded in [0,1]; identical profiles
// yield exactly 1.0. It compares mean response time, accuracy rate and
// window length, each difference scaled to its own range.
func ProfileSimilarity(a, b *behavior.Profile) float64 {
	if a == nil || b == nil {
		return 0
	}
	timing := ratioSimilarity(a.MeanResponseMS, b.MeanResponseMS)
	accuracy := 1.0 - math.Abs(a.AccuracyRate-b.AccuracyRate)
	length := ratioSimilarity(float64(len(a.Window)), float64(len(b.Window)))
	return (timing + accuracy + length) / 3.0
}

// ratioSimilarity maps two non-negative magnitudes to [0,1]: equal values
// give 1, values an order of magnitude apart approach 0.
func ratioSimilarity(a, b float64) float64 {
	if a == b {
		return 1.0
	}
	max := math.Max(a, b)
	if max == 0 {
		return 1.0
	}
	return math.Max(0, 1.0-math.Abs(a-b)/max)
}

// Scan builds the similarity graph for the given profile batch. Input is
// capped at CollusionBatchCap to bound worst-case latency; the report marks
// truncation. Profiles must already be point-in-time copies.
func (d *CollusionDetector) Scan(profiles []*behavior.Profile) *CollusionReport {
	report := &CollusionReport{
		Threshold:   d.rules.SimilarityThreshold,
		GeneratedAt: time.Now(),
	}

	if len(profiles) > d.rules.CollusionBatchCap {
		profiles = profiles[:d.rules.CollusionBatchCap]
		report.TruncatedScan = true
	}
	report.ScannedUsers = len(profiles)
	if len(profiles) < 2 {
		return report
	}

	parent := make(map[string]string, len(profiles))
	var find func(string) string
	find = func(u string) string {
		if parent[u] != u {
			parent[u] = find(parent[u])
		}
		return parent[u]
	}
	for _, p := range profiles {
		parent[p.UserID] = p.UserID
	}

	for i := 0; i < len(profiles); i++ {
		for j := i + 1; j < len(profiles); j++ {
			sim := ProfileSimilarity(profiles[i], profiles[j])
			if sim > d.rules.SimilarityThreshold {
				report.Pairs = append(report.Pairs, CollusionPair{
					UserA:      profiles[i].UserID,
					UserB:      profiles[j].UserID,
					Similarity: sim,
				})
				parent[find(profiles[i].UserID)] = find(profiles[j].UserID)
			}
		}
	}

	sort.Slice(report.Pairs, func(i, j int) bool {
		return report.Pairs[i].Similarity > report.Pairs[j].Similarity
	})

	groups := make(map[string][]string)
	for _, p := range profiles {
		root := find(p.UserID)
		groups[root] = append(groups[root], p.UserID)
	}
	for _, members := range groups {
		if len(members) > 1 {
			sort.Strings(members)
			report.Clusters = append(report.Clusters, members)
		}
	}
	sort.Slice(report.Clusters, func(i, j int) bool {
		return report.Clusters[i][0] < report.Clusters[j][0]
	})

	return report
}
