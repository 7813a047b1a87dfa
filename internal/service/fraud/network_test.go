package fraud

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edupulse/learning-integrity-backend/internal/domain/behavior"
	"github.com/edupulse/learning-integrity-backend/internal/domain/risk"
)

func TestNetworkDetectorFanOut(t *testing.T) {
	rules := DefaultRules()
	d := NewNetworkDetector(rules)
	now := time.Now()

	// Up to the ceiling the IP is clean.
	for i := 0; i < rules.MaxUsersPerIP; i++ {
		d.Observe(fmt.Sprintf("user-%d", i), "198.51.100.1", now)
	}
	score, flags := d.ScoreIP("198.51.100.1")
	assert.Zero(t, score)
	assert.Empty(t, flags)

	// One more distinct user crosses it.
	d.Observe("user-extra", "198.51.100.1", now)
	score, flags = d.ScoreIP("198.51.100.1")
	assert.Greater(t, score, 0.0)
	assert.Contains(t, flags, risk.FlagNetworkAnomaly)

	// Repeat observations of known users do not inflate the count.
	d.Observe("user-0", "198.51.100.1", now)
	again, _ := d.ScoreIP("198.51.100.1")
	assert.Equal(t, score, again)

	// Saturation at double the ceiling.
	for i := 0; i < rules.MaxUsersPerIP*2; i++ {
		d.Observe(fmt.Sprintf("flood-%d", i), "198.51.100.1", now)
	}
	score, _ = d.ScoreIP("198.51.100.1")
	assert.Equal(t, 1.0, score)
}

func TestNetworkDetectorPrunesStaleObservations(t *testing.T) {
	rules := DefaultRules()
	d := NewNetworkDetector(rules)
	old := time.Now().Add(-48 * time.Hour)

	for i := 0; i < rules.MaxUsersPerIP*2; i++ {
		d.Observe(fmt.Sprintf("user-%d", i), "198.51.100.9", old)
	}
	// A fresh observation prunes everything older than the TTL.
	d.Observe("user-new", "198.51.100.9", time.Now())

	score, flags := d.ScoreIP("198.51.100.9")
	assert.Zero(t, score)
	assert.Empty(t, flags)
}

func TestNetworkDetectorUnknownIP(t *testing.T) {
	d := NewNetworkDetector(DefaultRules())
	score, flags := d.ScoreIP("192.0.2.200")
	assert.Zero(t, score)
	assert.Empty(t, flags)
}

func TestProfileSimilarity(t *testing.T) {
	now := time.Now()

	identicalA := newTestProfile("a",
		makeEvent("a", 5000, true, "desktop", now),
		makeEvent("a", 5200, false, "desktop", now),
	)
	identicalB := newTestProfile("b",
		makeEvent("b", 5000, true, "desktop", now),
		makeEvent("b", 5200, false, "desktop", now),
	)

	sim := ProfileSimilarity(identicalA, identicalB)
	assert.Equal(t, 1.0, sim, "identical behavior must score exactly 1.0")

	// Symmetry.
	slow := newTestProfile("c", makeEvent("c", 20000, false, "mobile", now))
	assert.Equal(t,
		ProfileSimilarity(identicalA, slow),
		ProfileSimilarity(slow, identicalA))

	// Bounded.
	assert.GreaterOrEqual(t, ProfileSimilarity(identicalA, slow), 0.0)
	assert.LessOrEqual(t, ProfileSimilarity(identicalA, slow), 1.0)

	// Dissimilar profiles score lower than near-identical ones.
	assert.Less(t, ProfileSimilarity(identicalA, slow), sim)

	// Nil input.
	assert.Zero(t, ProfileSimilarity(nil, identicalA))
}

func TestCollusionScan(t *testing.T) {
	rules := DefaultRules()
	d := NewCollusionDetector(rules)
	now := time.Now()

	clone := func(id string) *behavior.Profile {
		return newTestProfile(id,
			makeEvent(id, 4000, true, "desktop", now),
			makeEvent(id, 4100, true, "desktop", now),
			makeEvent(id, 3900, false, "desktop", now),
		)
	}
	outlier := newTestProfile("loner",
		makeEvent("loner", 30000, false, "mobile", now),
	)

	report := d.Scan([]*behavior.Profile{clone("a"), clone("b"), clone("c"), outlier})

	assert.Equal(t, 4, report.ScannedUsers)
	assert.False(t, report.TruncatedScan)
	require.NotEmpty(t, report.Pairs)

	// Three mutually identical profiles give three pairs and one cluster.
	assert.Len(t, report.Pairs, 3)
	require.Len(t, report.Clusters, 1)
	assert.Equal(t, []string{"a", "b", "c"}, report.Clusters[0])

	// Pairs are ordered by descending similarity and all above threshold.
	for i, p := range report.Pairs {
		assert.Greater(t, p.Similarity, rules.SimilarityThreshold)
		if i > 0 {
			assert.LessOrEqual(t, p.Similarity, report.Pairs[i-1].Similarity)
		}
	}
}

func TestCollusionScanSmallAndCappedBatches(t *testing.T) {
	rules := DefaultRules()
	rules.CollusionBatchCap = 10
	d := NewCollusionDetector(rules)
	now := time.Now()

	// Fewer than two profiles cannot produce pairs.
	report := d.Scan([]*behavior.Profile{newTestProfile("solo", makeEvent("solo", 5000, true, "desktop", now))})
	assert.Equal(t, 1, report.ScannedUsers)
	assert.Empty(t, report.Pairs)
	assert.Empty(t, report.Clusters)

	// Oversized batches are truncated at the cap.
	var batch []*behavior.Profile
	for i := 0; i < 25; i++ {
		batch = append(batch, newTestProfile(fmt.Sprintf("u%02d", i),
			makeEvent("u", 5000, true, "desktop", now)))
	}
	report = d.Scan(batch)
	assert.True(t, report.TruncatedScan)
	assert.Equal(t, 10, report.ScannedUsers)
}
