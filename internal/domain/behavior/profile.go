package behavior

import (
	"math"
	"time"

	"github.com/edupulse/learning-integrity-backend/internal/domain/attempt"
)

// DefaultWindowSize is the number of recent attempts retained per user.
const DefaultWindowSize = 50

// Profile is the rolling behavioral profile for one user. The window holds
// the most recent attempts; aggregates are recomputed on every append.
type Profile struct {
	UserID          string          `json:"user_id"`
	Window          []attempt.Event `json:"window"`
	WindowSize      int             `json:"window_size"`
	MeanResponseMS  float64         `json:"mean_response_ms"`
	StddevResponse  float64         `json:"stddev_response_ms"`
	AccuracyRate    float64         `json:"accuracy_rate"`
	DeviceHistogram map[string]int  `json:"device_histogram"`
	LastUpdated     time.Time       `json:"last_updated"`
}

// NewProfile creates an empty profile with the given window capacity.
// size <= 0 falls back to DefaultWindowSize.
func NewProfile(userID string, size int) *Profile {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Profile{
		UserID:          userID,
		Window:          make([]attempt.Event, 0, size),
		WindowSize:      size,
		DeviceHistogram: make(map[string]int),
	}
}

// Record appends an attempt, trims the window to capacity, and recomputes
// all derived aggregates. Callers must hold the per-user lock.
func (p *Profile) Record(ev attempt.Event) {
	p.Window = append(p.Window, ev)
	if len(p.Window) > p.WindowSize {
		p.Window = p.Window[len(p.Window)-p.WindowSize:]
	}
	p.recompute()
	p.LastUpdated = ev.Timestamp
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now()
	}
}

func (p *Profile) recompute() {
	n := len(p.Window)
	if n == 0 {
		p.MeanResponseMS = 0
		p.StddevResponse = 0
		p.AccuracyRate = 0
		p.DeviceHistogram = make(map[string]int)
		return
	}

	var sum, correct float64
	hist := make(map[string]int, 4)
	for _, ev := range p.Window {
		sum += float64(ev.TimeTakenMS)
		if ev.Correct {
			correct++
		}
		hist[ev.DeviceType]++
	}
	mean := sum / float64(n)

	// Population stddev; a single sample legitimately reports 0.
	var sq float64
	for _, ev := range p.Window {
		d := float64(ev.TimeTakenMS) - mean
		sq += d * d
	}

	p.MeanResponseMS = mean
	p.StddevResponse = math.Sqrt(sq / float64(n))
	p.AccuracyRate = correct / float64(n)
	p.DeviceHistogram = hist
}

// DeviceConsistency returns the fraction of windowed attempts that used the
// modal device type. An empty window reports full consistency.
func (p *Profile) DeviceConsistency() float64 {
	n := len(p.Window)
	if n == 0 {
		return 1.0
	}
	max := 0
	for _, c := range p.DeviceHistogram {
		if c > max {
			max = c
		}
	}
	return float64(max) / float64(n)
}

// AttemptsSince counts windowed attempts with timestamps at or after cutoff.
func (p *Profile) AttemptsSince(cutoff time.Time) int {
	count := 0
	for _, ev := range p.Window {
		if !ev.Timestamp.Before(cutoff) {
			count++
		}
	}
	return count
}

// Clone returns a deep copy safe to read without the per-user lock.
func (p *Profile) Clone() *Profile {
	cp := *p
	cp.Window = make([]attempt.Event, len(p.Window))
	copy(cp.Window, p.Window)
	cp.DeviceHistogram = make(map[string]int, len(p.DeviceHistogram))
	for k, v := range p.DeviceHistogram {
		cp.DeviceHistogram[k] = v
	}
	return &cp
}
