package sentiment

import (
	"log/slog"
	"sync"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// trendWindow is the number of most recent samples the trend is computed from.
const trendWindow = 3

// Journey is the append-only emotional log of one session.
type Journey struct {
	mu        sync.RWMutex
	sessionID string
	samples   []models.SentimentSample
	trend     models.Trend
}

// NewJourney creates an empty journey for a session.
func NewJourney(sessionID string) *Journey {
	return &Journey{sessionID: sessionID, trend: models.TrendStable}
}

// SessionID returns the owning session id.
func (j *Journey) SessionID() string {
	return j.sessionID
}

// AddSample appends a sample and recomputes the trend over the last three samples.
func (j *Journey) AddSample(s models.SentimentSample) models.Trend {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.samples = append(j.samples, s)
	j.trend = ComputeTrend(j.samples)
	slog.Debug("Journey.AddSample", "sessionID", j.sessionID, "samples", len(j.samples), "stress", s.StressLevel, "trend", j.trend)
	return j.trend
}

// Trend returns the current trend.
func (j *Journey) Trend() models.Trend {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.trend
}

// Samples returns a copy of the recorded samples in order.
func (j *Journey) Samples() []models.SentimentSample {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]models.SentimentSample, len(j.samples))
	copy(out, j.samples)
	return out
}

// Latest returns the most recent sample, if any.
func (j *Journey) Latest() (models.SentimentSample, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.samples) == 0 {
		return models.SentimentSample{}, false
	}
	return j.samples[len(j.samples)-1], true
}

// ComputeTrend maps the stress levels of the last three samples to ordinals 1..4.
// Strictly decreasing is improving, strictly increasing is worsening, anything
// else (or fewer than three samples) is stable.
func ComputeTrend(samples []models.SentimentSample) models.Trend {
	if len(samples) < trendWindow {
		return models.TrendStable
	}
	last := samples[len(samples)-trendWindow:]
	a, b, c := last[0].StressLevel.Ordinal(), last[1].StressLevel.Ordinal(), last[2].StressLevel.Ordinal()
	switch {
	case a > b && b > c:
		return models.TrendImproving
	case a < b && b < c:
		return models.TrendWorsening
	default:
		return models.TrendStable
	}
}
