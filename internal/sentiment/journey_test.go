package sentiment

import (
	"testing"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

func samplesWithStress(levels ...models.StressLevel) []models.SentimentSample {
	out := make([]models.SentimentSample, 0, len(levels))
	for _, l := range levels {
		out = append(out, models.SentimentSample{StressLevel: l})
	}
	return out
}

func TestComputeTrend(t *testing.T) {
	tests := []struct {
		name   string
		levels []models.StressLevel
		want   models.Trend
	}{
		{"empty", nil, models.TrendStable},
		{"one sample", []models.StressLevel{models.StressCritical}, models.TrendStable},
		{"two samples decreasing", []models.StressLevel{models.StressCritical, models.StressLow}, models.TrendStable},
		{"strictly decreasing", []models.StressLevel{models.StressCritical, models.StressHigh, models.StressModerate}, models.TrendImproving},
		{"strictly increasing", []models.StressLevel{models.StressLow, models.StressModerate, models.StressCritical}, models.TrendWorsening},
		{"plateau", []models.StressLevel{models.StressHigh, models.StressHigh, models.StressLow}, models.TrendStable},
		{"zigzag", []models.StressLevel{models.StressLow, models.StressHigh, models.StressModerate}, models.TrendStable},
		{"only last three count", []models.StressLevel{models.StressLow, models.StressLow, models.StressCritical, models.StressHigh, models.StressModerate}, models.TrendImproving},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeTrend(samplesWithStress(tt.levels...)); got != tt.want {
				t.Errorf("ComputeTrend(%v) = %s, want %s", tt.levels, got, tt.want)
			}
		})
	}
}

func TestJourney_AddSampleAppendsAndRecomputes(t *testing.T) {
	j := NewJourney("s1")
	if j.Trend() != models.TrendStable {
		t.Fatalf("expected stable initial trend, got %s", j.Trend())
	}
	if _, ok := j.Latest(); ok {
		t.Fatal("expected no latest sample on empty journey")
	}

	for i, l := range []models.StressLevel{models.StressCritical, models.StressHigh, models.StressModerate} {
		trend := j.AddSample(models.SentimentSample{StressLevel: l})
		if i < 2 && trend != models.TrendStable {
			t.Errorf("after %d samples trend = %s, want stable", i+1, trend)
		}
	}
	if j.Trend() != models.TrendImproving {
		t.Errorf("trend = %s, want improving", j.Trend())
	}

	samples := j.Samples()
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	samples[0].StressLevel = models.StressLow
	if j.Samples()[0].StressLevel != models.StressCritical {
		t.Error("Samples must return a copy; journey was mutated through it")
	}
	latest, ok := j.Latest()
	if !ok || latest.StressLevel != models.StressModerate {
		t.Errorf("latest = %+v, want moderate", latest)
	}
	if j.SessionID() != "s1" {
		t.Errorf("session id = %q", j.SessionID())
	}
}
