package tone

import (
	"strings"
	"testing"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

func TestSelect_StateTable(t *testing.T) {
	tests := []struct {
		state  models.EmotionalState
		stress models.StressLevel
		want   models.Tone
		voice  models.VoiceParams
	}{
		{models.EmotionDistressed, models.StressCritical, models.ToneCalming, models.VoiceParams{Stability: 0.85, SimilarityBoost: 0.75, Style: 0.15}},
		{models.EmotionAnxious, models.StressModerate, models.ToneReassuring, models.VoiceParams{Stability: 0.75, SimilarityBoost: 0.75, Style: 0.25}},
		{models.EmotionConfused, models.StressLow, models.ToneClear, models.VoiceParams{Stability: 0.70, SimilarityBoost: 0.80, Style: 0.20}},
		{models.EmotionAngry, models.StressHigh, models.ToneDeescalating, models.VoiceParams{Stability: 0.90, SimilarityBoost: 0.70, Style: 0.10}},
		{models.EmotionHopeful, models.StressLow, models.ToneEncouraging, models.VoiceParams{Stability: 0.55, SimilarityBoost: 0.75, Style: 0.45}},
		{models.EmotionNeutral, models.StressLow, models.ToneProfessional, models.VoiceParams{Stability: 0.65, SimilarityBoost: 0.75, Style: 0.30}},
		{models.EmotionCalm, models.StressModerate, models.ToneProfessional, models.VoiceParams{Stability: 0.65, SimilarityBoost: 0.75, Style: 0.30}},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			got, voice := Select(tt.state, tt.stress)
			if got != tt.want {
				t.Errorf("Select(%s, %s) tone = %s, want %s", tt.state, tt.stress, got, tt.want)
			}
			if voice != tt.voice {
				t.Errorf("Select(%s, %s) voice = %+v, want %+v", tt.state, tt.stress, voice, tt.voice)
			}
		})
	}
}

func TestSelect_NeutralUnderStressIsUrgent(t *testing.T) {
	for _, state := range []models.EmotionalState{models.EmotionNeutral, models.EmotionCalm} {
		for _, stress := range []models.StressLevel{models.StressHigh, models.StressCritical} {
			got, voice := Select(state, stress)
			if got != models.ToneUrgent {
				t.Errorf("Select(%s, %s) = %s, want urgent", state, stress, got)
			}
			if voice != VoiceFor(models.ToneUrgent) {
				t.Errorf("unexpected urgent voice params %+v", voice)
			}
		}
	}
}

func TestSelect_StressDoesNotOverrideEmotionalTones(t *testing.T) {
	got, _ := Select(models.EmotionAnxious, models.StressCritical)
	if got != models.ToneReassuring {
		t.Errorf("expected reassuring for anxious under critical stress, got %s", got)
	}
}

func TestVoiceFor_UnknownFallsBackToProfessional(t *testing.T) {
	if VoiceFor("whispering") != VoiceFor(models.ToneProfessional) {
		t.Error("expected professional voice params for unknown tone")
	}
}

func TestBuildToneGuide(t *testing.T) {
	guide := BuildToneGuide(models.ToneCalming, models.TrendWorsening)
	if !strings.Contains(guide, "<TONE POLICY>") || !strings.Contains(guide, "</TONE POLICY>") {
		t.Fatalf("expected tone policy markers, got %q", guide)
	}
	if !strings.Contains(guide, "acute distress") {
		t.Errorf("expected calming instruction, got %q", guide)
	}
	if !strings.Contains(guide, "Stress has been rising") {
		t.Errorf("expected worsening-trend instruction, got %q", guide)
	}
	if !strings.Contains(guide, "Never state or imply a diagnosis") {
		t.Errorf("expected diagnosis guard, got %q", guide)
	}
}

func TestBuildToneGuide_UnknownToneIsEmpty(t *testing.T) {
	if got := BuildToneGuide("sarcastic", models.TrendStable); got != "" {
		t.Errorf("expected empty guide for unknown tone, got %q", got)
	}
}

func TestSpeakingInstructions_AllTonesCovered(t *testing.T) {
	for tn := range voiceByTone {
		if _, ok := speakingStyle[tn]; !ok {
			t.Errorf("tone %s has no speaking instructions", tn)
		}
	}
}
