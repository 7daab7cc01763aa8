package models

import "time"

// EmotionalState is the coarse emotion detected in a single utterance.
type EmotionalState string

const (
	EmotionCalm       EmotionalState = "calm"
	EmotionAnxious    EmotionalState = "anxious"
	EmotionDistressed EmotionalState = "distressed"
	EmotionConfused   EmotionalState = "confused"
	EmotionAngry      EmotionalState = "angry"
	EmotionHopeful    EmotionalState = "hopeful"
	EmotionNeutral    EmotionalState = "neutral"
)

// StressLevel buckets the numeric stress score.
type StressLevel string

const (
	StressLow      StressLevel = "low"
	StressModerate StressLevel = "moderate"
	StressHigh     StressLevel = "high"
	StressCritical StressLevel = "critical"
)

// Ordinal maps a stress level to 1..4, or 0 for an unknown level.
func (s StressLevel) Ordinal() int {
	switch s {
	case StressLow:
		return 1
	case StressModerate:
		return 2
	case StressHigh:
		return 3
	case StressCritical:
		return 4
	default:
		return 0
	}
}

// Tone is the conversational register the assistant should adopt.
type Tone string

const (
	ToneCalming      Tone = "calming"
	ToneReassuring   Tone = "reassuring"
	ToneClear        Tone = "clear"
	ToneDeescalating Tone = "de-escalating"
	ToneEncouraging  Tone = "encouraging"
	ToneProfessional Tone = "professional"
	ToneUrgent       Tone = "urgent"
)

// VoiceParams are the synthesis parameters consumed by the speech synthesizer.
type VoiceParams struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarityBoost"`
	Style           float64 `json:"style"`
}

// Indicators are the raw lexical signals counted by the sentiment classifier.
type Indicators struct {
	UrgencyWords     int     `json:"urgencyWords"`
	NegativeWords    int     `json:"negativeWords"`
	QuestionMarks    int     `json:"questionMarks"`
	ExclamationMarks int     `json:"exclamationMarks"`
	CapsLockRatio    float64 `json:"capsLockRatio"`
	RepeatWords      int     `json:"repeatWords"`
}

// SentimentSample is one immutable classifier output.
type SentimentSample struct {
	Timestamp      time.Time      `json:"timestamp"`
	EmotionalState EmotionalState `json:"emotionalState"`
	StressLevel    StressLevel    `json:"stressLevel"`
	Confidence     float64        `json:"confidence"`
	Indicators     Indicators     `json:"indicators"`
	SuggestedTone  Tone           `json:"suggestedTone"`
	Voice          VoiceParams    `json:"voiceSynthesisParams"`
}

// Trend summarizes the direction of the most recent stress samples.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendWorsening Trend = "worsening"
	TrendStable    Trend = "stable"
)
