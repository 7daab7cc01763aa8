// Package tone provides the fixed emotional-state to tone mapping, the
// per-tone voice synthesis parameters, and prompt-guide construction for the
// consult collaborator.
package tone

import (
	"strings"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// ---- Tables ----

// byState maps each emotional state to the tone the assistant should adopt.
// Calm and neutral are stress-dependent; see Select.
var byState = map[models.EmotionalState]models.Tone{
	models.EmotionDistressed: models.ToneCalming,
	models.EmotionAnxious:    models.ToneReassuring,
	models.EmotionConfused:   models.ToneClear,
	models.EmotionAngry:      models.ToneDeescalating,
	models.EmotionHopeful:    models.ToneEncouraging,
	models.EmotionCalm:       models.ToneProfessional,
	models.EmotionNeutral:    models.ToneProfessional,
}

// voiceByTone is the synthesis contract. Values must not drift; the speech
// synthesizer and its tests depend on them.
var voiceByTone = map[models.Tone]models.VoiceParams{
	models.ToneCalming:      {Stability: 0.85, SimilarityBoost: 0.75, Style: 0.15},
	models.ToneReassuring:   {Stability: 0.75, SimilarityBoost: 0.75, Style: 0.25},
	models.ToneClear:        {Stability: 0.70, SimilarityBoost: 0.80, Style: 0.20},
	models.ToneDeescalating: {Stability: 0.90, SimilarityBoost: 0.70, Style: 0.10},
	models.ToneEncouraging:  {Stability: 0.55, SimilarityBoost: 0.75, Style: 0.45},
	models.ToneProfessional: {Stability: 0.65, SimilarityBoost: 0.75, Style: 0.30},
	models.ToneUrgent:       {Stability: 0.60, SimilarityBoost: 0.80, Style: 0.35},
}

// speakingStyle is the natural-language delivery instruction for synthesizers
// that take instructions instead of numeric parameters.
var speakingStyle = map[models.Tone]string{
	models.ToneCalming:      "Speak slowly and softly, with long pauses. Sound steady and warm.",
	models.ToneReassuring:   "Speak gently and warmly at a relaxed pace. Sound confident and kind.",
	models.ToneClear:        "Speak plainly at a measured pace, separating each idea.",
	models.ToneDeescalating: "Speak calmly and evenly. Never sound defensive or rushed.",
	models.ToneEncouraging:  "Speak warmly with a little brightness. Sound supportive.",
	models.ToneProfessional: "Speak in a calm, neutral and professional voice.",
	models.ToneUrgent:       "Speak clearly and a little faster, with focus, without sounding alarmed.",
}

// ---- Public API ----

// Select returns the tone and synthesis parameters for an emotional state.
// For calm and neutral states, high or critical stress yields the urgent tone.
func Select(state models.EmotionalState, stress models.StressLevel) (models.Tone, models.VoiceParams) {
	t, ok := byState[state]
	if !ok {
		t = models.ToneProfessional
	}
	if t == models.ToneProfessional && (stress == models.StressHigh || stress == models.StressCritical) {
		t = models.ToneUrgent
	}
	return t, voiceByTone[t]
}

// VoiceFor returns the synthesis parameters for a tone, falling back to the
// professional parameters for unknown tones.
func VoiceFor(t models.Tone) models.VoiceParams {
	if v, ok := voiceByTone[t]; ok {
		return v
	}
	return voiceByTone[models.ToneProfessional]
}

// SpeakingInstructions returns a delivery instruction for instruction-driven synthesizers.
func SpeakingInstructions(t models.Tone) string {
	if s, ok := speakingStyle[t]; ok {
		return s
	}
	return speakingStyle[models.ToneProfessional]
}

// IsValid reports whether t is one of the known tones.
func IsValid(t models.Tone) bool {
	_, ok := voiceByTone[t]
	return ok
}

// BuildToneGuide produces a compact instruction snippet for injection into LLM system prompts.
// It returns an empty string for an unknown tone.
func BuildToneGuide(t models.Tone, trend models.Trend) string {
	if !IsValid(t) {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n<TONE POLICY>\nAdapt your response to the user's emotional state:\n")

	switch t {
	case models.ToneCalming:
		b.WriteString("- The user is in acute distress. Use short, grounding sentences.\n")
		b.WriteString("- Lead with one concrete next step before any explanation.\n")
	case models.ToneReassuring:
		b.WriteString("- The user is anxious. Acknowledge the worry, then reassure with facts.\n")
	case models.ToneClear:
		b.WriteString("- The user is confused. Use plain words and numbered steps.\n")
		b.WriteString("- Define PEP and PrEP the first time you mention them.\n")
	case models.ToneDeescalating:
		b.WriteString("- The user is frustrated. Stay calm, do not argue, validate the frustration.\n")
	case models.ToneEncouraging:
		b.WriteString("- The user sounds hopeful. Reinforce the positive steps they are taking.\n")
	case models.ToneUrgent:
		b.WriteString("- Time matters. Put the time-critical action first and keep it brief.\n")
	default:
		b.WriteString("- Keep a neutral, professional stance.\n")
	}

	switch trend {
	case models.TrendWorsening:
		b.WriteString("- Stress has been rising during the conversation. Slow down and be extra gentle.\n")
	case models.TrendImproving:
		b.WriteString("- Stress has been easing. Keep the same supportive approach.\n")
	}

	b.WriteString("- NEVER mirror hostility, sarcasm, insults, or unsafe language.\n")
	b.WriteString("- Never state or imply a diagnosis of HIV status.\n")
	b.WriteString("</TONE POLICY>\n")

	return b.String()
}
