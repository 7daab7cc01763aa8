package sentiment

import (
	"math"
	"testing"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/tone"
)

func fixedClassifier() *Classifier {
	c := NewDefaultClassifier()
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return c
}

func TestDefaultTable_HasAllSets(t *testing.T) {
	table := DefaultTable()
	if table.Version == 0 {
		t.Error("expected a non-zero keyword table version")
	}
	for _, name := range []string{SetUrgency, SetDistress, SetNegative, SetConfusion, SetPositive} {
		for _, l := range []models.Locale{models.LocaleEnglish, models.LocaleSpanish} {
			if len(table.Sets[name][l]) == 0 {
				t.Errorf("keyword set %s has no %s entries", name, l)
			}
		}
	}
}

func TestClassify_EmotionalStatePriority(t *testing.T) {
	c := fixedClassifier()
	tests := []struct {
		name   string
		text   string
		locale models.Locale
		want   models.EmotionalState
	}{
		{"distress and urgency", "I am terrified, I need help", models.LocaleEnglish, models.EmotionDistressed},
		{"distress alone", "I am so scared", models.LocaleEnglish, models.EmotionAnxious},
		{"urgency and negative", "I'm worried, this is urgent", models.LocaleEnglish, models.EmotionAnxious},
		{"confusion outranks negative", "I don't know? is this bad? what? where?", models.LocaleEnglish, models.EmotionConfused},
		{"confusion needs more than two questions", "I don't know what this means?", models.LocaleEnglish, models.EmotionNeutral},
		{"confused without negative", "I don't know? what is PEP? where do I go?", models.LocaleEnglish, models.EmotionConfused},
		{"negative only", "I feel awful about it", models.LocaleEnglish, models.EmotionAnxious},
		{"negative with positive", "I was worried but now I feel better", models.LocaleEnglish, models.EmotionAnxious},
		{"positive", "thanks, I feel better", models.LocaleEnglish, models.EmotionHopeful},
		{"exclamations", "No!!!! Stop!", models.LocaleEnglish, models.EmotionAngry},
		{"neutral", "it was on saturday", models.LocaleEnglish, models.EmotionNeutral},
		{"spanish distress urgency", "tengo mucho miedo, necesito ayuda", models.LocaleSpanish, models.EmotionDistressed},
		{"spanish positive", "gracias, estoy más tranquila", models.LocaleSpanish, models.EmotionHopeful},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.text, tt.locale)
			if got.EmotionalState != tt.want {
				t.Errorf("Classify(%q) state = %s, want %s (indicators %+v)", tt.text, got.EmotionalState, tt.want, got.Indicators)
			}
		})
	}
}

func TestClassify_NegativeWithPositiveAndUrgencyRule(t *testing.T) {
	// "now" is an urgency word, so urgency+negative fires before the positive rule.
	got := fixedClassifier().Classify("I was worried but now I feel better", models.LocaleEnglish)
	if got.Indicators.UrgencyWords != 1 || got.Indicators.NegativeWords != 1 {
		t.Fatalf("unexpected indicators %+v", got.Indicators)
	}
}

func TestClassify_Indicators(t *testing.T) {
	got := fixedClassifier().Classify("HELP help please please please!! Is this bad?", models.LocaleEnglish)
	ind := got.Indicators
	if ind.UrgencyWords != 2 {
		t.Errorf("urgency words = %d, want 2", ind.UrgencyWords)
	}
	if ind.NegativeWords != 1 {
		t.Errorf("negative words = %d, want 1", ind.NegativeWords)
	}
	if ind.ExclamationMarks != 2 || ind.QuestionMarks != 1 {
		t.Errorf("punctuation = %d!/%d?, want 2!/1?", ind.ExclamationMarks, ind.QuestionMarks)
	}
	// "help" twice and "please" three times: 1 + 2 extra occurrences.
	if ind.RepeatWords != 3 {
		t.Errorf("repeat words = %d, want 3", ind.RepeatWords)
	}
	// "HELP" and the "I" of "Is": 5 upper-case letters out of 35.
	if math.Abs(ind.CapsLockRatio-5.0/35.0) > 1e-9 {
		t.Errorf("caps ratio = %f", ind.CapsLockRatio)
	}
}

func TestClassify_StressBuckets(t *testing.T) {
	tests := []struct {
		score float64
		want  models.StressLevel
	}{
		{0, models.StressLow},
		{3, models.StressLow},
		{3.5, models.StressModerate},
		{8, models.StressModerate},
		{8.5, models.StressHigh},
		{15, models.StressHigh},
		{15.5, models.StressCritical},
	}
	for _, tt := range tests {
		if got := stressLevel(tt.score); got != tt.want {
			t.Errorf("stressLevel(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestClassify_StressScoreFormula(t *testing.T) {
	ind := models.Indicators{UrgencyWords: 1, NegativeWords: 2, ExclamationMarks: 1, CapsLockRatio: 0.5, RepeatWords: 2}
	// 3 + 4 + 2 + 2.5 + 3
	if got := stressScore(ind); got != 14.5 {
		t.Errorf("stressScore = %v, want 14.5", got)
	}
}

func TestClassify_CriticalForShoutedPanic(t *testing.T) {
	got := fixedClassifier().Classify("HELP ME NOW!!! I AM TERRIFIED AND SCARED, URGENT!!!", models.LocaleEnglish)
	if got.StressLevel != models.StressCritical {
		t.Errorf("stress = %s, want critical (indicators %+v)", got.StressLevel, got.Indicators)
	}
	if got.EmotionalState != models.EmotionDistressed {
		t.Errorf("state = %s, want distressed", got.EmotionalState)
	}
	if got.SuggestedTone != models.ToneCalming {
		t.Errorf("tone = %s, want calming", got.SuggestedTone)
	}
}

func TestClassify_ConfidenceCapped(t *testing.T) {
	c := fixedClassifier()
	short := c.Classify("ok", models.LocaleEnglish)
	want := 0.5 + 0.3*(1.0/50)
	if math.Abs(short.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", short.Confidence, want)
	}
	long := c.Classify("worried worried worried worried worried worried worried worried worried worried", models.LocaleEnglish)
	if long.Confidence != maxConfidence {
		t.Errorf("confidence = %v, want capped %v", long.Confidence, maxConfidence)
	}
}

func TestClassify_ToneMatchesTable(t *testing.T) {
	got := fixedClassifier().Classify("it happened last week", models.LocaleEnglish)
	wantTone, wantVoice := tone.Select(got.EmotionalState, got.StressLevel)
	if got.SuggestedTone != wantTone || got.Voice != wantVoice {
		t.Errorf("tone/voice = %s/%+v, want %s/%+v", got.SuggestedTone, got.Voice, wantTone, wantVoice)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := fixedClassifier()
	a := c.Classify("I'm worried, what should I do?", models.LocaleEnglish)
	b := c.Classify("I'm worried, what should I do?", models.LocaleEnglish)
	if a != b {
		t.Errorf("expected identical samples, got %+v and %+v", a, b)
	}
}

func TestClassify_UnknownLocaleUsesEnglish(t *testing.T) {
	got := fixedClassifier().Classify("I am scared", "fr")
	if got.EmotionalState != models.EmotionAnxious {
		t.Errorf("state = %s, want anxious", got.EmotionalState)
	}
}
