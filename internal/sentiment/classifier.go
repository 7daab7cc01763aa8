// Package sentiment provides the table-driven emotional state classifier and the
// per-session emotional journey tracker.
package sentiment

import (
	_ "embed"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/tone"
	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var keywordsYAML []byte

// Keyword set names as they appear in keywords.yaml.
const (
	SetUrgency   = "urgency"
	SetDistress  = "distress"
	SetNegative  = "negative"
	SetConfusion = "confusion"
	SetPositive  = "positive"
)

// Stress score weights and bucket thresholds.
const (
	weightUrgency  = 3.0
	weightNegative = 2.0
	weightExclaim  = 2.0
	weightCaps     = 5.0
	weightRepeat   = 1.5

	criticalThreshold = 15.0
	highThreshold     = 8.0
	moderateThreshold = 3.0

	maxConfidence     = 0.95
	repeatMinRuneSize = 4 // words longer than 3 characters
)

// KeywordTable is the versioned set of bilingual keyword lists.
type KeywordTable struct {
	Version int                                   `yaml:"version"`
	Sets    map[string]map[models.Locale][]string `yaml:"sets"`
}

type compiledSet struct {
	words   map[string]bool
	phrases []string
}

// Classifier is a pure, deterministic text classifier. It is safe for concurrent use.
type Classifier struct {
	version int
	sets    map[models.Locale]map[string]compiledSet
	now     func() time.Time
}

var defaultTable KeywordTable

func init() {
	if err := yaml.Unmarshal(keywordsYAML, &defaultTable); err != nil {
		panic(fmt.Sprintf("failed to parse embedded sentiment keywords: %v", err))
	}
}

// DefaultTable returns the embedded keyword table.
func DefaultTable() KeywordTable {
	return defaultTable
}

// NewClassifier compiles a keyword table into a classifier.
func NewClassifier(table KeywordTable) *Classifier {
	c := &Classifier{
		version: table.Version,
		sets:    make(map[models.Locale]map[string]compiledSet),
		now:     time.Now,
	}
	for name, byLocale := range table.Sets {
		for locale, entries := range byLocale {
			if c.sets[locale] == nil {
				c.sets[locale] = make(map[string]compiledSet)
			}
			cs := compiledSet{words: make(map[string]bool)}
			for _, e := range entries {
				e = strings.ToLower(strings.TrimSpace(e))
				if e == "" {
					continue
				}
				if strings.ContainsAny(e, " '") {
					cs.phrases = append(cs.phrases, e)
				} else {
					cs.words[e] = true
				}
			}
			c.sets[locale][name] = cs
		}
	}
	return c
}

// NewDefaultClassifier returns a classifier over the embedded keyword table.
func NewDefaultClassifier() *Classifier {
	return NewClassifier(defaultTable)
}

// Version returns the keyword table version the classifier was built from.
func (c *Classifier) Version() int {
	return c.version
}

// counts holds the per-set match counts for one utterance.
type counts struct {
	urgency, distress, negative, confusion, positive int
}

// Classify maps raw text to an emotional state, stress level, suggested tone and
// synthesis parameters. Keyword sets of the given locale are matched together with
// the English sets, since users frequently code-switch.
func (c *Classifier) Classify(text string, locale models.Locale) models.SentimentSample {
	lower := strings.ToLower(text)
	words := tokenize(lower)

	var n counts
	for _, l := range c.localesFor(locale) {
		sets := c.sets[l]
		n.urgency += countMatches(sets[SetUrgency], words, lower)
		n.distress += countMatches(sets[SetDistress], words, lower)
		n.negative += countMatches(sets[SetNegative], words, lower)
		n.confusion += countMatches(sets[SetConfusion], words, lower)
		n.positive += countMatches(sets[SetPositive], words, lower)
	}

	ind := models.Indicators{
		UrgencyWords:     n.urgency,
		NegativeWords:    n.negative + n.distress,
		QuestionMarks:    strings.Count(text, "?") + strings.Count(text, "¿"),
		ExclamationMarks: strings.Count(text, "!") + strings.Count(text, "¡"),
		CapsLockRatio:    capsRatio(text),
		RepeatWords:      repeatCount(words),
	}

	stress := stressLevel(stressScore(ind))
	state := emotionalState(n, ind)
	t, voice := tone.Select(state, stress)

	return models.SentimentSample{
		Timestamp:      c.now(),
		EmotionalState: state,
		StressLevel:    stress,
		Confidence:     confidence(len(words), ind),
		Indicators:     ind,
		SuggestedTone:  t,
		Voice:          voice,
	}
}

func (c *Classifier) localesFor(locale models.Locale) []models.Locale {
	if locale == "" || locale == models.LocaleEnglish {
		return []models.Locale{models.LocaleEnglish}
	}
	if _, ok := c.sets[locale]; !ok {
		return []models.Locale{models.LocaleEnglish}
	}
	return []models.Locale{locale, models.LocaleEnglish}
}

// stressScore = 3*urgency + 2*negative + 2*exclaim + 5*capsRatio + 1.5*repeats
func stressScore(ind models.Indicators) float64 {
	return weightUrgency*float64(ind.UrgencyWords) +
		weightNegative*float64(ind.NegativeWords) +
		weightExclaim*float64(ind.ExclamationMarks) +
		weightCaps*ind.CapsLockRatio +
		weightRepeat*float64(ind.RepeatWords)
}

func stressLevel(score float64) models.StressLevel {
	switch {
	case score > criticalThreshold:
		return models.StressCritical
	case score > highThreshold:
		return models.StressHigh
	case score > moderateThreshold:
		return models.StressModerate
	default:
		return models.StressLow
	}
}

// emotionalState applies the priority rules; the first match wins.
func emotionalState(n counts, ind models.Indicators) models.EmotionalState {
	switch {
	case n.distress > 0 && n.urgency > 0:
		return models.EmotionDistressed
	case n.distress > 0:
		return models.EmotionAnxious
	case n.urgency > 0 && n.negative > 0:
		return models.EmotionAnxious
	case n.confusion > 0 && ind.QuestionMarks > 2:
		return models.EmotionConfused
	case n.negative > 0 && n.positive == 0:
		return models.EmotionAnxious
	case n.positive > 0:
		return models.EmotionHopeful
	case ind.ExclamationMarks > 3:
		return models.EmotionAngry
	default:
		return models.EmotionNeutral
	}
}

// confidence = min(0.95, 0.5 + 0.3*(wordCount/50) + 0.05*(urgency+negative))
func confidence(wordCount int, ind models.Indicators) float64 {
	c := 0.5 + 0.3*(float64(wordCount)/50) + 0.05*float64(ind.UrgencyWords+ind.NegativeWords)
	return math.Min(maxConfidence, c)
}

func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func countMatches(set compiledSet, words []string, lower string) int {
	n := 0
	for _, w := range words {
		if set.words[w] {
			n++
		}
	}
	for _, p := range set.phrases {
		n += strings.Count(lower, p)
	}
	return n
}

// capsRatio is the share of letters that are upper-case.
func capsRatio(text string) float64 {
	letters, upper := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// repeatCount counts extra occurrences of words longer than 3 characters.
func repeatCount(words []string) int {
	seen := make(map[string]int)
	extra := 0
	for _, w := range words {
		if len([]rune(w)) < repeatMinRuneSize {
			continue
		}
		if seen[w] > 0 {
			extra++
		}
		seen[w]++
	}
	return extra
}
