package triage

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// Extractor turns a transcript into TriageData. It holds only compiled,
// immutable tables and is safe for concurrent use.
type Extractor struct {
	version     int
	affirmative []*regexp.Regexp
	buckets     []hoursMatcher
	relative    []hoursMatcher
	minutes     *regexp.Regexp
	hours       *regexp.Regexp
	days        *regexp.Regexp
	fields      map[string]fieldMatcher
}

// NewExtractor compiles a pattern table.
func NewExtractor(table PatternTable) (*Extractor, error) {
	e := &Extractor{version: table.Version, fields: make(map[string]fieldMatcher)}
	var err error
	if e.affirmative, err = compileAll(table.Answers.Affirmative); err != nil {
		return nil, err
	}
	if e.buckets, err = compileHours(table.Time.Buckets); err != nil {
		return nil, err
	}
	if e.relative, err = compileHours(table.Time.Relative); err != nil {
		return nil, err
	}
	if e.minutes, err = compileTime(table.Time.Explicit.Minutes); err != nil {
		return nil, err
	}
	if e.hours, err = compileTime(table.Time.Explicit.Hours); err != nil {
		return nil, err
	}
	if e.days, err = compileTime(table.Time.Explicit.Days); err != nil {
		return nil, err
	}
	for _, name := range fieldOrder {
		ft, ok := table.Fields[name]
		if !ok {
			return nil, fmt.Errorf("pattern table has no field %s", name)
		}
		fm, err := compileField(name, ft)
		if err != nil {
			return nil, err
		}
		e.fields[name] = fm
	}
	return e, nil
}

func compileTime(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, fmt.Errorf("missing explicit time pattern")
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return nil, fmt.Errorf("invalid time pattern %q: %w", expr, err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("time pattern %q has no capture group", expr)
	}
	return re, nil
}

// NewDefaultExtractor returns an extractor over the embedded pattern table.
func NewDefaultExtractor() *Extractor {
	e, err := NewExtractor(defaultPatterns)
	if err != nil {
		panic(fmt.Sprintf("embedded triage patterns do not compile: %v", err))
	}
	return e
}

// Version returns the pattern table version.
func (e *Extractor) Version() int {
	return e.version
}

// Extract derives TriageData, including the risk level, from the full session log.
// Answers are first read in the context of the question they respond to, then the
// whole transcript is scanned for explicit phrases. Question prompts are never
// matched. The latest answer for a key wins.
func (e *Extractor) Extract(log []models.LogEntry) models.TriageData {
	answers := make(map[models.QuestionKey]string, len(log))
	texts := make([]string, 0, len(log))
	for _, entry := range log {
		answers[entry.Key] = entry.AnswerText
		texts = append(texts, entry.AnswerText)
	}
	d := e.extract(answers, strings.Join(texts, "\n"))
	slog.Debug("Extractor.Extract", "entries", len(log), "risk", d.Risk(), "version", e.version)
	return d
}

// ExtractText derives TriageData from free text that is not tied to any question.
func (e *Extractor) ExtractText(text string) models.TriageData {
	return e.extract(nil, text)
}

func (e *Extractor) extract(answers map[models.QuestionKey]string, transcript string) models.TriageData {
	transcript = strings.ToLower(transcript)
	var d models.TriageData

	if h, ok := e.timeSince(answers, transcript); ok {
		bucket := models.BucketForHours(h)
		d.TimeSinceHours = &h
		d.TimeSinceBucket = &bucket
	}

	resolved := make(map[string]string, len(fieldOrder))
	for _, name := range fieldOrder {
		fm := e.fields[name]
		if !requirementsMet(fm.requires, resolved) {
			continue
		}
		if v, ok := e.resolveField(fm, answers, transcript); ok {
			resolved[name] = v
		}
	}

	d.ExposureType = optional(resolved, FieldExposureType)
	d.CondomUsed = optional(resolved, FieldCondomUsed)
	d.OnPrep = optional(resolved, FieldOnPrep)
	d.PartnerStatus = optional(resolved, FieldPartnerStatus)
	d.PartnerOnTreatment = optional(resolved, FieldPartnerOnTreatment)
	d.SexualRole = optional(resolved, FieldSexualRole)
	d.LGBTQIAPlus = resolved[FieldLGBTQIAPlus] == "true"
	d.STISymptoms = resolved[FieldSTISymptoms] == "true"
	d.HasInjury = resolved[FieldHasInjury] == "true"
	d.NoRiskContact = resolved[FieldNoRiskContact] == "true"
	d.RiskLevel = ClassifyRisk(d)
	return d
}

func requirementsMet(requires, resolved map[string]string) bool {
	for field, want := range requires {
		if resolved[field] != want {
			return false
		}
	}
	return true
}

func optional(resolved map[string]string, name string) *string {
	v, ok := resolved[name]
	if !ok {
		return nil
	}
	return &v
}

func (e *Extractor) resolveField(fm fieldMatcher, answers map[models.QuestionKey]string, transcript string) (string, bool) {
	for _, q := range fm.questions {
		answer, ok := answers[q]
		if !ok {
			continue
		}
		if v, ok := matchScoped(fm, q, strings.ToLower(answer)); ok {
			return v, true
		}
	}
	for _, vm := range fm.values {
		if anyMatch(vm.patterns, transcript) {
			return vm.value, true
		}
	}
	return "", false
}

func matchScoped(fm fieldMatcher, q models.QuestionKey, answer string) (string, bool) {
	for _, vm := range fm.values {
		if anyMatch(vm.answers[q], answer) || anyMatch(vm.patterns, answer) {
			return vm.value, true
		}
	}
	return "", false
}

// ClassifyAnswer classifies a single answer to question q for the given field,
// without looking at the rest of the transcript. Unknown fields never match.
func (e *Extractor) ClassifyAnswer(field string, q models.QuestionKey, answer string) (string, bool) {
	fm, ok := e.fields[field]
	if !ok {
		return "", false
	}
	return matchScoped(fm, q, strings.ToLower(answer))
}

// IsAffirmative reports whether an answer starts as a "yes".
func (e *Extractor) IsAffirmative(answer string) bool {
	return anyMatch(e.affirmative, strings.ToLower(answer))
}

// timeSince reads the time since exposure from the timeSince answer. When that
// answer is missing or unparseable only explicit durations and range keywords
// elsewhere in the log count; relative phrases like "today" are read from the
// timeSince answer or from free text alone.
func (e *Extractor) timeSince(answers map[models.QuestionKey]string, transcript string) (float64, bool) {
	if answers == nil {
		return e.HoursSince(transcript)
	}
	if a, ok := answers[models.KeyTimeSince]; ok {
		if h, ok := e.HoursSince(a); ok {
			return h, true
		}
	}
	return e.hoursSince(transcript, false)
}

// HoursSince parses the time since exposure from text. Precedence: an explicit
// number of minutes, hours or days, then a relative phrase, then a range
// keyword mapped to its proxy value. Range expressions are removed before the
// explicit parse so their bounds are not read as point values.
func (e *Extractor) HoursSince(text string) (float64, bool) {
	return e.hoursSince(text, true)
}

func (e *Extractor) hoursSince(text string, relative bool) (float64, bool) {
	lower := strings.ToLower(text)

	bucketHours, bucketFound := 0.0, false
	for _, b := range e.buckets {
		for _, re := range b.patterns {
			if !re.MatchString(lower) {
				continue
			}
			if !bucketFound {
				bucketHours, bucketFound = b.hours, true
			}
			lower = re.ReplaceAllString(lower, " ")
		}
	}

	if h, ok := e.explicitHours(lower); ok {
		return h, true
	}
	if relative {
		for _, r := range e.relative {
			if anyMatch(r.patterns, lower) {
				return r.hours, true
			}
		}
	}
	if bucketFound {
		return bucketHours, true
	}
	return 0, false
}

// explicitHours returns the earliest explicit duration in the text, in hours.
func (e *Extractor) explicitHours(lower string) (float64, bool) {
	best, found, bestAt := 0.0, false, -1
	for _, unit := range []struct {
		re    *regexp.Regexp
		scale float64
	}{
		{e.minutes, 1.0 / 60},
		{e.hours, 1},
		{e.days, 24},
	} {
		m := unit.re.FindStringSubmatchIndex(lower)
		if m == nil || (found && m[0] >= bestAt) {
			continue
		}
		n, err := strconv.ParseFloat(strings.ReplaceAll(lower[m[2]:m[3]], ",", "."), 64)
		if err != nil {
			continue
		}
		best, found, bestAt = n*unit.scale, true, m[0]
	}
	return best, found
}
