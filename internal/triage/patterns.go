// Package triage extracts structured exposure facts from a session transcript and
// stratifies PEP risk and urgency from them.
package triage

import (
	_ "embed"
	"fmt"
	"regexp"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var patternsYAML []byte

// Field names as they appear in patterns.yaml.
const (
	FieldExposureType       = "exposureType"
	FieldCondomUsed         = "condomUsed"
	FieldOnPrep             = "onPrep"
	FieldPartnerStatus      = "partnerStatus"
	FieldPartnerOnTreatment = "partnerOnTreatment"
	FieldSexualRole         = "sexualRole"
	FieldLGBTQIAPlus        = "lgbtqiaPlus"
	FieldSTISymptoms        = "stiSymptoms"
	FieldHasInjury          = "hasInjury"
	FieldNoRiskContact      = "noRiskContact"
)

// fieldOrder is the evaluation order. Fields with requirements come after the
// fields they depend on.
var fieldOrder = []string{
	FieldExposureType,
	FieldCondomUsed,
	FieldOnPrep,
	FieldPartnerStatus,
	FieldPartnerOnTreatment,
	FieldSexualRole,
	FieldLGBTQIAPlus,
	FieldSTISymptoms,
	FieldHasInjury,
	FieldNoRiskContact,
}

// PatternTable is the versioned, data-only description of the extractor.
type PatternTable struct {
	Version int                   `yaml:"version"`
	Answers AnswerTable           `yaml:"answers"`
	Time    TimeTable             `yaml:"time"`
	Fields  map[string]FieldTable `yaml:"fields"`
}

// AnswerTable holds the generic yes/no answer patterns. Negative is only
// referenced from field rules through YAML anchors.
type AnswerTable struct {
	Affirmative []string `yaml:"affirmative"`
	Negative    []string `yaml:"negative"`
}

// TimeTable describes how the time since exposure is recognized.
type TimeTable struct {
	Buckets  []HoursRule `yaml:"buckets"`
	Explicit struct {
		Minutes string `yaml:"minutes"`
		Hours   string `yaml:"hours"`
		Days    string `yaml:"days"`
	} `yaml:"explicit"`
	Relative []HoursRule `yaml:"relative"`
}

// HoursRule maps any of its patterns to a fixed number of hours.
type HoursRule struct {
	Hours    float64  `yaml:"hours"`
	Patterns []string `yaml:"patterns"`
}

// FieldTable lists the ordered candidate values for one categorical field.
type FieldTable struct {
	Questions []models.QuestionKey `yaml:"questions"`
	Requires  map[string]string    `yaml:"requires"`
	Values    []ValueRule          `yaml:"values"`
}

// ValueRule matches one value. Answers are only tried against the answer to the
// named question; Patterns are tried against scoped answers and the transcript.
type ValueRule struct {
	Value    string                          `yaml:"value"`
	Answers  map[models.QuestionKey][]string `yaml:"answers"`
	Patterns []string                        `yaml:"patterns"`
}

var defaultPatterns PatternTable

func init() {
	if err := yaml.Unmarshal(patternsYAML, &defaultPatterns); err != nil {
		panic(fmt.Sprintf("failed to parse embedded triage patterns: %v", err))
	}
}

// DefaultPatterns returns the embedded pattern table.
func DefaultPatterns() PatternTable {
	return defaultPatterns
}

type hoursMatcher struct {
	hours    float64
	patterns []*regexp.Regexp
}

type valueMatcher struct {
	value    string
	answers  map[models.QuestionKey][]*regexp.Regexp
	patterns []*regexp.Regexp
}

type fieldMatcher struct {
	questions []models.QuestionKey
	requires  map[string]string
	values    []valueMatcher
}

func compileAll(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		re, err := regexp.Compile("(?i)" + e)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", e, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func compileHours(rules []HoursRule) ([]hoursMatcher, error) {
	out := make([]hoursMatcher, 0, len(rules))
	for _, r := range rules {
		res, err := compileAll(r.Patterns)
		if err != nil {
			return nil, err
		}
		out = append(out, hoursMatcher{hours: r.Hours, patterns: res})
	}
	return out, nil
}

func compileField(name string, ft FieldTable) (fieldMatcher, error) {
	fm := fieldMatcher{questions: ft.Questions, requires: ft.Requires}
	for _, v := range ft.Values {
		vm := valueMatcher{value: v.Value, answers: make(map[models.QuestionKey][]*regexp.Regexp)}
		var err error
		if vm.patterns, err = compileAll(v.Patterns); err != nil {
			return fm, fmt.Errorf("field %s value %s: %w", name, v.Value, err)
		}
		for q, exprs := range v.Answers {
			if vm.answers[q], err = compileAll(exprs); err != nil {
				return fm, fmt.Errorf("field %s value %s answers for %s: %w", name, v.Value, q, err)
			}
		}
		fm.values = append(fm.values, vm)
	}
	return fm, nil
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
