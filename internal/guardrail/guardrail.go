// Package guardrail scans answers for danger and self-harm language that must
// interrupt the triage flow.
package guardrail

import (
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var keywordsYAML []byte

// Family is a group of guardrail keywords.
type Family string

const (
	FamilySelfHarm Family = "selfHarm"
	FamilyDanger   Family = "danger"
)

// checkOrder puts self-harm first so its message wins when both match.
var checkOrder = []Family{FamilySelfHarm, FamilyDanger}

// negationWindow is how many words before a keyword a negation may appear in.
const negationWindow = 2

const clauseBreaks = ".,;:!?¿¡\n"

// Table is the versioned keyword and message data.
type Table struct {
	Version  int                    `yaml:"version"`
	Families map[Family]FamilyTable `yaml:"families"`
}

// FamilyTable holds one family's per-locale keywords and safety messages.
// Negations, when present, let an answer deny a keyword ("no bleeding").
type FamilyTable struct {
	Keywords  map[models.Locale][]string `yaml:"keywords"`
	Negations map[models.Locale][]string `yaml:"negations"`
	Messages  map[models.Locale]string   `yaml:"messages"`
}

// Hit describes a guardrail match.
type Hit struct {
	Family  Family `json:"family"`
	Keyword string `json:"keyword"`
	Message string `json:"message"`
}

var defaultTable Table

func init() {
	if err := yaml.Unmarshal(keywordsYAML, &defaultTable); err != nil {
		panic(fmt.Sprintf("failed to parse embedded guardrail keywords: %v", err))
	}
}

// DefaultTable returns the embedded guardrail table.
func DefaultTable() Table {
	return defaultTable
}

type compiledFamily struct {
	re        *regexp.Regexp
	negations map[string]bool
	messages  map[models.Locale]string
}

// Monitor is a stateless scanner; it is safe for concurrent use.
type Monitor struct {
	version  int
	families map[Family]compiledFamily
}

// NewMonitor compiles a guardrail table. Every family in the check order must
// have keywords and an English message.
func NewMonitor(table Table) (*Monitor, error) {
	m := &Monitor{version: table.Version, families: make(map[Family]compiledFamily)}
	for _, f := range checkOrder {
		ft, ok := table.Families[f]
		if !ok {
			return nil, fmt.Errorf("guardrail table has no %s family", f)
		}
		if ft.Messages[models.DefaultLocale] == "" {
			return nil, fmt.Errorf("guardrail family %s has no %s message", f, models.DefaultLocale)
		}
		var alts []string
		for _, kws := range ft.Keywords {
			for _, kw := range kws {
				kw = strings.ToLower(strings.TrimSpace(kw))
				if kw != "" {
					alts = append(alts, regexp.QuoteMeta(kw))
				}
			}
		}
		if len(alts) == 0 {
			return nil, fmt.Errorf("guardrail family %s has no keywords", f)
		}
		// Letters on either side mean the keyword is part of a longer word.
		re, err := regexp.Compile(`(?i)(?:^|[^\p{L}])(` + strings.Join(alts, "|") + `)(?:$|[^\p{L}])`)
		if err != nil {
			return nil, fmt.Errorf("guardrail family %s: %w", f, err)
		}
		negations := make(map[string]bool)
		for _, words := range ft.Negations {
			for _, w := range words {
				if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
					negations[w] = true
				}
			}
		}
		m.families[f] = compiledFamily{re: re, negations: negations, messages: ft.Messages}
	}
	return m, nil
}

// NewDefaultMonitor returns a monitor over the embedded table.
func NewDefaultMonitor() *Monitor {
	m, err := NewMonitor(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("embedded guardrail table is invalid: %v", err))
	}
	return m
}

// Version returns the table version.
func (m *Monitor) Version() int {
	return m.version
}

// Check scans one raw answer. Keywords of all locales are matched; the safety
// message is in the given locale, falling back to English. A keyword denied by a
// negation in the same clause does not count.
func (m *Monitor) Check(text string, locale models.Locale) (Hit, bool) {
	lower := strings.ReplaceAll(strings.ToLower(text), "’", "'")
	for _, f := range checkOrder {
		cf := m.families[f]
		keyword, ok := cf.find(lower)
		if !ok {
			continue
		}
		hit := Hit{Family: f, Keyword: keyword, Message: m.message(cf, locale)}
		slog.Info("Monitor.Check: guardrail triggered", "family", f, "locale", locale)
		return hit, true
	}
	return Hit{}, false
}

// find returns the first keyword in lower that is not negated.
func (cf compiledFamily) find(lower string) (string, bool) {
	for pos := 0; pos < len(lower); {
		loc := cf.re.FindStringSubmatchIndex(lower[pos:])
		if loc == nil {
			return "", false
		}
		start, end := pos+loc[2], pos+loc[3]
		if !cf.negated(lower[:start]) {
			return lower[start:end], true
		}
		slog.Debug("compiledFamily.find: negated keyword skipped", "keyword", lower[start:end])
		pos = end
	}
	return "", false
}

// negated reports whether one of the last negationWindow words of the clause
// ending at before is a negation.
func (cf compiledFamily) negated(before string) bool {
	if len(cf.negations) == 0 {
		return false
	}
	if i := strings.LastIndexAny(before, clauseBreaks); i >= 0 {
		before = before[i+1:]
	}
	words := strings.FieldsFunc(before, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	for i := len(words) - 1; i >= 0 && i >= len(words)-negationWindow; i-- {
		if cf.negations[words[i]] {
			return true
		}
	}
	return false
}

// Message returns a family's safety message in the given locale.
func (m *Monitor) Message(f Family, locale models.Locale) string {
	cf, ok := m.families[f]
	if !ok {
		return ""
	}
	return m.message(cf, locale)
}

func (m *Monitor) message(cf compiledFamily, locale models.Locale) string {
	if msg, ok := cf.messages[models.NormalizeLocale(string(locale))]; ok && msg != "" {
		return msg
	}
	return cf.messages[models.DefaultLocale]
}
