package guardrail

import (
	"testing"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

func TestCheck(t *testing.T) {
	m := NewDefaultMonitor()
	tests := []struct {
		name    string
		text    string
		locale  models.Locale
		family  Family
		keyword string
		hit     bool
	}{
		{"bleeding", "I'm still bleeding a bit", models.LocaleEnglish, FamilyDanger, "bleeding", true},
		{"emergency", "Is this an EMERGENCY?", models.LocaleEnglish, FamilyDanger, "emergency", true},
		{"police", "should I call the police", models.LocaleEnglish, FamilyDanger, "police", true},
		{"self harm phrase", "honestly I want to die", models.LocaleEnglish, FamilySelfHarm, "want to die", true},
		{"self harm wins over danger", "I'm bleeding and I want to kill myself", models.LocaleEnglish, FamilySelfHarm, "kill myself", true},
		{"spanish danger", "estoy sangrando", models.LocaleSpanish, FamilyDanger, "sangrando", true},
		{"spanish accented", "llamé a la policía", models.LocaleSpanish, FamilyDanger, "policía", true},
		{"spanish keyword in english session", "quiero morir", models.LocaleEnglish, FamilySelfHarm, "quiero morir", true},
		{"keyword inside a longer word", "the injuryless version", models.LocaleEnglish, "", "", false},
		{"ordinary answer", "about 18 hours ago, anal, no condom", models.LocaleEnglish, "", "", false},
		{"empty", "", models.LocaleEnglish, "", "", false},
		{"denied symptoms", "No bleeding, no injury", models.LocaleEnglish, "", "", false},
		{"denial with curly apostrophe", "I wasn’t injured", models.LocaleEnglish, "", "", false},
		{"denial stops at the clause", "no condom, and now I'm bleeding", models.LocaleEnglish, FamilyDanger, "bleeding", true},
		{"later keyword still counts", "not injured but I was raped", models.LocaleEnglish, FamilyDanger, "raped", true},
		{"negation too far back", "no condom and bleeding", models.LocaleEnglish, FamilyDanger, "bleeding", true},
		{"spanish denial", "no hay sangrado", models.LocaleSpanish, "", "", false},
		{"spanish sin", "sin sangrado ni dolor", models.LocaleSpanish, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hit, ok := m.Check(tt.text, tt.locale)
			if ok != tt.hit {
				t.Fatalf("Check(%q) hit = %v, want %v", tt.text, ok, tt.hit)
			}
			if !ok {
				return
			}
			if hit.Family != tt.family || hit.Keyword != tt.keyword {
				t.Errorf("Check(%q) = %s/%q, want %s/%q", tt.text, hit.Family, hit.Keyword, tt.family, tt.keyword)
			}
			if hit.Message != m.Message(tt.family, tt.locale) {
				t.Errorf("message not in session locale: %q", hit.Message)
			}
		})
	}
}

func TestCheck_SelfHarmIgnoresNegations(t *testing.T) {
	table := DefaultTable()
	if len(table.Families[FamilySelfHarm].Negations) != 0 {
		t.Fatal("self-harm keywords must not be deniable")
	}
	hit, ok := NewDefaultMonitor().Check("I don't want to die", models.LocaleEnglish)
	if !ok || hit.Family != FamilySelfHarm {
		t.Errorf("Check = %+v, %v; want a self-harm hit", hit, ok)
	}
}

func TestMessage_LocaleFallback(t *testing.T) {
	m := NewDefaultMonitor()
	en := m.Message(FamilyDanger, models.LocaleEnglish)
	es := m.Message(FamilyDanger, models.LocaleSpanish)
	if en == "" || es == "" || en == es {
		t.Fatalf("expected distinct en/es messages, got %q / %q", en, es)
	}
	if got := m.Message(FamilyDanger, "fr"); got != en {
		t.Errorf("unknown locale message = %q, want English", got)
	}
	if got := m.Message("unknown", models.LocaleEnglish); got != "" {
		t.Errorf("unknown family message = %q, want empty", got)
	}
}

func TestNewMonitor_Validation(t *testing.T) {
	if _, err := NewMonitor(Table{}); err == nil {
		t.Error("expected error for empty table")
	}
	table := Table{Families: map[Family]FamilyTable{
		FamilySelfHarm: {Keywords: map[models.Locale][]string{models.LocaleEnglish: {"x"}}},
		FamilyDanger:   {Keywords: map[models.Locale][]string{models.LocaleEnglish: {"y"}}, Messages: map[models.Locale]string{models.LocaleEnglish: "m"}},
	}}
	if _, err := NewMonitor(table); err == nil {
		t.Error("expected error for a family without an English message")
	}
	table.Families[FamilySelfHarm] = FamilyTable{Messages: map[models.Locale]string{models.LocaleEnglish: "m"}}
	if _, err := NewMonitor(table); err == nil {
		t.Error("expected error for a family without keywords")
	}
}

func TestDefaultTable_Version(t *testing.T) {
	if DefaultTable().Version == 0 || NewDefaultMonitor().Version() != DefaultTable().Version {
		t.Error("expected a non-zero, consistent table version")
	}
}
