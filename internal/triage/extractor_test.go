package triage

import (
	"math"
	"testing"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/google/go-cmp/cmp"
)

func ptr[T any](v T) *T { return &v }

func entry(key models.QuestionKey, answer string) models.LogEntry {
	return models.LogEntry{Key: key, QuestionText: "question " + string(key), AnswerText: answer, Timestamp: time.Unix(0, 0)}
}

func TestDefaultPatterns_Compile(t *testing.T) {
	table := DefaultPatterns()
	if table.Version == 0 {
		t.Error("expected a non-zero pattern table version")
	}
	e, err := NewExtractor(table)
	if err != nil {
		t.Fatalf("embedded patterns do not compile: %v", err)
	}
	if e.Version() != table.Version {
		t.Errorf("version = %d, want %d", e.Version(), table.Version)
	}
}

func TestNewExtractor_MissingField(t *testing.T) {
	table := DefaultPatterns()
	fields := make(map[string]FieldTable, len(table.Fields))
	for k, v := range table.Fields {
		if k != FieldSexualRole {
			fields[k] = v
		}
	}
	table.Fields = fields
	if _, err := NewExtractor(table); err == nil {
		t.Fatal("expected error for a table without sexualRole")
	}
}

func TestNewExtractor_InvalidPattern(t *testing.T) {
	table := DefaultPatterns()
	table.Answers.Affirmative = []string{"(unclosed"}
	if _, err := NewExtractor(table); err == nil {
		t.Fatal("expected error for an invalid pattern")
	}
}

func TestHoursSince(t *testing.T) {
	e := NewDefaultExtractor()
	tests := []struct {
		text string
		want float64
		ok   bool
	}{
		{"18 hours ago", 18, true},
		{"48 hours ago", 48, true},
		{"about 2 days ago", 48, true},
		{"1.5 days", 36, true},
		{"30 minutes ago", 0.5, true},
		{"hace 18 horas", 18, true},
		{"hace 2 días", 48, true},
		{"yesterday", 24, true},
		{"ayer por la noche", 24, true},
		{"anteayer", 48, true},
		{"two days ago", 48, true},
		{"three days ago", 72, true},
		{"just now", 1, true},
		{"today after lunch", 1, true},
		{"less than 24 hours", 12, true},
		{"between 24 and 48 hours", 36, true},
		{"48-72h", 60, true},
		{"more than 72 hours", 80, true},
		{"more than 3 days", 80, true},
		{"menos de 24 horas", 12, true},
		{"I'm terrified right now", 0, false},
		{"I don't know", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := e.HoursSince(tt.text)
			if ok != tt.ok {
				t.Fatalf("HoursSince(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("HoursSince(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtract_FortyEightHoursIsSecondBucket(t *testing.T) {
	d := NewDefaultExtractor().Extract([]models.LogEntry{entry(models.KeyTimeSince, "48 hours ago")})
	if d.TimeSinceHours == nil || *d.TimeSinceHours != 48 {
		t.Fatalf("hours = %v, want 48", d.TimeSinceHours)
	}
	if d.TimeSinceBucket == nil || *d.TimeSinceBucket != models.Bucket48To72 {
		t.Errorf("bucket = %v, want %s", d.TimeSinceBucket, models.Bucket48To72)
	}
}

func TestBucketForHours_Boundaries(t *testing.T) {
	tests := []struct {
		hours float64
		want  models.TimeBucket
	}{
		{0, models.BucketUnder24},
		{23.9, models.BucketUnder24},
		{24, models.Bucket24To48},
		{47.9, models.Bucket24To48},
		{48, models.Bucket48To72},
		{71.9, models.Bucket48To72},
		{72, models.BucketOver72},
		{500, models.BucketOver72},
	}
	for _, tt := range tests {
		if got := models.BucketForHours(tt.hours); got != tt.want {
			t.Errorf("BucketForHours(%v) = %s, want %s", tt.hours, got, tt.want)
		}
	}
}

func TestExtract_EndToEndHighRisk(t *testing.T) {
	log := []models.LogEntry{
		entry(models.KeyTimeSince, "18 hours ago"),
		entry(models.KeyExposureType, "anal"),
		entry(models.KeyCondomUsed, "no"),
		entry(models.KeyOnPrep, "no"),
		entry(models.KeyKnownStatus, "no"),
	}
	got := NewDefaultExtractor().Extract(log)
	want := models.TriageData{
		TimeSinceHours:  ptr(18.0),
		TimeSinceBucket: ptr(models.BucketUnder24),
		ExposureType:    ptr(models.ExposureAnal),
		CondomUsed:      ptr(models.CondomNo),
		OnPrep:          ptr(models.PrepNo),
		PartnerStatus:   ptr(models.PartnerUnknown),
		RiskLevel:       ptr(models.RiskHigh),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Extract mismatch (-want +got):\n%s", diff)
	}

	u := Assess(got)
	if u.Label != models.UrgencyCritical {
		t.Errorf("urgency = %s, want %s", u.Label, models.UrgencyCritical)
	}
	if u.HoursRemaining == nil || *u.HoursRemaining != 54 {
		t.Errorf("hours remaining = %v, want 54", u.HoursRemaining)
	}
}

func TestExtract_EndToEndLowRisk(t *testing.T) {
	log := []models.LogEntry{
		entry(models.KeyExposureType, "oral sex"),
		entry(models.KeyCondomUsed, "yes, we used one"),
		entry(models.KeyKnownStatus, "yes"),
		entry(models.KeyPartnerStatus, "she's negative"),
	}
	got := NewDefaultExtractor().Extract(log)
	if got.Risk() != models.RiskLow {
		t.Fatalf("risk = %q, want low", got.Risk())
	}
	if !models.Is(got.CondomUsed, models.CondomYes) || !models.Is(got.PartnerStatus, models.PartnerNegative) {
		t.Errorf("unexpected facts %+v", got)
	}
	if u := Assess(got); u.Label.Escalated() {
		t.Errorf("urgency %s should not be escalated", u.Label)
	}
}

func TestExtract_QuestionTextIsIgnored(t *testing.T) {
	log := []models.LogEntry{{
		Key:          models.KeyExposureType,
		QuestionText: "Was it oral, vaginal, or anal sex, or did you share needles?",
		AnswerText:   "oral",
	}}
	d := NewDefaultExtractor().Extract(log)
	if !models.Is(d.ExposureType, models.ExposureOral) {
		t.Errorf("exposure = %v, want oral", d.ExposureType)
	}
}

func TestExtract_LatestAnswerWins(t *testing.T) {
	log := []models.LogEntry{
		entry(models.KeyTimeSince, "yesterday"),
		entry(models.KeyTimeSince, "actually 10 hours ago"),
	}
	d := NewDefaultExtractor().Extract(log)
	if d.TimeSinceHours == nil || *d.TimeSinceHours != 10 {
		t.Errorf("hours = %v, want 10", d.TimeSinceHours)
	}
}

func TestExtract_NegatedProtectionIsUnprotected(t *testing.T) {
	log := []models.LogEntry{
		entry(models.KeyTimeSince, "10 hours ago"),
		entry(models.KeyExposureType, "anal"),
		entry(models.KeySexualRole, "bottom"),
		entry(models.KeyCondomUsed, "honestly we were not protected"),
		entry(models.KeyOnPrep, "no"),
	}
	d := NewDefaultExtractor().Extract(log)
	if !models.Is(d.CondomUsed, models.CondomNo) {
		t.Fatalf("condom = %v, want no", d.CondomUsed)
	}
	if d.Risk() != models.RiskHigh {
		t.Errorf("risk = %q, want high", d.Risk())
	}
	if u := Assess(d); u.Label != models.UrgencyCritical {
		t.Errorf("urgency = %s, want %s", u.Label, models.UrgencyCritical)
	}
}

func TestExtract_RelativeTimeOnlyFromTimeAnswer(t *testing.T) {
	e := NewDefaultExtractor()

	d := e.Extract([]models.LogEntry{
		entry(models.KeyTimeSince, "I'm not sure"),
		entry(models.KeySymptoms, "no, but today I'm terrified"),
	})
	if d.TimeSinceHours != nil {
		t.Errorf("hours = %v, want undetermined", *d.TimeSinceHours)
	}

	d = e.Extract([]models.LogEntry{
		entry(models.KeyTimeSince, "not sure"),
		entry(models.KeyExposureType, "anal, about 30 hours ago"),
	})
	if d.TimeSinceHours == nil || *d.TimeSinceHours != 30 {
		t.Errorf("hours = %v, want 30 from the explicit duration", d.TimeSinceHours)
	}
}

func TestExtract_MissingAnswersStayNull(t *testing.T) {
	d := NewDefaultExtractor().Extract([]models.LogEntry{entry(models.KeyExposureType, "anal")})
	if d.CondomUsed != nil || d.OnPrep != nil || d.TimeSinceHours != nil {
		t.Errorf("expected undetermined fields to stay nil, got %+v", d)
	}
	if d.RiskLevel != nil {
		t.Errorf("risk = %s, want undetermined", *d.RiskLevel)
	}
}

func TestExtractText(t *testing.T) {
	e := NewDefaultExtractor()
	tests := []struct {
		name string
		text string
		want models.TriageData
	}{
		{
			name: "spanish receptive anal without condom",
			text: "hace 10 horas tuve sexo anal sin condón, no tomo prep",
			want: models.TriageData{
				TimeSinceHours:  ptr(10.0),
				TimeSinceBucket: ptr(models.BucketUnder24),
				ExposureType:    ptr(models.ExposureAnal),
				CondomUsed:      ptr(models.CondomNo),
				OnPrep:          ptr(models.PrepNo),
				RiskLevel:       ptr(models.RiskHigh),
			},
		},
		{
			name: "broken condom vaginal",
			text: "the condom broke during vaginal sex 2 days ago",
			want: models.TriageData{
				TimeSinceHours:  ptr(48.0),
				TimeSinceBucket: ptr(models.Bucket48To72),
				ExposureType:    ptr(models.ExposureVaginal),
				CondomUsed:      ptr(models.CondomBroken),
				RiskLevel:       ptr(models.RiskModerate),
			},
		},
		{
			name: "treatment ignored unless partner positive",
			text: "my partner is negative and undetectable",
			want: models.TriageData{
				PartnerStatus: ptr(models.PartnerNegative),
				RiskLevel:     ptr(models.RiskLow),
			},
		},
		{
			name: "undetectable positive partner",
			text: "my partner is hiv positive and undetectable, we had anal sex without a condom",
			want: models.TriageData{
				ExposureType:       ptr(models.ExposureAnal),
				CondomUsed:         ptr(models.CondomNo),
				PartnerStatus:      ptr(models.PartnerPositive),
				PartnerOnTreatment: ptr(models.TreatmentUndetectable),
				RiskLevel:          ptr(models.RiskLow),
			},
		},
		{
			name: "negated protection",
			text: "anal, we were not protected, not on prep, 10 hours ago",
			want: models.TriageData{
				TimeSinceHours:  ptr(10.0),
				TimeSinceBucket: ptr(models.BucketUnder24),
				ExposureType:    ptr(models.ExposureAnal),
				CondomUsed:      ptr(models.CondomNo),
				OnPrep:          ptr(models.PrepNo),
				RiskLevel:       ptr(models.RiskHigh),
			},
		},
		{
			name: "prep injection is not a needle exposure",
			text: "we had anal sex without a condom yesterday, I got my PrEP injection last week",
			want: models.TriageData{
				TimeSinceHours:  ptr(24.0),
				TimeSinceBucket: ptr(models.Bucket24To48),
				ExposureType:    ptr(models.ExposureAnal),
				CondomUsed:      ptr(models.CondomNo),
				OnPrep:          ptr(models.PrepYes),
				RiskLevel:       ptr(models.RiskLow),
			},
		},
		{
			name: "negated positive partner",
			text: "he was not positive, I think, vaginal unprotected",
			want: models.TriageData{
				ExposureType:  ptr(models.ExposureVaginal),
				CondomUsed:    ptr(models.CondomNo),
				PartnerStatus: ptr(models.PartnerNegative),
				RiskLevel:     ptr(models.RiskLow),
			},
		},
		{
			name: "unsure is not a status",
			text: "i'm not positive about his status",
			want: models.TriageData{
				PartnerStatus: ptr(models.PartnerUnknown),
			},
		},
		{
			name: "no risk contact",
			text: "we only kissed and hugged",
			want: models.TriageData{
				NoRiskContact: true,
				RiskLevel:     ptr(models.RiskNone),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, e.ExtractText(tt.text)); diff != "" {
				t.Errorf("ExtractText(%q) mismatch (-want +got):\n%s", tt.text, diff)
			}
		})
	}
}

func TestClassifyAnswer(t *testing.T) {
	e := NewDefaultExtractor()
	tests := []struct {
		field  string
		key    models.QuestionKey
		answer string
		want   string
		ok     bool
	}{
		{FieldExposureType, models.KeyExposureType, "Anal", models.ExposureAnal, true},
		{FieldExposureType, models.KeyExposureType, "we shared a needle", models.ExposureNeedle, true},
		{FieldCondomUsed, models.KeyCondomUsed, "No, it broke", models.CondomBroken, true},
		{FieldCondomUsed, models.KeyCondomUsed, "nope", models.CondomNo, true},
		{FieldCondomUsed, models.KeyCondomUsed, "honestly we were not protected", models.CondomNo, true},
		{FieldCondomUsed, models.KeyCondomUsed, "we didn't use a condom", models.CondomNo, true},
		{FieldCondomUsed, models.KeyCondomUsed, "we were protected", models.CondomYes, true},
		{FieldExposureType, models.KeyExposureType, "needles", models.ExposureNeedle, true},
		{FieldExposureType, models.KeyExposureType, "anal, and I get PrEP injections", models.ExposureAnal, true},
		{FieldPartnerStatus, models.KeyPartnerStatus, "he's not HIV positive", models.PartnerNegative, true},
		{FieldOnPrep, models.KeyOnPrep, "I'm not on PrEP", models.PrepNo, true},
		{FieldOnPrep, models.KeyOnPrep, "sí", models.PrepYes, true},
		{FieldPartnerStatus, models.KeyKnownStatus, "yes, he is positive", models.PartnerPositive, true},
		{FieldPartnerStatus, models.KeyKnownStatus, "no", models.PartnerUnknown, true},
		{FieldSexualRole, models.KeySexualRole, "I was the bottom", models.RoleReceptive, true},
		{FieldSexualRole, models.KeySexualRole, "both", models.RoleBoth, true},
		{FieldExposureType, models.KeyExposureType, "I'd rather not say", "", false},
		{"unknownField", models.KeyExposureType, "anal", "", false},
	}
	for _, tt := range tests {
		got, ok := e.ClassifyAnswer(tt.field, tt.key, tt.answer)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ClassifyAnswer(%s, %s, %q) = %q, %v; want %q, %v", tt.field, tt.key, tt.answer, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIsAffirmative(t *testing.T) {
	e := NewDefaultExtractor()
	for _, s := range []string{"yes", "Yeah I did", "sí, claro", "si"} {
		if !e.IsAffirmative(s) {
			t.Errorf("IsAffirmative(%q) = false", s)
		}
	}
	for _, s := range []string{"no", "Nope", "nothing happened", "maybe", "sin condón"} {
		if e.IsAffirmative(s) {
			t.Errorf("IsAffirmative(%q) = true", s)
		}
	}
}
