package consult

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/clinic"
	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/session"
	"github.com/BTreeMap/TriagePipe/internal/speech"
	"github.com/BTreeMap/TriagePipe/internal/store"
	"github.com/BTreeMap/TriagePipe/internal/testutil"
	"github.com/BTreeMap/TriagePipe/internal/triage"
	"github.com/openai/openai-go"
)

type fakeGenerator struct {
	mu     sync.Mutex
	errs   []error
	answer string
	calls  int
	msgs   []openai.ChatCompletionMessageParamUnion
}

func (f *fakeGenerator) GenerateWithMessages(ctx context.Context, msgs []openai.ChatCompletionMessageParamUnion) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.msgs = msgs
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", err
	}
	return f.answer, nil
}

type failingDirectory struct{}

func (failingDirectory) Clinics(ctx context.Context, cc string) ([]models.Clinic, error) {
	return nil, errors.New("directory offline")
}

var testClinics = []models.Clinic{
	{ID: "a", Name: "Allgood Clinic", CountryCode: "US", OffersPEP: false, Open24x7: true},
	{ID: "b", Name: "Bayview Health", CountryCode: "US", OffersPEP: true, LGBTQIAFriendly: 2},
	{ID: "c", Name: "Castro Center", CountryCode: "US", OffersPEP: true, LGBTQIAFriendly: 5},
	{ID: "m", Name: "Madrid Salud", CountryCode: "ES", OffersPEP: true},
}

var highRiskAnswers = map[models.QuestionKey]string{
	models.KeyTimeSince:    "18 hours ago",
	models.KeyExposureType: "anal sex",
	models.KeySexualRole:   "I was the bottom",
	models.KeyCondomUsed:   "no",
	models.KeyOnPrep:       "no",
	models.KeyKnownStatus:  "no",
	models.KeySymptoms:     "no",
	models.KeyIdentity:     "yes",
}

var lowRiskAnswers = map[models.QuestionKey]string{
	models.KeyTimeSince:          "2 days ago",
	models.KeyExposureType:       "oral sex",
	models.KeyCondomUsed:         "yes, we used one",
	models.KeyOnPrep:             "no",
	models.KeyKnownStatus:        "yes",
	models.KeyPartnerStatus:      "she's negative",
	models.KeySymptoms:           "no",
	models.KeyIdentity:           "no",
	models.KeySexualRole:         "no",
	models.KeyPartnerOnTreatment: "no",
}

// completedSession answers every question the flow asks from answers and
// classifies each answer into the journey.
func completedSession(t *testing.T, locale string, answers map[models.QuestionKey]string) *session.Session {
	t.Helper()
	sess, err := testutil.NewSessionStore().Create(locale, "US")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	testutil.CompleteFlow(t, sess, answers)
	return sess
}

func fastRetry() speech.RetryPolicy {
	return speech.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
}

func TestFinalize_ConsultAnswer(t *testing.T) {
	sess := completedSession(t, "en", highRiskAnswers)
	gen := &fakeGenerator{answer: "Go to Castro Center now and ask for PEP."}
	outcomes := store.NewInMemoryStore()
	svc := NewService(
		WithGenerator(gen),
		WithDirectory(clinic.NewStaticDirectory(testClinics)),
		WithOutcomeRecorder(outcomes),
		WithRetryPolicy(fastRetry()),
		WithShortlistSize(2),
	)

	res, err := svc.Finalize(context.Background(), sess)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if res.UsedFallback || res.Answer != gen.answer {
		t.Errorf("result = %+v, want the model answer", res)
	}
	if res.Triage.Risk() != models.RiskHigh || res.Urgency.Label != models.UrgencyCritical {
		t.Errorf("risk %s urgency %s, want high / critical", res.Triage.Risk(), res.Urgency.Label)
	}
	if len(res.Clinics) != 2 || res.Clinics[0].ID != "c" || res.Clinics[1].ID != "b" {
		t.Errorf("shortlist = %+v, want c then b", res.Clinics)
	}

	// system + two messages per answered question + closing request
	if want := 2 + 2*len(sess.Flow.Log()); len(gen.msgs) != want {
		t.Errorf("sent %d messages, want %d", len(gen.msgs), want)
	}

	saved, _ := outcomes.ListOutcomes(0)
	if len(saved) != 1 {
		t.Fatalf("saved %d outcomes, want 1", len(saved))
	}
	o := saved[0]
	if o.SessionID != sess.ID || o.RiskLevel != "high" || o.TimeBucket != "<24" || o.UsedFallback || o.QuestionsAsked != len(sess.Flow.Log()) {
		t.Errorf("outcome = %+v", o)
	}
	if !strings.HasPrefix(o.ID, "oc_") {
		t.Errorf("outcome id = %q", o.ID)
	}
}

func TestFinalize_LowRiskFallbackOnConsultFailure(t *testing.T) {
	sess := completedSession(t, "en", lowRiskAnswers)
	gen := &fakeGenerator{errs: []error{speech.ErrTransient, speech.ErrTransient, speech.ErrTransient}}
	svc := NewService(WithGenerator(gen), WithRetryPolicy(fastRetry()))

	res, err := svc.Finalize(context.Background(), sess)
	if err != nil {
		t.Fatalf("Finalize must not fail on consult errors: %v", err)
	}
	if gen.calls != 3 {
		t.Errorf("consult called %d times, want 3", gen.calls)
	}
	if res.Triage.Risk() != models.RiskLow {
		t.Errorf("risk = %q, want low", res.Triage.Risk())
	}
	if res.Urgency.Label.Escalated() {
		t.Errorf("urgency %s should not escalate", res.Urgency.Label)
	}
	if !res.UsedFallback {
		t.Error("expected fallback")
	}
	for _, want := range []string{"nearest clinic", "6 weeks", "3 months"} {
		if !strings.Contains(res.Answer, want) {
			t.Errorf("fallback %q missing %q", res.Answer, want)
		}
	}
}

func TestFinalize_RateLimitIsNotRetried(t *testing.T) {
	sess := completedSession(t, "es", highRiskAnswers)
	gen := &fakeGenerator{errs: []error{speech.ErrRateLimited}}
	svc := NewService(WithGenerator(gen), WithRetryPolicy(fastRetry()))

	res, err := svc.Finalize(context.Background(), sess)
	if err != nil {
		t.Fatal(err)
	}
	if gen.calls != 1 {
		t.Errorf("consult called %d times, want 1", gen.calls)
	}
	if !res.UsedFallback || !strings.Contains(res.Answer, "72 horas") {
		t.Errorf("expected Spanish fallback, got %q", res.Answer)
	}
}

func TestFinalize_NoGeneratorAndDirectoryDown(t *testing.T) {
	sess := completedSession(t, "en", highRiskAnswers)
	svc := NewService(WithDirectory(failingDirectory{}))
	res, err := svc.Finalize(context.Background(), sess)
	if err != nil {
		t.Fatal(err)
	}
	if !res.UsedFallback || len(res.Clinics) != 0 {
		t.Errorf("result = %+v, want fallback with no clinics", res)
	}
}

func TestPrepare_CanceledContext(t *testing.T) {
	sess := completedSession(t, "en", highRiskAnswers)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := NewService(WithDirectory(clinic.NewStaticDirectory(testClinics)))
	if _, err := svc.Prepare(ctx, sess); !errors.Is(err, context.Canceled) {
		t.Errorf("Prepare err = %v, want context.Canceled", err)
	}
}

func TestPriorTurns(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	turns := PriorTurns([]models.LogEntry{
		{Key: models.KeyTimeSince, QuestionText: "When?", AnswerText: "today", Timestamp: ts},
	})
	if len(turns) != 2 || turns[0].Role != "assistant" || turns[0].Content != "When?" || turns[1].Role != "user" || turns[1].Content != "today" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestFallback(t *testing.T) {
	hours := func(h float64) *float64 { return &h }
	risk := func(r models.RiskLevel) *models.RiskLevel { return &r }
	tests := []struct {
		name   string
		data   models.TriageData
		locale models.Locale
		want   []string
	}{
		{
			name: "critical",
			data: models.TriageData{TimeSinceHours: hours(18), RiskLevel: risk(models.RiskHigh)},
			want: []string{"about 54 hours left", "nearest clinic", "6 weeks"},
		},
		{
			name: "time unknown",
			data: models.TriageData{RiskLevel: risk(models.RiskModerate)},
			want: []string{"within 72 hours", "nearest clinic"},
		},
		{
			name: "window closed",
			data: models.TriageData{TimeSinceHours: hours(100), RiskLevel: risk(models.RiskHigh)},
			want: []string{"no longer effective", "3 months"},
		},
		{
			name: "no risk",
			data: models.TriageData{NoRiskContact: true, RiskLevel: risk(models.RiskNone)},
			want: []string{"not needed"},
		},
		{
			name: "injury",
			data: models.TriageData{HasInjury: true},
			want: []string{"in-person care", "clinician can confirm"},
		},
		{
			name:   "spanish",
			data:   models.TriageData{TimeSinceHours: hours(30), RiskLevel: risk(models.RiskModerate)},
			locale: models.LocaleSpanish,
			want:   []string{"unas 42 horas", "6 semanas", "3 meses"},
		},
		{
			name:   "unknown locale falls back to english",
			data:   models.TriageData{},
			locale: "fr",
			want:   []string{"nearest clinic"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locale := tt.locale
			if locale == "" {
				locale = models.LocaleEnglish
			}
			got := Fallback(tt.data, triage.Assess(tt.data), locale)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Fallback = %q, missing %q", got, w)
				}
			}
		})
	}
}
