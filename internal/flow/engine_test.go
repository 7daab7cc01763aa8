package flow

import (
	"errors"
	"testing"

	"github.com/BTreeMap/TriagePipe/internal/guardrail"
	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/triage"
	"github.com/google/go-cmp/cmp"
)

func newDefaultEngine(locale models.Locale) *Engine {
	return NewEngine(DefaultCatalog(triage.NewDefaultExtractor()), guardrail.NewDefaultMonitor(), locale)
}

func mustStart(t *testing.T, e *Engine) Question {
	t.Helper()
	q, err := e.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return q
}

func mustSubmit(t *testing.T, e *Engine, answer string) Step {
	t.Helper()
	step, err := e.Submit(answer)
	if err != nil {
		t.Fatalf("Submit(%q): %v", answer, err)
	}
	return step
}

func TestEngine_StartSelectsUnconditionalQuestions(t *testing.T) {
	e := newDefaultEngine(models.LocaleEnglish)
	first := mustStart(t, e)
	if first.Key != models.KeyTimeSince {
		t.Errorf("first question = %s, want timeSince", first.Key)
	}
	want := []models.QuestionKey{
		models.KeyTimeSince, models.KeyExposureType, models.KeyCondomUsed, models.KeyOnPrep,
		models.KeyKnownStatus, models.KeySymptoms, models.KeyIdentity,
	}
	if diff := cmp.Diff(want, e.ActiveKeys()); diff != "" {
		t.Errorf("active keys mismatch (-want +got):\n%s", diff)
	}
	if e.State() != models.StateAsking {
		t.Errorf("state = %s, want ASKING", e.State())
	}
	if _, err := e.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
}

func TestEngine_SubmitBeforeStart(t *testing.T) {
	e := newDefaultEngine(models.LocaleEnglish)
	if _, err := e.Submit("hello"); !errors.Is(err, ErrNotAsking) {
		t.Errorf("error = %v, want ErrNotAsking", err)
	}
}

func TestEngine_SubmitRejectsEmptyAnswer(t *testing.T) {
	e := newDefaultEngine(models.LocaleEnglish)
	mustStart(t, e)
	if _, err := e.Submit("   "); !errors.Is(err, models.ErrEmptyAnswer) {
		t.Errorf("error = %v, want ErrEmptyAnswer", err)
	}
	if len(e.Log()) != 0 {
		t.Error("rejected answer must not be logged")
	}
}

func TestEngine_FullFlowUnlocksFollowUps(t *testing.T) {
	e := newDefaultEngine(models.LocaleEnglish)
	mustStart(t, e)

	answers := []struct {
		answer string
		next   models.QuestionKey
	}{
		{"about 18 hours ago", models.KeyExposureType},
		{"anal", models.KeySexualRole},
		{"I was the bottom", models.KeyCondomUsed},
		{"no", models.KeyOnPrep},
		{"no", models.KeyKnownStatus},
		{"yes", models.KeyPartnerStatus},
		{"he is positive", models.KeyPartnerOnTreatment},
		{"I don't know", models.KeySymptoms},
		{"no", models.KeyIdentity},
	}
	lengths := []int{len(e.ActiveKeys())}
	for _, a := range answers {
		step := mustSubmit(t, e, a.answer)
		if step.Finalizing() {
			t.Fatalf("flow finalized early after %q", a.answer)
		}
		if step.Next.Key != a.next {
			t.Fatalf("after %q next = %s, want %s", a.answer, step.Next.Key, a.next)
		}
		lengths = append(lengths, len(e.ActiveKeys()))
	}
	for i := 1; i < len(lengths); i++ {
		if lengths[i] < lengths[i-1] {
			t.Fatalf("active question count shrank: %v", lengths)
		}
	}

	step := mustSubmit(t, e, "yes, gay")
	if !step.Finalizing() || step.Guardrail != nil {
		t.Fatalf("expected plain finalization, got %+v", step)
	}
	if e.State() != models.StateFinalizing {
		t.Errorf("state = %s, want FINALIZING", e.State())
	}
	if len(e.Log()) != 10 || len(e.Answers()) != 10 {
		t.Errorf("log/answers = %d/%d, want 10/10", len(e.Log()), len(e.Answers()))
	}
	if err := e.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if e.State() != models.StateDone {
		t.Errorf("state = %s, want DONE", e.State())
	}
}

func TestEngine_FollowUpsStayLockedWithoutTrigger(t *testing.T) {
	e := newDefaultEngine(models.LocaleSpanish)
	mustStart(t, e)
	for _, a := range []string{"hace 5 horas", "sexo oral", "sí", "no", "no", "no", "no"} {
		mustSubmit(t, e, a)
	}
	if e.State() != models.StateFinalizing {
		t.Fatalf("state = %s, want FINALIZING", e.State())
	}
	for _, k := range e.ActiveKeys() {
		switch k {
		case models.KeySexualRole, models.KeyPartnerStatus, models.KeyPartnerOnTreatment:
			t.Errorf("conditional question %s should not be active", k)
		}
	}
}

func TestEngine_GuardrailForcesFinalizing(t *testing.T) {
	for _, index := range []int{0, 1, 3} {
		e := newDefaultEngine(models.LocaleEnglish)
		mustStart(t, e)
		for i := 0; i < index; i++ {
			mustSubmit(t, e, "no")
		}
		before := len(e.ActiveKeys())
		step := mustSubmit(t, e, "there is a lot of bleeding")
		if !step.Finalizing() || step.Guardrail == nil {
			t.Fatalf("index %d: expected guardrail finalization, got %+v", index, step)
		}
		if step.Guardrail.Family != guardrail.FamilyDanger || step.Guardrail.Message == "" {
			t.Errorf("unexpected hit %+v", step.Guardrail)
		}
		if e.State() != models.StateFinalizing {
			t.Errorf("state = %s, want FINALIZING", e.State())
		}
		if got := len(e.ActiveKeys()); got != before {
			t.Errorf("guardrail answer must not recompute active questions: %d -> %d", before, got)
		}
		if log := e.Log(); len(log) != index+1 || log[index].AnswerText != "there is a lot of bleeding" {
			t.Errorf("guardrail answer should still be logged, log = %+v", log)
		}
		if _, ok := e.GuardrailHit(); !ok {
			t.Error("GuardrailHit should report the hit")
		}
		if _, err := e.Submit("more"); !errors.Is(err, ErrNotAsking) {
			t.Errorf("submit after guardrail error = %v, want ErrNotAsking", err)
		}
	}
}

func TestEngine_AskedQuestionsAreNeverRemoved(t *testing.T) {
	gate := true
	catalog := []Question{
		{Key: "a", Prompt: map[models.Locale]string{models.LocaleEnglish: "A?"}},
		{Key: "b", Prompt: map[models.Locale]string{models.LocaleEnglish: "B?"}, Unlock: func(a Answers) bool {
			return gate && a["a"] == "yes"
		}},
		{Key: "c", Prompt: map[models.Locale]string{models.LocaleEnglish: "C?"}},
	}
	e := NewEngine(catalog, nil, models.LocaleEnglish)
	mustStart(t, e)
	if step := mustSubmit(t, e, "yes"); step.Next.Key != "b" {
		t.Fatalf("next = %s, want b", step.Next.Key)
	}
	gate = false
	if step := mustSubmit(t, e, "anything"); step.Next.Key != "c" {
		t.Fatalf("next = %s, want c", step.Next.Key)
	}
	want := []models.QuestionKey{"a", "b", "c"}
	if diff := cmp.Diff(want, e.ActiveKeys()); diff != "" {
		t.Errorf("asked question was removed (-want +got):\n%s", diff)
	}
	if !mustSubmit(t, e, "done").Finalizing() {
		t.Error("expected finalization after the last question")
	}
}

func TestEngine_EmptyCatalog(t *testing.T) {
	e := NewEngine([]Question{{Key: "x", Unlock: func(Answers) bool { return true }}}, nil, models.LocaleEnglish)
	if _, err := e.Start(); !errors.Is(err, ErrEmptyCatalog) {
		t.Errorf("error = %v, want ErrEmptyCatalog", err)
	}
}

func TestEngine_CompleteRequiresFinalizing(t *testing.T) {
	e := newDefaultEngine(models.LocaleEnglish)
	mustStart(t, e)
	if err := e.Complete(); !errors.Is(err, ErrNotFinalizing) {
		t.Errorf("error = %v, want ErrNotFinalizing", err)
	}
}

func TestQuestion_Localization(t *testing.T) {
	q := DefaultCatalog(triage.NewDefaultExtractor())[0]
	if q.PromptFor(models.LocaleSpanish) == q.PromptFor(models.LocaleEnglish) {
		t.Error("expected distinct Spanish prompt")
	}
	if q.PromptFor("fr") != q.PromptFor(models.LocaleEnglish) {
		t.Error("unknown locale should fall back to English")
	}
	want := q.PromptFor(models.LocaleEnglish) + " " + q.ContextFor(models.LocaleEnglish)
	if q.Utterance(models.LocaleEnglish) != want {
		t.Errorf("utterance = %q, want %q", q.Utterance(models.LocaleEnglish), want)
	}
	condom := DefaultCatalog(triage.NewDefaultExtractor())[3]
	if condom.Key != models.KeyCondomUsed {
		t.Fatalf("unexpected catalog order, got %s", condom.Key)
	}
	exposure := DefaultCatalog(triage.NewDefaultExtractor())[1]
	if exposure.Utterance(models.LocaleEnglish) != exposure.PromptFor(models.LocaleEnglish) {
		t.Error("utterance without context should equal the prompt")
	}
}
