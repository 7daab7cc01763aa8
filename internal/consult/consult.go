// Package consult builds the consult request at the end of a triage session,
// asks the language model for guidance and falls back to deterministic
// guidance when the model cannot answer.
package consult

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/clinic"
	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/session"
	"github.com/BTreeMap/TriagePipe/internal/speech"
	"github.com/BTreeMap/TriagePipe/internal/store"
	"github.com/BTreeMap/TriagePipe/internal/tone"
	"github.com/BTreeMap/TriagePipe/internal/triage"
	"github.com/BTreeMap/TriagePipe/internal/util"
	"github.com/openai/openai-go"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds one consult call including retries.
const DefaultTimeout = 45 * time.Second

// SystemPrompt frames the consult model.
const SystemPrompt = `You are a compassionate sexual-health triage assistant helping someone after a possible HIV exposure.
You receive the conversation so far and a structured context with extracted triage facts, urgency notes and nearby clinics.
Give short, actionable guidance: whether PEP is indicated, how urgently to act, which listed clinic to go to, and the follow-up testing plan.
Never diagnose. Never invent clinics that are not in the context. Answer in the user's language (locale given in the context).`

// Generator is the language model the service consults.
type Generator interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// OutcomeRecorder persists anonymized outcomes.
type OutcomeRecorder interface {
	SaveOutcome(o store.Outcome) error
}

// Service finalizes triage sessions.
type Service struct {
	gen           Generator
	directory     clinic.Directory
	outcomes      OutcomeRecorder
	extractor     *triage.Extractor
	retry         speech.RetryPolicy
	shortlistSize int
	timeout       time.Duration
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithGenerator sets the consult model. Without one every consult uses the fallback.
func WithGenerator(g Generator) Option {
	return func(s *Service) { s.gen = g }
}

// WithDirectory sets the clinic directory.
func WithDirectory(d clinic.Directory) Option {
	return func(s *Service) { s.directory = d }
}

// WithOutcomeRecorder sets where anonymized outcomes are saved.
func WithOutcomeRecorder(r OutcomeRecorder) Option {
	return func(s *Service) { s.outcomes = r }
}

// WithExtractor overrides the triage extractor.
func WithExtractor(e *triage.Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

// WithRetryPolicy sets the retry budget for transient model failures.
func WithRetryPolicy(p speech.RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithShortlistSize sets how many clinics are embedded in the request.
func WithShortlistSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.shortlistSize = n
		}
	}
}

// WithTimeout bounds each consult call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService creates a consult service.
func NewService(opts ...Option) *Service {
	s := &Service{
		retry:         speech.DefaultRetryPolicy(),
		shortlistSize: clinic.DefaultShortlistSize,
		timeout:       DefaultTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extractor == nil {
		s.extractor = triage.NewDefaultExtractor()
	}
	return s
}

// Prepared is everything derived from a session before the model is called.
type Prepared struct {
	Request models.ConsultRequest
	Tone    models.Tone
}

// Prepare extracts the triage facts and loads the clinic snapshot concurrently,
// then ranks the clinics and derives urgency and tone. A failing directory
// yields an empty shortlist.
func (s *Service) Prepare(ctx context.Context, sess *session.Session) (Prepared, error) {
	log := sess.Flow.Log()

	var data models.TriageData
	var clinics []models.Clinic
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data = s.extractor.Extract(log)
		return nil
	})
	g.Go(func() error {
		if s.directory == nil {
			return nil
		}
		list, err := s.directory.Clinics(gctx, sess.CountryCode)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			slog.Warn("Service.Prepare: clinic directory failed, continuing without clinics", "sessionID", sess.ID, "error", err)
			return nil
		}
		clinics = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return Prepared{}, err
	}

	shortlist := clinic.Shortlist(clinics, data.LGBTQIAPlus, s.shortlistSize)
	urgency := triage.Assess(data)
	trend := sess.Journey.Trend()
	t := models.ToneProfessional
	if latest, ok := sess.Journey.Latest(); ok {
		t = latest.SuggestedTone
	}
	if t == models.ToneProfessional && urgency.Label.Escalated() {
		t = models.ToneUrgent
	}

	var guard string
	if hit, ok := sess.Flow.GuardrailHit(); ok {
		guard = string(hit.Family)
	}

	req := models.ConsultRequest{
		SessionID:  sess.ID,
		PriorTurns: PriorTurns(log),
		StructuredContext: models.ConsultContext{
			Triage:    data,
			Urgency:   urgency,
			Clinics:   shortlist,
			Trend:     trend,
			Tone:      t,
			Guardrail: guard,
		},
		Locale:      sess.Locale,
		CountryCode: sess.CountryCode,
	}
	slog.Debug("Service.Prepare: request built", "sessionID", sess.ID, "turns", len(req.PriorTurns), "clinics", len(shortlist), "urgency", urgency.Label, "tone", t)
	return Prepared{Request: req, Tone: t}, nil
}

// PriorTurns turns the flow log into alternating assistant/user messages.
func PriorTurns(log []models.LogEntry) []models.ConversationMessage {
	turns := make([]models.ConversationMessage, 0, 2*len(log))
	for _, entry := range log {
		turns = append(turns,
			models.ConversationMessage{Role: "assistant", Content: entry.QuestionText, Timestamp: entry.Timestamp},
			models.ConversationMessage{Role: "user", Content: entry.AnswerText, Timestamp: entry.Timestamp},
		)
	}
	return turns
}

// Messages renders a prepared request as a chat conversation: the system prompt
// with the tone guide and structured context, the prior turns, then a closing
// request for guidance.
func Messages(p Prepared) ([]openai.ChatCompletionMessageParamUnion, error) {
	ctxJSON, err := json.Marshal(struct {
		Locale      models.Locale         `json:"locale"`
		CountryCode string                `json:"countryCode"`
		Context     models.ConsultContext `json:"context"`
	}{p.Request.Locale, p.Request.CountryCode, p.Request.StructuredContext})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal consult context: %w", err)
	}

	system := SystemPrompt + tone.BuildToneGuide(p.Tone, p.Request.StructuredContext.Trend) +
		"\n<CONTEXT>\n" + string(ctxJSON) + "\n</CONTEXT>"
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(p.Request.PriorTurns)+2)
	msgs = append(msgs, openai.SystemMessage(system))
	for _, turn := range p.Request.PriorTurns {
		if turn.Role == "assistant" {
			msgs = append(msgs, openai.AssistantMessage(turn.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(turn.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(closingRequest(p.Request.Locale)))
	return msgs, nil
}

func closingRequest(locale models.Locale) string {
	if locale == models.LocaleSpanish {
		return "Con base en todo lo anterior, ¿qué debo hacer ahora?"
	}
	return "Based on everything above, what should I do now?"
}

// Finalize implements the turn controller's finalizer. Any consult failure is
// replaced by the deterministic fallback, so the returned error is non-nil only
// when ctx ends before the request could be built.
func (s *Service) Finalize(ctx context.Context, sess *session.Session) (models.ConsultResult, error) {
	p, err := s.Prepare(ctx, sess)
	if err != nil {
		return models.ConsultResult{}, err
	}
	ctxData := p.Request.StructuredContext
	result := models.ConsultResult{
		SessionID: sess.ID,
		Triage:    ctxData.Triage,
		Urgency:   ctxData.Urgency,
		Clinics:   ctxData.Clinics,
		Trend:     ctxData.Trend,
	}

	answer, err := s.consult(ctx, p)
	if err != nil {
		slog.Warn("Service.Finalize: consult failed, using fallback guidance", "sessionID", sess.ID, "kind", speech.Kind(err), "error", err)
		answer = Fallback(ctxData.Triage, ctxData.Urgency, sess.Locale)
		result.UsedFallback = true
	}
	result.Answer = answer

	s.record(sess, p, result)
	slog.Info("Service.Finalize: session finalized", "sessionID", sess.ID, "risk", ctxData.Triage.Risk(), "urgency", ctxData.Urgency.Label, "fallback", result.UsedFallback)
	return result, nil
}

func (s *Service) consult(ctx context.Context, p Prepared) (string, error) {
	if s.gen == nil {
		return "", fmt.Errorf("%w: no consult model configured", speech.ErrCapabilityUnavailable)
	}
	msgs, err := Messages(p)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	answer, err := speech.Do(ctx, s.retry, "consult", func(ctx context.Context) (string, error) {
		return s.gen.GenerateWithMessages(ctx, msgs)
	})
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", fmt.Errorf("%w: empty consult answer", speech.ErrTransient)
	}
	return answer, nil
}

func (s *Service) record(sess *session.Session, p Prepared, result models.ConsultResult) {
	if s.outcomes == nil {
		return
	}
	ctxData := p.Request.StructuredContext
	o := store.Outcome{
		ID:              util.GenerateOutcomeID(),
		SessionID:       sess.ID,
		Locale:          sess.Locale,
		CountryCode:     sess.CountryCode,
		RiskLevel:       string(ctxData.Triage.Risk()),
		Urgency:         string(ctxData.Urgency.Label),
		Trend:           ctxData.Trend,
		GuardrailFamily: ctxData.Guardrail,
		UsedFallback:    result.UsedFallback,
		QuestionsAsked:  len(p.Request.PriorTurns) / 2,
		CreatedAt:       s.now(),
	}
	if b := ctxData.Triage.TimeSinceBucket; b != nil {
		o.TimeBucket = string(*b)
	}
	if err := s.outcomes.SaveOutcome(o); err != nil {
		slog.Error("Service.record: failed to save outcome", "sessionID", sess.ID, "error", err)
	}
}
