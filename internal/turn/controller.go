// Package turn implements the turn-taking controller: one event loop per session
// that speaks a question, listens for the answer, acknowledges it and asks the
// next one until the flow finalizes.
package turn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/flow"
	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/sentiment"
	"github.com/BTreeMap/TriagePipe/internal/session"
	"github.com/BTreeMap/TriagePipe/internal/speech"
	"github.com/BTreeMap/TriagePipe/internal/tone"
	"github.com/BTreeMap/TriagePipe/internal/util"
)

// Default delays.
const (
	DefaultCaptionDelay = 2500 * time.Millisecond
	DefaultAckDelay     = 700 * time.Millisecond
	eventBuffer         = 16
)

// Errors returned by Run.
var (
	ErrAlreadyRunning = errors.New("controller already running")
	ErrClosed         = errors.New("controller closed")
)

// Player plays synthesized audio. Play returns once playback has started and
// calls ended when it finishes naturally. Stop cancels playback.
type Player interface {
	Play(ctx context.Context, audio []byte, ended func()) error
	Stop()
}

// Finalizer produces the consult result for a session whose flow is finalizing.
type Finalizer interface {
	Finalize(ctx context.Context, sess *session.Session) (models.ConsultResult, error)
}

// utterance is what the controller is currently speaking.
type utterance int

const (
	uttQuestion utterance = iota
	uttAck
	uttGuardrail
)

type event interface{}

type (
	skipEvent           struct{}
	stopListeningEvent  struct{}
	typedAnswerEvent    struct{ text string }
	playbackEndedEvent  struct{ token uint64 }
	captionElapsedEvent struct{ token uint64 }
	ackDoneEvent        struct{ token uint64 }
	transcriptEvent     struct {
		token uint64
		t     speech.Transcript
	}
	synthesisDoneEvent struct {
		token uint64
		audio []byte
		err   error
	}
	finalizedEvent struct {
		result models.ConsultResult
		err    error
	}
)

// Controller drives one session. Exported methods are safe for concurrent use;
// all state transitions happen on the Run goroutine.
type Controller struct {
	sess         *session.Session
	presenter    Presenter
	finalizer    Finalizer
	synth        speech.Synthesizer
	player       Player
	capture      speech.Capture
	classifier   *sentiment.Classifier
	retry        speech.RetryPolicy
	captionDelay time.Duration
	ackDelay     time.Duration
	voiceID      string

	events chan event
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	cancel  context.CancelFunc
	closed  bool
	running bool
	phase   models.PhaseType
	result  *models.ConsultResult

	// Owned by the Run goroutine.
	ctx        context.Context
	token      uint64
	utter      utterance
	utterText  string
	audioOff   bool
	captureOff bool
	question   flow.Question
	next       *flow.Question
	interim    string
	tone       models.Tone
	voice      models.VoiceParams
}

// Option configures a Controller.
type Option func(*Controller)

// WithSpeech enables spoken questions through a synthesizer and a player.
func WithSpeech(s speech.Synthesizer, p Player) Option {
	return func(c *Controller) {
		c.synth = s
		c.player = p
	}
}

// WithCapture enables spoken answers.
func WithCapture(capture speech.Capture) Option {
	return func(c *Controller) { c.capture = capture }
}

// WithClassifier sets the sentiment classifier applied to each answer.
func WithClassifier(cl *sentiment.Classifier) Option {
	return func(c *Controller) { c.classifier = cl }
}

// WithRetryPolicy sets the synthesis retry policy.
func WithRetryPolicy(p speech.RetryPolicy) Option {
	return func(c *Controller) { c.retry = p }
}

// WithCaptionDelay sets how long a caption stays up when audio is unavailable.
func WithCaptionDelay(d time.Duration) Option {
	return func(c *Controller) { c.captionDelay = d }
}

// WithAckDelay sets how long a captioned acknowledgment stays up.
func WithAckDelay(d time.Duration) Option {
	return func(c *Controller) { c.ackDelay = d }
}

// WithVoice sets the synthesis voice for the session locale.
func WithVoice(id string) Option {
	return func(c *Controller) { c.voiceID = id }
}

// New creates a controller for a session. Without WithSpeech questions are
// captioned; without WithCapture answers are typed.
func New(sess *session.Session, presenter Presenter, finalizer Finalizer, opts ...Option) *Controller {
	c := &Controller{
		sess:         sess,
		presenter:    presenter,
		finalizer:    finalizer,
		retry:        speech.DefaultRetryPolicy(),
		captionDelay: DefaultCaptionDelay,
		ackDelay:     DefaultAckDelay,
		events:       make(chan event, eventBuffer),
		done:         make(chan struct{}),
		phase:        models.PhaseIdle,
		tone:         models.ToneProfessional,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.classifier == nil {
		c.classifier = sentiment.NewDefaultClassifier()
	}
	c.voice = tone.VoiceFor(c.tone)
	return c
}

// Run starts the flow and processes events until the session is done, ctx is
// cancelled or Close is called. It returns nil once the result is presented.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	switch {
	case c.running:
		c.mu.Unlock()
		cancel()
		return ErrAlreadyRunning
	}
	c.running = true
	c.cancel = cancel
	closed := c.closed
	c.mu.Unlock()
	defer c.shutdown()
	if closed {
		return ErrClosed
	}

	c.ctx = ctx
	q, err := c.sess.Flow.Start()
	if err != nil {
		slog.Error("Controller.Run: cannot start flow", "sessionID", c.sess.ID, "error", err)
		return err
	}
	slog.Info("Controller.Run: session started", "sessionID", c.sess.ID, "locale", c.sess.Locale, "speech", c.synth != nil, "capture", c.capture != nil)
	c.ask(q)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Controller.Run: stopped", "sessionID", c.sess.ID, "phase", c.Phase())
			if c.isClosed() {
				return ErrClosed
			}
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ev)
			if c.Phase() == models.PhaseDone {
				return nil
			}
		}
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()
	close(c.done)
	if c.player != nil {
		c.player.Stop()
	}
	if c.capture != nil && c.capture.Available() {
		c.capture.Stop()
	}
	c.wg.Wait()
}

// Close stops the controller. It implements session.Runtime.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Phase returns the current turn phase.
func (c *Controller) Phase() models.PhaseType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Result returns the consult result once the session is done.
func (c *Controller) Result() (models.ConsultResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return models.ConsultResult{}, false
	}
	return *c.result, true
}

// Skip cancels the current playback or caption and moves on immediately.
func (c *Controller) Skip() { c.post(skipEvent{}) }

// StopListening ends capture early; the latest interim transcript, if any, is
// used as the answer.
func (c *Controller) StopListening() { c.post(stopListeningEvent{}) }

// Answer submits typed text as a final answer to the current question.
func (c *Controller) Answer(text string) { c.post(typedAnswerEvent{text: text}) }

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) setPhase(p models.PhaseType) {
	c.mu.Lock()
	prev := c.phase
	c.phase = p
	c.mu.Unlock()
	if prev != p {
		slog.Debug("Controller.setPhase", "sessionID", c.sess.ID, "from", prev, "to", p)
	}
}

func (c *Controller) present(o Output) {
	if c.presenter != nil {
		c.presenter.Present(o)
	}
}

func (c *Controller) handle(ev event) {
	switch e := ev.(type) {
	case synthesisDoneEvent:
		c.onSynthesisDone(e)
	case playbackEndedEvent:
		c.onSpeechFinished(e.token)
	case captionElapsedEvent:
		c.onSpeechFinished(e.token)
	case ackDoneEvent:
		c.onSpeechFinished(e.token)
	case skipEvent:
		c.onSkip()
	case transcriptEvent:
		c.onTranscript(e)
	case stopListeningEvent:
		c.onStopListening()
	case typedAnswerEvent:
		c.onTypedAnswer(e.text)
	case finalizedEvent:
		c.onFinalized(e)
	default:
		slog.Warn("Controller.handle: unknown event", "sessionID", c.sess.ID, "event", ev)
	}
}

// ---- speaking ----

func (c *Controller) ask(q flow.Question) {
	c.question = q
	c.interim = ""
	locale := c.sess.Locale
	c.present(Output{
		Kind:    OutputQuestion,
		Key:     q.Key,
		Text:    q.PromptFor(locale),
		Context: q.ContextFor(locale),
		Index:   c.sess.Flow.Index() + 1,
		Total:   len(c.sess.Flow.ActiveKeys()),
		Tone:    c.tone,
	})
	c.speak(uttQuestion, q.Utterance(locale))
}

// speak starts one utterance under a fresh token. Completion arrives as a
// playback, caption or ack event carrying that token.
func (c *Controller) speak(u utterance, text string) {
	c.token++
	c.utter = u
	c.utterText = text
	if u == uttAck {
		c.setPhase(models.PhaseAcknowledge)
	} else {
		c.setPhase(models.PhaseSpeaking)
	}
	if c.synth == nil || c.player == nil || c.audioOff {
		c.caption()
		return
	}

	token := c.token
	ctx := c.ctx
	req := speech.Request{Text: text, Locale: c.sess.Locale, VoiceID: c.voiceID, Tone: c.tone, Params: c.voice}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		audio, err := speech.Do(ctx, c.retry, "synthesize", func(ctx context.Context) ([]byte, error) {
			return c.synth.Synthesize(ctx, req)
		})
		c.post(synthesisDoneEvent{token: token, audio: audio, err: err})
	}()
}

// caption shows the current utterance as text and finishes it after a delay.
func (c *Controller) caption() {
	if c.utter == uttAck {
		c.after(c.ackDelay, ackDoneEvent{token: c.token})
		return
	}
	c.present(Output{Kind: OutputCaption, Text: c.utterText})
	c.after(c.captionDelay, captionElapsedEvent{token: c.token})
}

func (c *Controller) after(d time.Duration, ev event) {
	ctx := c.ctx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			c.post(ev)
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) onSynthesisDone(e synthesisDoneEvent) {
	if e.token != c.token {
		return
	}
	if e.err != nil {
		if errors.Is(e.err, context.Canceled) {
			return
		}
		switch speech.Kind(e.err) {
		case speech.KindRateLimited:
			slog.Warn("Controller.onSynthesisDone: rate limited, captioning", "sessionID", c.sess.ID)
			c.present(Output{Kind: OutputNotice, Text: localized(audioUnavailable, c.sess.Locale)})
		case speech.KindCapabilityUnavailable:
			slog.Warn("Controller.onSynthesisDone: synthesis unavailable for session", "sessionID", c.sess.ID, "error", e.err)
			c.audioOff = true
		default:
			slog.Warn("Controller.onSynthesisDone: synthesis failed, captioning", "sessionID", c.sess.ID, "error", e.err)
		}
		c.caption()
		return
	}

	token := c.token
	err := c.player.Play(c.ctx, e.audio, func() { c.post(playbackEndedEvent{token: token}) })
	if err != nil {
		if speech.Kind(err) == speech.KindCapabilityUnavailable {
			c.audioOff = true
		}
		slog.Warn("Controller.onSynthesisDone: playback failed, captioning", "sessionID", c.sess.ID, "error", err)
		c.caption()
	}
}

// onSpeechFinished runs the continuation of the current utterance once. The
// token is consumed so a second completion for the same utterance is dropped.
func (c *Controller) onSpeechFinished(token uint64) {
	if token != c.token {
		return
	}
	phase := c.Phase()
	if phase != models.PhaseSpeaking && phase != models.PhaseAcknowledge {
		return
	}
	c.token++
	switch c.utter {
	case uttQuestion:
		c.listen()
	case uttAck:
		c.advance()
	case uttGuardrail:
		c.finalize()
	}
}

func (c *Controller) onSkip() {
	phase := c.Phase()
	if phase != models.PhaseSpeaking && phase != models.PhaseAcknowledge {
		return
	}
	if c.player != nil {
		c.player.Stop()
	}
	slog.Debug("Controller.onSkip", "sessionID", c.sess.ID, "utterance", c.utter)
	c.onSpeechFinished(c.token)
}

// ---- listening ----

func (c *Controller) listen() {
	if c.captureOff || c.capture == nil || !c.capture.Available() {
		c.captureOff = true
		c.awaitText()
		return
	}
	c.token++
	token := c.token
	c.setPhase(models.PhaseListening)
	err := c.capture.Start(c.ctx, c.sess.Locale, func(t speech.Transcript) {
		c.post(transcriptEvent{token: token, t: t})
	})
	if err != nil {
		if speech.Kind(err) == speech.KindCapabilityUnavailable {
			c.captureOff = true
		}
		slog.Warn("Controller.listen: capture failed, awaiting text", "sessionID", c.sess.ID, "error", err)
		c.awaitText()
		return
	}
	c.present(Output{Kind: OutputListening, Key: c.question.Key})
}

func (c *Controller) awaitText() {
	c.setPhase(models.PhaseAwaitingText)
	c.present(Output{Kind: OutputAwaitingText, Key: c.question.Key})
}

func (c *Controller) onTranscript(e transcriptEvent) {
	if e.token != c.token || c.Phase() != models.PhaseListening {
		return
	}
	if !e.t.Final {
		c.interim = e.t.Text
		c.present(Output{Kind: OutputInterim, Text: e.t.Text})
		return
	}
	c.capture.Stop()
	c.token++
	c.answer(e.t.Text)
}

func (c *Controller) onStopListening() {
	if c.Phase() != models.PhaseListening {
		return
	}
	c.capture.Stop()
	c.token++
	if c.interim != "" {
		c.answer(c.interim)
		return
	}
	c.awaitText()
}

func (c *Controller) onTypedAnswer(text string) {
	switch c.Phase() {
	case models.PhaseSpeaking:
		if c.utter != uttQuestion {
			return
		}
		if c.player != nil {
			c.player.Stop()
		}
	case models.PhaseListening:
		c.capture.Stop()
	case models.PhaseAwaitingText:
	default:
		slog.Debug("Controller.onTypedAnswer: ignored", "sessionID", c.sess.ID, "phase", c.Phase())
		return
	}
	c.token++
	c.answer(text)
}

// ---- answering ----

func (c *Controller) answer(text string) {
	if err := models.ValidateAnswer(text); err != nil {
		c.present(Output{Kind: OutputError, Text: err.Error(), Key: c.question.Key})
		c.awaitText()
		return
	}

	sample := c.classifier.Classify(text, c.sess.Locale)
	trend := c.sess.Journey.AddSample(sample)
	c.tone, c.voice = sample.SuggestedTone, sample.Voice

	step, err := c.sess.Flow.Submit(text)
	if err != nil {
		slog.Error("Controller.answer: submit failed", "sessionID", c.sess.ID, "key", c.question.Key, "error", err)
		c.present(Output{Kind: OutputError, Text: err.Error(), Key: c.question.Key})
		c.awaitText()
		return
	}
	slog.Info("Controller.answer: answer accepted", "sessionID", c.sess.ID, "key", c.question.Key, "length", len(text), "stress", sample.StressLevel, "trend", trend)

	if step.Guardrail != nil {
		c.next = nil
		c.present(Output{Kind: OutputGuardrail, Text: step.Guardrail.Message, Tone: c.tone})
		c.speak(uttGuardrail, step.Guardrail.Message)
		return
	}
	c.next = step.Next
	ack := util.RandomChoice(acknowledgments[c.sess.Locale])
	if ack == "" {
		ack = util.RandomChoice(acknowledgments[models.LocaleEnglish])
	}
	c.present(Output{Kind: OutputAcknowledgment, Text: ack, Tone: c.tone})
	c.speak(uttAck, ack)
}

func (c *Controller) advance() {
	if c.next != nil {
		q := *c.next
		c.next = nil
		c.ask(q)
		return
	}
	c.finalize()
}

// ---- finalizing ----

func (c *Controller) finalize() {
	c.token++
	c.setPhase(models.PhaseFinalizing)
	c.present(Output{Kind: OutputFinalizing, Text: localized(preparingGuidance, c.sess.Locale)})
	ctx := c.ctx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res, err := c.finalizer.Finalize(ctx, c.sess)
		c.post(finalizedEvent{result: res, err: err})
	}()
}

func (c *Controller) onFinalized(e finalizedEvent) {
	if c.Phase() != models.PhaseFinalizing {
		return
	}
	if e.err != nil {
		slog.Error("Controller.onFinalized: finalization failed", "sessionID", c.sess.ID, "error", e.err)
		c.present(Output{Kind: OutputError, Text: e.err.Error()})
	}
	if err := c.sess.Flow.Complete(); err != nil {
		slog.Warn("Controller.onFinalized: flow not finalizing", "sessionID", c.sess.ID, "error", err)
	}
	res := e.result
	c.mu.Lock()
	c.result = &res
	c.mu.Unlock()
	c.present(Output{Kind: OutputResult, Text: res.Answer, Result: &res, Tone: c.tone})
	c.setPhase(models.PhaseDone)
	slog.Info("Controller.onFinalized: session done", "sessionID", c.sess.ID, "fallback", res.UsedFallback, "risk", res.Triage.Risk())
}
