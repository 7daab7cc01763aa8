package flow

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/guardrail"
	"github.com/BTreeMap/TriagePipe/internal/models"
)

// Errors returned by Engine operations.
var (
	ErrAlreadyStarted = errors.New("flow already started")
	ErrNotAsking      = errors.New("flow is not waiting for an answer")
	ErrNotFinalizing  = errors.New("flow is not finalizing")
	ErrEmptyCatalog   = errors.New("question catalog has no unconditional questions")
)

// Step is the result of submitting an answer.
type Step struct {
	// Next is the question now being asked; nil when the flow is finalizing.
	Next *Question
	// Guardrail is set when the answer tripped the guardrail monitor.
	Guardrail *guardrail.Hit
}

// Finalizing reports whether the flow stopped asking questions.
func (s Step) Finalizing() bool {
	return s.Next == nil
}

// Engine is the per-session question flow state machine. It exclusively owns the
// answer map, the active question list and the log.
type Engine struct {
	mu      sync.Mutex
	catalog []Question
	guard   *guardrail.Monitor
	locale  models.Locale
	now     func() time.Time

	state   models.StateType
	active  []Question
	index   int
	answers Answers
	log     []models.LogEntry
	hit     *guardrail.Hit
}

// NewEngine creates a flow over a catalog. A nil monitor disables guardrail checks.
func NewEngine(catalog []Question, guard *guardrail.Monitor, locale models.Locale) *Engine {
	return &Engine{
		catalog: catalog,
		guard:   guard,
		locale:  models.NormalizeLocale(string(locale)),
		now:     time.Now,
		state:   models.StateNotStarted,
		answers: make(Answers),
	}
}

// Start selects the unconditional questions and asks the first one.
func (e *Engine) Start() (Question, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != models.StateNotStarted {
		return Question{}, ErrAlreadyStarted
	}
	for _, q := range e.catalog {
		if !q.Conditional() {
			e.active = append(e.active, q)
		}
	}
	if len(e.active) == 0 {
		return Question{}, ErrEmptyCatalog
	}
	e.index = 0
	e.state = models.StateAsking
	slog.Debug("Engine.Start", "locale", e.locale, "active", len(e.active))
	return e.active[0], nil
}

// Submit finalizes the answer to the current question. The guardrail check runs
// first; a hit logs the answer and moves straight to finalizing without folding
// the answer into the unlock recomputation.
func (e *Engine) Submit(answer string) (Step, error) {
	if err := models.ValidateAnswer(answer); err != nil {
		return Step{}, err
	}
	answer = strings.TrimSpace(answer)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != models.StateAsking {
		return Step{}, fmt.Errorf("%w: state %s", ErrNotAsking, e.state)
	}

	q := e.active[e.index]
	e.log = append(e.log, models.LogEntry{
		Key:          q.Key,
		QuestionText: q.Utterance(e.locale),
		AnswerText:   answer,
		Timestamp:    e.now(),
	})

	if e.guard != nil {
		if hit, ok := e.guard.Check(answer, e.locale); ok {
			e.hit = &hit
			e.state = models.StateGuardrailTriggered
			slog.Info("Engine.Submit: guardrail forced finalization", "key", q.Key, "index", e.index, "family", hit.Family)
			e.state = models.StateFinalizing
			return Step{Guardrail: &hit}, nil
		}
	}

	e.answers[q.Key] = answer
	e.state = models.StateAnswered
	e.recompute()

	if e.index+1 < len(e.active) {
		e.index++
		e.state = models.StateAsking
		next := e.active[e.index]
		slog.Debug("Engine.Submit: advanced", "key", next.Key, "index", e.index, "active", len(e.active))
		return Step{Next: &next}, nil
	}
	e.state = models.StateFinalizing
	slog.Debug("Engine.Submit: finalizing", "answers", len(e.answers))
	return Step{}, nil
}

// recompute keeps every question up to and including the current one, then
// appends the remaining catalog questions that are already active or whose
// unlock condition now holds. The list never shrinks.
func (e *Engine) recompute() {
	asked := make(map[models.QuestionKey]bool, e.index+1)
	active := make(map[models.QuestionKey]bool, len(e.active))
	for i, q := range e.active {
		active[q.Key] = true
		if i <= e.index {
			asked[q.Key] = true
		}
	}

	next := make([]Question, 0, len(e.catalog))
	next = append(next, e.active[:e.index+1]...)
	for _, q := range e.catalog {
		if asked[q.Key] {
			continue
		}
		if active[q.Key] || !q.Conditional() || q.Unlock(e.answers) {
			next = append(next, q)
		}
	}
	if len(next) != len(e.active) {
		slog.Debug("Engine.recompute: active questions changed", "from", len(e.active), "to", len(next))
		e.active = next
	}
}

// Complete retires a finalizing flow.
func (e *Engine) Complete() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != models.StateFinalizing {
		return fmt.Errorf("%w: state %s", ErrNotFinalizing, e.state)
	}
	e.state = models.StateDone
	return nil
}

// Current returns the question being asked, if any.
func (e *Engine) Current() (Question, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != models.StateAsking {
		return Question{}, false
	}
	return e.active[e.index], true
}

// State returns the current state.
func (e *Engine) State() models.StateType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Index returns the current question index.
func (e *Engine) Index() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

// Locale returns the session locale.
func (e *Engine) Locale() models.Locale {
	return e.locale
}

// ActiveQuestions returns a copy of the active question list.
func (e *Engine) ActiveQuestions() []Question {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Question, len(e.active))
	copy(out, e.active)
	return out
}

// ActiveKeys returns the keys of the active questions in order.
func (e *Engine) ActiveKeys() []models.QuestionKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]models.QuestionKey, len(e.active))
	for i, q := range e.active {
		keys[i] = q.Key
	}
	return keys
}

// Answers returns a copy of the collected answers.
func (e *Engine) Answers() Answers {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(Answers, len(e.answers))
	for k, v := range e.answers {
		out[k] = v
	}
	return out
}

// Log returns a copy of the question/answer log.
func (e *Engine) Log() []models.LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.LogEntry, len(e.log))
	copy(out, e.log)
	return out
}

// GuardrailHit returns the hit that ended questioning, if any.
func (e *Engine) GuardrailHit() (guardrail.Hit, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hit == nil {
		return guardrail.Hit{}, false
	}
	return *e.hit, true
}
