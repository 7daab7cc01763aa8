package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/session"
	"github.com/BTreeMap/TriagePipe/internal/store"
	"github.com/BTreeMap/TriagePipe/internal/turn"
)

// textTurnDelay replaces the caption and acknowledgment pauses on text channels.
const textTurnDelay = 10 * time.Millisecond

// ReceiptRecorder stores delivery receipts.
type ReceiptRecorder interface {
	AddReceipt(r models.Receipt) error
}

// conversation is a live text triage session for one sender.
type conversation struct {
	sessionID string
	ctrl      *turn.Controller
}

// ResponseHandler routes inbound text messages to text-only triage sessions,
// one per sender. The first message from an unknown sender starts a session;
// later ones answer the current question. Outgoing messages go through the
// outbox when one is configured.
type ResponseHandler struct {
	msgService Service
	sessions   *session.Store
	finalizer  turn.Finalizer
	outbox     store.OutboxRepo
	dedup      store.DedupRepo
	receipts   ReceiptRecorder
	country    string
	turnOpts   []turn.Option

	mu     sync.Mutex
	active map[string]*conversation
	wg     sync.WaitGroup
}

// HandlerOption configures a ResponseHandler.
type HandlerOption func(*ResponseHandler)

// WithOutbox queues outgoing messages durably instead of sending them inline.
func WithOutbox(o store.OutboxRepo) HandlerOption {
	return func(h *ResponseHandler) { h.outbox = o }
}

// WithDedup drops redelivered inbound messages.
func WithDedup(d store.DedupRepo) HandlerOption {
	return func(h *ResponseHandler) { h.dedup = d }
}

// WithReceiptRecorder persists delivery receipts.
func WithReceiptRecorder(r ReceiptRecorder) HandlerOption {
	return func(h *ResponseHandler) { h.receipts = r }
}

// WithDefaultCountry sets the country used for text sessions' clinic lookup.
func WithDefaultCountry(cc string) HandlerOption {
	return func(h *ResponseHandler) { h.country = cc }
}

// WithTurnOptions appends controller options for text sessions.
func WithTurnOptions(opts ...turn.Option) HandlerOption {
	return func(h *ResponseHandler) { h.turnOpts = append(h.turnOpts, opts...) }
}

// NewResponseHandler creates a new ResponseHandler with the given messaging service.
func NewResponseHandler(msgService Service, sessions *session.Store, finalizer turn.Finalizer, opts ...HandlerOption) *ResponseHandler {
	h := &ResponseHandler{
		msgService: msgService,
		sessions:   sessions,
		finalizer:  finalizer,
		active:     make(map[string]*conversation),
		turnOpts:   []turn.Option{turn.WithCaptionDelay(textTurnDelay), turn.WithAckDelay(textTurnDelay)},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start begins processing responses and receipts from the messaging service.
func (h *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler starting response processing")
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		defer slog.Info("ResponseHandler stopped response processing")
		for {
			select {
			case response, ok := <-h.msgService.Responses():
				if !ok {
					return
				}
				if err := h.ProcessResponse(ctx, response); err != nil {
					slog.Error("ResponseHandler failed to process response", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		defer h.wg.Done()
		for {
			select {
			case r, ok := <-h.msgService.Receipts():
				if !ok {
					return
				}
				if h.receipts == nil {
					continue
				}
				if err := h.receipts.AddReceipt(r); err != nil {
					slog.Error("ResponseHandler failed to store receipt", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the processing loops and all live conversations end.
func (h *ResponseHandler) Wait() {
	h.wg.Wait()
}

// ActiveCount returns the number of live text conversations.
func (h *ResponseHandler) ActiveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

// ProcessResponse handles one inbound message. ctx bounds any session it starts.
func (h *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	from, err := h.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	if response.ID != "" && h.dedup != nil {
		first, err := h.dedup.RecordInbound(response.ID, from, time.Now())
		if err != nil {
			return fmt.Errorf("dedup check failed: %w", err)
		}
		if !first {
			slog.Debug("ResponseHandler dropping redelivered message", "id", response.ID)
			return nil
		}
		defer func() {
			if err := h.dedup.MarkProcessed(response.ID, time.Now()); err != nil {
				slog.Warn("ResponseHandler failed to mark message processed", "id", response.ID, "error", err)
			}
		}()
	}

	slog.Debug("ResponseHandler processing response", "body_length", len(response.Body))

	h.mu.Lock()
	conv := h.active[from]
	h.mu.Unlock()
	if conv != nil {
		if _, ok := h.sessions.Get(conv.sessionID); !ok {
			conv = nil
		}
	}

	if IsStopWord(response.Body) {
		locale := DetectLocale(response.Body)
		if conv != nil {
			if sess, ok := h.sessions.Get(conv.sessionID); ok {
				locale = sess.Locale
			}
			h.sessions.Dispose(conv.sessionID)
		}
		return h.deliver(ctx, from, store.OutboxKindPrompt, textsFor(locale).goodbye, "")
	}

	if conv == nil {
		return h.start(ctx, from, DetectLocale(response.Body))
	}
	conv.ctrl.Answer(response.Body)
	return nil
}

func (h *ResponseHandler) start(ctx context.Context, from string, locale models.Locale) error {
	sess, err := h.sessions.Create(string(locale), h.country)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if err := h.deliver(ctx, from, store.OutboxKindPrompt, textsFor(sess.Locale).welcome, sess.ID+":welcome"); err != nil {
		slog.Warn("ResponseHandler failed to send welcome", "sessionID", sess.ID, "error", err)
	}

	p := &textPresenter{h: h, ctx: ctx, to: from, sess: sess}
	ctrl := turn.New(sess, p, h.finalizer, h.turnOpts...)
	sess.SetRuntime(ctrl)
	conv := &conversation{sessionID: sess.ID, ctrl: ctrl}

	h.mu.Lock()
	h.active[from] = conv
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		err := ctrl.Run(ctx)
		if err != nil {
			slog.Info("ResponseHandler conversation ended early", "sessionID", sess.ID, "error", err)
		}
		h.mu.Lock()
		if h.active[from] == conv {
			delete(h.active, from)
		}
		h.mu.Unlock()
		h.sessions.Dispose(sess.ID)
	}()
	slog.Info("ResponseHandler started text session", "sessionID", sess.ID, "locale", sess.Locale)
	return nil
}

// SendShortlist delivers a clinic shortlist to a phone number.
func (h *ResponseHandler) SendShortlist(ctx context.Context, to, sessionID string, clinics []models.Clinic, locale models.Locale) error {
	canonical, err := h.msgService.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	return h.deliver(ctx, canonical, store.OutboxKindShortlist, FormatShortlist(clinics, locale), sessionID+":shortlist:"+canonical)
}

// deliver queues a message in the outbox, or sends it inline without one.
func (h *ResponseHandler) deliver(ctx context.Context, to, kind, body, dedupeKey string) error {
	if h.outbox != nil {
		_, err := h.outbox.EnqueueOutboxMessage(to, kind, body, dedupeKey)
		return err
	}
	return h.msgService.SendMessage(ctx, to, body)
}

// textPresenter turns controller outputs into text messages. Acknowledgments
// are held and prefixed to the next message.
type textPresenter struct {
	h       *ResponseHandler
	ctx     context.Context
	to      string
	sess    *session.Session
	seq     int
	pending string
}

func (p *textPresenter) Present(o turn.Output) {
	switch o.Kind {
	case turn.OutputAcknowledgment:
		p.pending = o.Text
	case turn.OutputQuestion:
		text := fmt.Sprintf("(%d/%d) %s", o.Index, o.Total, o.Text)
		p.send(store.OutboxKindPrompt, text)
	case turn.OutputGuardrail, turn.OutputFinalizing, turn.OutputError:
		p.send(store.OutboxKindPrompt, o.Text)
	case turn.OutputResult:
		if o.Result == nil {
			return
		}
		p.send(store.OutboxKindGuidance, o.Result.Answer)
		p.send(store.OutboxKindShortlist, FormatShortlist(o.Result.Clinics, p.sess.Locale))
	}
}

func (p *textPresenter) send(kind, body string) {
	if p.pending != "" {
		body = p.pending + " " + body
		p.pending = ""
	}
	p.seq++
	key := fmt.Sprintf("%s:%d", p.sess.ID, p.seq)
	if err := p.h.deliver(p.ctx, p.to, kind, body, key); err != nil {
		slog.Error("textPresenter.send: delivery failed", "sessionID", p.sess.ID, "kind", kind, "error", err)
	}
}

// OutboxSendFunc adapts a Service to the outbox sender.
func OutboxSendFunc(svc Service) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		return svc.SendMessage(ctx, msg.Recipient, msg.Body)
	}
}
