// Package api exposes the triage engine over HTTP: session lifecycle, typed and
// voice-mode turns, the pure classifier endpoints, clinic shortlist delivery
// and anonymized outcomes.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/messaging"
	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/sentiment"
	"github.com/BTreeMap/TriagePipe/internal/session"
	"github.com/BTreeMap/TriagePipe/internal/speech"
	"github.com/BTreeMap/TriagePipe/internal/store"
	"github.com/BTreeMap/TriagePipe/internal/triage"
	"github.com/BTreeMap/TriagePipe/internal/turn"
	"github.com/gorilla/mux"
)

// Defaults used when no option overrides them.
const (
	DefaultAddr            = ":8080"
	DefaultWaitTimeout     = 60 * time.Second
	DefaultOutcomesLimit   = 50
	DefaultResultRetention = 10 * time.Minute // finished results outlive their session this long
	shutdownTimeout        = 10 * time.Second
	maxBodyBytes           = 64 << 10
)

// OutcomeLister reads anonymized outcomes.
type OutcomeLister interface {
	ListOutcomes(limit int) ([]store.Outcome, error)
}

// ShortlistSender delivers a clinic shortlist over a text channel.
type ShortlistSender interface {
	SendShortlist(ctx context.Context, to, sessionID string, clinics []models.Clinic, locale models.Locale) error
}

// Server serves the HTTP API.
type Server struct {
	sessions    *session.Store
	finalizer   turn.Finalizer
	outcomes    OutcomeLister
	classifier  *sentiment.Classifier
	extractor   *triage.Extractor
	synth       speech.Synthesizer
	shortlist   ShortlistSender
	twilio      *messaging.TwilioService
	turnOpts    []turn.Option
	waitTimeout time.Duration
	retention   time.Duration
	results     *resultCache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	router *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithOutcomes enables GET /outcomes.
func WithOutcomes(o OutcomeLister) Option {
	return func(s *Server) { s.outcomes = o }
}

// WithSynthesizer enables spoken questions for voice sessions.
func WithSynthesizer(synth speech.Synthesizer) Option {
	return func(s *Server) { s.synth = synth }
}

// WithShortlistSender enables POST /sessions/{id}/shortlist/sms.
func WithShortlistSender(sender ShortlistSender) Option {
	return func(s *Server) { s.shortlist = sender }
}

// WithTwilio mounts the Twilio webhook and status callback routes.
func WithTwilio(svc *messaging.TwilioService) Option {
	return func(s *Server) { s.twilio = svc }
}

// WithClassifier overrides the sentiment classifier.
func WithClassifier(cl *sentiment.Classifier) Option {
	return func(s *Server) { s.classifier = cl }
}

// WithExtractor overrides the triage extractor.
func WithExtractor(ex *triage.Extractor) Option {
	return func(s *Server) { s.extractor = ex }
}

// WithTurnOptions adds options to every controller the server creates.
func WithTurnOptions(opts ...turn.Option) Option {
	return func(s *Server) { s.turnOpts = append(s.turnOpts, opts...) }
}

// WithWaitTimeout bounds how long a request waits for the controller to need
// input again.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.waitTimeout = d
		}
	}
}

// WithResultRetention sets how long a finished session's result stays readable.
func WithResultRetention(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.retention = d
		}
	}
}

// NewServer builds the API server and its routes.
func NewServer(sessions *session.Store, finalizer turn.Finalizer, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		sessions:    sessions,
		finalizer:   finalizer,
		waitTimeout: DefaultWaitTimeout,
		retention:   DefaultResultRetention,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.classifier == nil {
		s.classifier = sentiment.NewDefaultClassifier()
	}
	if s.extractor == nil {
		s.extractor = triage.NewDefaultExtractor()
	}
	s.results = newResultCache(s.retention)
	s.turnOpts = append([]turn.Option{turn.WithClassifier(s.classifier)}, s.turnOpts...)
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)

	r.HandleFunc("/sessions", s.createSessionHandler).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", s.getSessionHandler).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.deleteSessionHandler).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/answers", s.answerHandler).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/events", s.eventHandler).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/shortlist/sms", s.shortlistSMSHandler).Methods(http.MethodPost)

	r.HandleFunc("/sentiment", s.sentimentHandler).Methods(http.MethodPost)
	r.HandleFunc("/triage/extract", s.extractHandler).Methods(http.MethodPost)
	r.HandleFunc("/outcomes", s.outcomesHandler).Methods(http.MethodGet)

	if s.twilio != nil {
		r.HandleFunc("/twilio/webhook", s.twilio.TwilioWebhookHandler).Methods(http.MethodPost)
		r.HandleFunc("/twilio/status", s.twilio.TwilioStatusHandler).Methods(http.MethodPost)
	}

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Server request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully and
// stops every controller the server started.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		slog.Error("Server.Run: shutdown failed", "error", err)
		return err
	}
	slog.Info("Server.Run: stopped")
	return nil
}

// Close stops every controller started by the server and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}
