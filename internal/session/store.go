package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/flow"
	"github.com/BTreeMap/TriagePipe/internal/guardrail"
	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/sentiment"
	"github.com/google/uuid"
)

// Defaults for idle sweeping.
const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Store holds the live sessions. Nothing outside a Store references a session
// after it is disposed.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	catalog       []flow.Question
	guard         *guardrail.Monitor
	idleTimeout   time.Duration
	sweepInterval time.Duration
	now           func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIdleTimeout sets how long a session may stay inactive before it is swept.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithSweepInterval sets how often Run looks for idle sessions.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a session store whose sessions use the given catalog and
// guardrail monitor.
func NewStore(catalog []flow.Question, guard *guardrail.Monitor, opts ...Option) *Store {
	s := &Store{
		sessions:      make(map[string]*Session),
		catalog:       catalog,
		guard:         guard,
		idleTimeout:   DefaultIdleTimeout,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a new session. An empty country code is allowed and yields an
// empty clinic shortlist later on.
func (s *Store) Create(locale, countryCode string) (*Session, error) {
	cc := ""
	if countryCode != "" {
		var err error
		if cc, err = models.NormalizeCountryCode(countryCode); err != nil {
			return nil, err
		}
	}
	l := models.NormalizeLocale(locale)
	id := uuid.NewString()
	now := s.now()
	sess := &Session{
		ID:          id,
		Locale:      l,
		CountryCode: cc,
		CreatedAt:   now,
		Flow:        flow.NewEngine(s.catalog, s.guard, l),
		Journey:     sentiment.NewJourney(id),
		lastActive:  now,
	}

	s.mu.Lock()
	s.sessions[id] = sess
	n := len(s.sessions)
	s.mu.Unlock()

	slog.Info("Store.Create: session created", "sessionID", id, "locale", l, "country", cc, "live", n)
	return sess, nil
}

// Get returns a live session and records activity on it.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		sess.Touch(s.now())
	}
	return sess, ok
}

// Dispose removes a session and closes its runtime. It reports whether the
// session existed.
func (s *Store) Dispose(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.close()
	slog.Info("Store.Dispose: session disposed", "sessionID", id)
	return true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// SweepIdle disposes every session idle for longer than the idle timeout and
// returns how many were removed.
func (s *Store) SweepIdle() int {
	cutoff := s.now().Add(-s.idleTimeout)
	var idle []*Session

	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.LastActive().Before(cutoff) {
			idle = append(idle, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range idle {
		sess.close()
		slog.Info("Store.SweepIdle: abandoned session disposed", "sessionID", sess.ID)
	}
	return len(idle)
}

// DisposeAll removes every session, used at shutdown.
func (s *Store) DisposeAll() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	for _, sess := range all {
		sess.close()
	}
}

// Run sweeps idle sessions until the context is cancelled.
func (s *Store) Run(ctx context.Context) {
	slog.Info("Store.Run: starting idle sweeper", "idleTimeout", s.idleTimeout, "interval", s.sweepInterval)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Store.Run: stopping")
			return
		case <-ticker.C:
			if n := s.SweepIdle(); n > 0 {
				slog.Debug("Store.Run: swept idle sessions", "count", n, "live", s.Len())
			}
		}
	}
}

