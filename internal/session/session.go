// Package session owns the lifecycle of in-memory triage sessions: explicit
// creation, lookup, disposal and idle sweeping.
package session

import (
	"sync"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/flow"
	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/sentiment"
)

// Runtime is whatever drives a session, typically a turn controller. It is
// closed when the session is disposed.
type Runtime interface {
	Close()
}

// Session is one triage conversation. The flow engine owns the answers and
// active questions; the journey owns the emotional samples.
type Session struct {
	ID          string
	Locale      models.Locale
	CountryCode string
	CreatedAt   time.Time
	Flow        *flow.Engine
	Journey     *sentiment.Journey

	mu         sync.Mutex
	lastActive time.Time
	runtime    Runtime
}

// Touch records activity on the session.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

// LastActive returns the time of the last recorded activity.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// SetRuntime attaches the session's driver.
func (s *Session) SetRuntime(r Runtime) {
	s.mu.Lock()
	s.runtime = r
	s.mu.Unlock()
}

// Runtime returns the attached driver, or nil.
func (s *Session) Runtime() Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtime
}

func (s *Session) close() {
	s.mu.Lock()
	r := s.runtime
	s.runtime = nil
	s.mu.Unlock()
	if r != nil {
		r.Close()
	}
}
