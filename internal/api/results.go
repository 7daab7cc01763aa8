package api

import (
	"sync"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// finishedSession is what an API session leaves behind once its controller
// stops with a consult result: enough to show the result and text the
// shortlist. Answers and the transcript go with the disposed session.
type finishedSession struct {
	ID         string
	Locale     models.Locale
	Country    string
	Voice      bool
	Answered   int
	Trend      models.Trend
	CreatedAt  time.Time
	Result     models.ConsultResult
	finishedAt time.Time
}

func (f finishedSession) view() sessionView {
	res := f.Result
	return sessionView{
		SessionID: f.ID,
		Locale:    f.Locale,
		Country:   f.Country,
		Voice:     f.Voice,
		State:     models.StateDone,
		Phase:     models.PhaseDone,
		Answered:  f.Answered,
		Trend:     f.Trend,
		CreatedAt: f.CreatedAt,
		Result:    &res,
	}
}

// resultCache keeps finished sessions for a retention period. Expired entries
// are dropped lazily on every access.
type resultCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]finishedSession
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{ttl: ttl, now: time.Now, items: make(map[string]finishedSession)}
}

func (c *resultCache) put(f finishedSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.pruneLocked(now)
	f.finishedAt = now
	c.items[f.ID] = f
}

func (c *resultCache) get(id string) (finishedSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())
	f, ok := c.items[id]
	return f, ok
}

// remove forgets a finished session and reports whether it was kept.
func (c *resultCache) remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	delete(c.items, id)
	return ok
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())
	return len(c.items)
}

func (c *resultCache) pruneLocked(now time.Time) {
	for id, f := range c.items {
		if now.Sub(f.finishedAt) >= c.ttl {
			delete(c.items, id)
		}
	}
}
