package messaging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// channels holds the receipt and response streams shared by every Service
// implementation. Emits after stop are dropped.
type channels struct {
	name      string
	receipts  chan models.Receipt
	responses chan models.Response
	mu        sync.RWMutex
	stopped   bool
}

func newChannels(name string) *channels {
	return &channels{
		name:      name,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

func (c *channels) isStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

// stop closes both channels once.
func (c *channels) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.receipts)
	close(c.responses)
	slog.Info(c.name+" stopped and channels closed")
}

func (c *channels) emitReceipt(r models.Receipt) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return
	}
	select {
	case c.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(c.name+" receipts channel blocked, dropping receipt", "status", r.Status, "timeout", DefaultChannelTimeout)
	}
}

func (c *channels) emitResponse(r models.Response) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		slog.Warn(c.name + " dropping inbound message (service stopped)")
		return
	}
	select {
	case c.responses <- r:
		slog.Debug(c.name+" inbound message forwarded", "id", r.ID, "body_length", len(r.Body))
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(c.name+" responses channel blocked, dropping message", "id", r.ID, "timeout", DefaultChannelTimeout)
	}
}

// Receipts returns a channel of receipt events.
func (c *channels) Receipts() <-chan models.Receipt {
	return c.receipts
}

// Responses returns a channel of incoming messages.
func (c *channels) Responses() <-chan models.Response {
	return c.responses
}
