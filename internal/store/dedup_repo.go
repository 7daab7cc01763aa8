package store

import (
	"errors"
	"time"
)

// InboundClaimTimeout is how long a recorded but unprocessed inbound message
// blocks redeliveries. After it the handler is presumed dead and a redelivery
// claims the message again.
const InboundClaimTimeout = 5 * time.Minute

// ErrInboundNotRecorded is returned by MarkProcessed for an unknown message ID.
var ErrInboundNotRecorded = errors.New("inbound message not recorded")

// DedupRecord represents an inbound text-channel message seen by a webhook or
// event handler.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	Sender      string     `json:"sender"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// reclaimable reports whether a redelivery at now may take over the record.
func (r *DedupRecord) reclaimable(now time.Time) bool {
	return r.ProcessedAt == nil && r.ReceivedAt.Before(now.Add(-InboundClaimTimeout))
}

// DedupRepo defines the interface for inbound message deduplication. Providers
// redeliver webhooks, and a redelivered answer must not advance a session twice.
type DedupRepo interface {
	// IsDuplicate checks if a message ID has already been recorded.
	IsDuplicate(messageID string) (bool, error)

	// RecordInbound claims a message for processing at now. It returns false
	// when the message was already processed or is still claimed by a handler
	// that started less than InboundClaimTimeout ago.
	RecordInbound(messageID, sender string, now time.Time) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message. Unknown IDs
	// yield ErrInboundNotRecorded.
	MarkProcessed(messageID string, now time.Time) error
}
