// Package store provides the OutboxRepo interface and model for restart-safe outgoing sends.
package store

import (
	"time"
)

// OutboxStatus represents the lifecycle state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusQueued   OutboxStatus = "queued"
	OutboxStatusSending  OutboxStatus = "sending"
	OutboxStatusSent     OutboxStatus = "sent"
	OutboxStatusCanceled OutboxStatus = "canceled"
)

// Outbox message kinds.
const (
	OutboxKindGuidance  = "guidance"
	OutboxKindShortlist = "shortlist"
	OutboxKindPrompt    = "prompt"
)

// MaxOutboxAttempts is the number of failed sends after which a message is canceled.
const MaxOutboxAttempts = 6

// OutboxMessage is a durable outgoing text-channel message: consult guidance,
// a clinic shortlist or a question prompt.
type OutboxMessage struct {
	ID            string       `json:"id"`
	Recipient     string       `json:"recipient"`
	Kind          string       `json:"kind"`
	Body          string       `json:"body"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at"`
	DedupeKey     string       `json:"dedupe_key"`
	LockedAt      *time.Time   `json:"locked_at"`
	LastError     string       `json:"last_error"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// OutboxRepo defines the interface for durable outbox message persistence.
type OutboxRepo interface {
	// EnqueueOutboxMessage inserts a new outbox message. If dedupeKey is non-empty
	// and a non-terminal message with that key exists, returns the existing ID.
	EnqueueOutboxMessage(recipient, kind, body, dedupeKey string) (string, error)

	// ClaimDueOutboxMessages marks up to limit queued messages whose
	// next_attempt_at <= now (or is NULL) as sending and returns them.
	ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error)

	// MarkOutboxMessageSent marks a message as successfully sent.
	MarkOutboxMessageSent(id string) error

	// FailOutboxMessage records a send failure and schedules a retry at nextAttemptAt.
	FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error

	// CancelOutboxMessage gives up on a message.
	CancelOutboxMessage(id string, reason string) error

	// RequeueStaleSendingMessages resets messages stuck in sending since before
	// staleBefore back to queued (crash recovery).
	RequeueStaleSendingMessages(staleBefore time.Time) (int, error)
}
