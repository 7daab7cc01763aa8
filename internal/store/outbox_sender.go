// Package store provides the OutboxSender for processing outgoing messages.
package store

import (
	"context"
	"log/slog"
	"time"
)

// OutboxSendFunc performs the actual send of one outbox message.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSender periodically claims due outbox messages and attempts to send them.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	now            func() time.Time
}

// NewOutboxSender creates a new OutboxSender.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		now:            time.Now,
	}
}

// RecoverStaleMessages requeues messages stuck in sending state (crash recovery).
// Should be called once at startup.
func (s *OutboxSender) RecoverStaleMessages() error {
	n, err := s.repo.RequeueStaleSendingMessages(s.now().Add(-s.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll claims and sends the currently due messages once.
func (s *OutboxSender) Poll(ctx context.Context) {
	now := s.now()
	msgs, err := s.repo.ClaimDueOutboxMessages(now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim failed", "error", err)
		return
	}

	for _, msg := range msgs {
		slog.Debug("OutboxSender.Poll: sending message", "id", msg.ID, "kind", msg.Kind, "attempts", msg.Attempts)
		err := s.sendFunc(ctx, msg)
		switch {
		case err == nil:
			if err := s.repo.MarkOutboxMessageSent(msg.ID); err != nil {
				slog.Error("OutboxSender.Poll: mark sent error", "id", msg.ID, "error", err)
			}
			slog.Debug("OutboxSender.Poll: message sent", "id", msg.ID, "kind", msg.Kind)
		case msg.Attempts+1 >= MaxOutboxAttempts:
			slog.Error("OutboxSender.Poll: giving up on message", "id", msg.ID, "attempts", msg.Attempts+1, "error", err)
			if err := s.repo.CancelOutboxMessage(msg.ID, err.Error()); err != nil {
				slog.Error("OutboxSender.Poll: cancel message error", "id", msg.ID, "error", err)
			}
		default:
			// Exponential backoff: 10s, 20s, 40s, ...
			backoff := time.Duration(10*(1<<msg.Attempts)) * time.Second
			slog.Warn("OutboxSender.Poll: send failed, retrying later", "id", msg.ID, "backoff", backoff, "error", err)
			if err := s.repo.FailOutboxMessage(msg.ID, err.Error(), now.Add(backoff)); err != nil {
				slog.Error("OutboxSender.Poll: fail message error", "id", msg.ID, "error", err)
			}
		}
	}
}
