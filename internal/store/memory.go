package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/util"
)

// InMemoryStore keeps everything in process memory. It is the default when no
// database is configured and is used in tests.
type InMemoryStore struct {
	mu       sync.Mutex
	outcomes []Outcome
	receipts []models.Receipt
	outbox   map[string]*OutboxMessage
	inbound  map[string]*DedupRecord
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		outbox:  make(map[string]*OutboxMessage),
		inbound: make(map[string]*DedupRecord),
	}
}

func (s *InMemoryStore) SaveOutcome(o Outcome) error {
	if o.ID == "" {
		return fmt.Errorf("outcome id not set")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

func (s *InMemoryStore) ListOutcomes(limit int) ([]Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Outcome, len(s.outcomes))
	copy(out, s.outcomes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n := clampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(recipient, kind, body, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	id := util.GenerateRandomID("outbox_", 32)
	s.outbox[id] = &OutboxMessage{
		ID: id, Recipient: recipient, Kind: kind, Body: body, Status: OutboxStatusQueued,
		DedupeKey: dedupeKey, CreatedAt: now, UpdatedAt: now,
	}
	return id, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued && (m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]OutboxMessage, 0, len(due))
	for _, m := range due {
		locked := now
		m.Status = OutboxStatusSending
		m.LockedAt = &locked
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusSent
	})
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		m.NextAttemptAt = &nextAttemptAt
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) CancelOutboxMessage(id string, reason string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusCanceled
		m.Attempts++
		m.LastError = reason
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

// OutboxMessage returns a copy of one outbox record.
func (s *InMemoryStore) OutboxMessage(id string) (OutboxMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return OutboxMessage{}, false
	}
	return *m, true
}

func (s *InMemoryStore) updateOutbox(id string, fn func(*OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("outbox message %s not found", id)
	}
	fn(m)
	m.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inbound[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, sender string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.inbound[messageID]; ok && !rec.reclaimable(now) {
		return false, nil
	}
	s.inbound[messageID] = &DedupRecord{MessageID: messageID, Sender: sender, ReceivedAt: now}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[messageID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInboundNotRecorded, messageID)
	}
	rec.ProcessedAt = &now
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
