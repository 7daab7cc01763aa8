package store

import (
	"fmt"
	"time"
)

func (s *SQLiteStore) IsDuplicate(messageID string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM inbound_dedup WHERE message_id = ?`, messageID).Scan(&n); err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return n > 0, nil
}

// RecordInbound upserts the claim; the conditional update only fires for a
// stale, unprocessed claim, so RowsAffected is 1 exactly when this caller owns
// the message.
func (s *SQLiteStore) RecordInbound(messageID, sender string, now time.Time) (bool, error) {
	result, err := s.db.Exec(`
		INSERT INTO inbound_dedup (message_id, sender, received_at) VALUES (?, ?, ?)
		ON CONFLICT (message_id) DO UPDATE SET sender = excluded.sender, received_at = excluded.received_at
		WHERE inbound_dedup.processed_at IS NULL AND inbound_dedup.received_at < ?`,
		messageID, sender, now.UTC(), now.Add(-InboundClaimTimeout).UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) MarkProcessed(messageID string, now time.Time) error {
	result, err := s.db.Exec(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, now.UTC(), messageID)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrInboundNotRecorded, messageID)
	}
	return nil
}
