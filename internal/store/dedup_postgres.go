package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *PostgresStore) IsDuplicate(messageID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS (SELECT 1 FROM inbound_dedup WHERE message_id = $1)`, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return exists, nil
}

// RecordInbound inserts the claim, or takes over an unprocessed claim that went
// stale. RETURNING yields no row when the existing record stands.
func (s *PostgresStore) RecordInbound(messageID, sender string, now time.Time) (bool, error) {
	var claimed string
	err := s.db.QueryRow(`
		INSERT INTO inbound_dedup (message_id, sender, received_at) VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO UPDATE SET sender = EXCLUDED.sender, received_at = EXCLUDED.received_at
		WHERE inbound_dedup.processed_at IS NULL AND inbound_dedup.received_at < $4
		RETURNING message_id`,
		messageID, sender, now.UTC(), now.Add(-InboundClaimTimeout).UTC(),
	).Scan(&claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) MarkProcessed(messageID string, now time.Time) error {
	var id string
	err := s.db.QueryRow(
		`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2 RETURNING message_id`,
		now.UTC(), messageID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrInboundNotRecorded, messageID)
	}
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
