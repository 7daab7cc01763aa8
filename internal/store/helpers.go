package store

import (
	"database/sql"
	"fmt"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanOutcome scans an Outcome row in the column order used by both SQL stores.
func scanOutcome(row rowScanner) (Outcome, error) {
	var o Outcome
	var country, risk, bucket, family sql.NullString
	err := row.Scan(
		&o.ID, &o.SessionID, &o.Locale, &country, &risk, &bucket, &o.Urgency, &o.Trend,
		&family, &o.UsedFallback, &o.QuestionsAsked, &o.CreatedAt,
	)
	if err != nil {
		return o, fmt.Errorf("scan outcome failed: %w", err)
	}
	o.CountryCode = country.String
	o.RiskLevel = risk.String
	o.TimeBucket = bucket.String
	o.GuardrailFamily = family.String
	return o, nil
}

// scanOutboxMessage scans an OutboxMessage row.
func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.Recipient, &m.Kind, &m.Body, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}

const outcomeColumns = `id, session_id, locale, country_code, risk_level, time_bucket, urgency, trend, guardrail_family, used_fallback, questions_asked, created_at`

const outboxColumns = `id, recipient, kind, body, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`
