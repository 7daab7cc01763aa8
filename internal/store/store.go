// Package store provides storage backends for TriagePipe.
//
// It persists anonymized triage outcomes, text-channel delivery receipts, the
// durable outbox for outgoing messages and inbound message deduplication. No
// answer text is ever stored.
package store

import (
	"strings"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// DefaultListLimit caps ListOutcomes when no limit is given.
const DefaultListLimit = 100

// Outcome is the anonymized record of one finished triage session.
type Outcome struct {
	ID              string        `json:"id"`
	SessionID       string        `json:"sessionId"`
	Locale          models.Locale `json:"locale"`
	CountryCode     string        `json:"countryCode,omitempty"`
	RiskLevel       string        `json:"riskLevel,omitempty"` // empty when undetermined
	TimeBucket      string        `json:"timeBucket,omitempty"`
	Urgency         string        `json:"urgency"`
	Trend           models.Trend  `json:"emotionalTrend"`
	GuardrailFamily string        `json:"guardrailFamily,omitempty"`
	UsedFallback    bool          `json:"usedFallback"`
	QuestionsAsked  int           `json:"questionsAsked"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// Store is the persistence surface used by the rest of the application.
type Store interface {
	SaveOutcome(o Outcome) error
	// ListOutcomes returns the newest outcomes first.
	ListOutcomes(limit int) ([]Outcome, error)
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)
	OutboxRepo
	DedupRepo
	Close() error
}

// Opts holds configuration for the SQL stores.
type Opts struct {
	DSN string
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL URLs and key/value connection
// strings, and "sqlite3" for anything else (a file path).
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open returns the store selected by dsn: PostgreSQL, SQLite, or an in-memory
// store when dsn is empty.
func Open(dsn string) (Store, error) {
	switch {
	case dsn == "":
		return NewInMemoryStore(), nil
	case DetectDSNType(dsn) == "postgres":
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
