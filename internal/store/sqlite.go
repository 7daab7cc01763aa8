// Package store provides storage backends for TriagePipe.
//
// This file implements an SQLite-backed store for outcomes and receipts.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/TriagePipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveOutcome(o Outcome) error {
	_, err := s.db.Exec(
		`INSERT INTO outcomes (`+outcomeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.SessionID, o.Locale, nilIfEmpty(o.CountryCode), nilIfEmpty(o.RiskLevel), nilIfEmpty(o.TimeBucket),
		o.Urgency, o.Trend, nilIfEmpty(o.GuardrailFamily), o.UsedFallback, o.QuestionsAsked, o.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveOutcome failed", "error", err, "id", o.ID)
		return fmt.Errorf("failed to insert outcome %s: %w", o.ID, err)
	}
	slog.Debug("SQLiteStore SaveOutcome succeeded", "id", o.ID, "risk", o.RiskLevel)
	return nil
}

func (s *SQLiteStore) ListOutcomes(limit int) ([]Outcome, error) {
	rows, err := s.db.Query(`SELECT `+outcomeColumns+` FROM outcomes ORDER BY created_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		slog.Error("SQLiteStore ListOutcomes query failed", "error", err)
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outcome rows: %w", err)
	}
	return outcomes, nil
}

func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err)
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	slog.Debug("SQLiteStore AddReceipt succeeded", "status", r.Status)
	return nil
}

func (s *SQLiteStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
