// Package store provides the local SQLite store for medsync.
//
// The local store is the always-available side of the offline-first design.
// Every mutation lands here first, tagged Pending, and the sync engine later
// records its push outcome against the same rows.
//
// Architecture:
//   - Database file: .medsync/local.db (configurable)
//   - WAL mode: status reads never wait on a running sync pass
//   - Tables: patients, doctors, tests, patient_doctors
//   - Foreign keys: tests and patient_doctors follow patient/doctor id swaps
//     through ON UPDATE CASCADE
//
// Lifecycle of a row:
//  1. Save writes the payload with sync_status = Pending
//  2. The sync engine pushes it and calls MarkCreated or MarkSynced with
//     the updated_at it read; a row saved again meanwhile stays Pending
//  3. A failed push calls MarkConflict; only ResetConflict moves it back
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a record does not exist locally.
var ErrNotFound = errors.New("record not found")

// ErrChanged is returned when a push outcome arrives for a record that was
// saved again after the engine read it.
var ErrChanged = errors.New("record changed since it was read")

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite connection pool holding the local records.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new store at the specified path.
//
// The database is opened in WAL mode with foreign keys enforced on every
// pooled connection. If the file doesn't exist it is created; call
// InitSchema to create the tables.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open(".medsync/local.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Pragmas in the DSN apply to each new connection, not just the first.
	params := url.Values{}
	params.Add("_pragma", "journal_mode(wal)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "foreign_keys(1)")
	connStr := fmt.Sprintf("file:%s?%s", path, params.Encode())

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &Store{conn: conn, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection pool.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

const metaColumnsSQL = `
		id TEXT PRIMARY KEY,
		local_id TEXT UNIQUE,
		sync_status TEXT NOT NULL DEFAULT 'Pending'
			CHECK (sync_status IN ('Pending', 'Synced', 'Conflict')),
		is_deleted INTEGER NOT NULL DEFAULT 0,
		last_synced_at TEXT,
		sync_error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,`

var schemaSQL = `
	CREATE TABLE IF NOT EXISTS patients (` + metaColumnsSQL + `
		name TEXT NOT NULL,
		date_of_birth TEXT,
		phone TEXT,
		email TEXT,
		address TEXT
	);

	CREATE TABLE IF NOT EXISTS doctors (` + metaColumnsSQL + `
		name TEXT NOT NULL,
		specialization TEXT NOT NULL,
		phone TEXT,
		email TEXT,
		clinic_address TEXT
	);

	CREATE TABLE IF NOT EXISTS tests (` + metaColumnsSQL + `
		patient_id TEXT NOT NULL
			REFERENCES patients(id) ON UPDATE CASCADE,
		referring_doctor_id TEXT
			REFERENCES doctors(id) ON UPDATE CASCADE,
		test_type TEXT NOT NULL,
		test_code TEXT,
		test_template_id TEXT,
		status TEXT NOT NULL DEFAULT 'Pending',
		results TEXT,       -- JSON
		normal_range TEXT,  -- JSON
		units TEXT,
		tested_at TEXT,
		completed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS patient_doctors (
		patient_id TEXT NOT NULL,
		doctor_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (patient_id, doctor_id),
		FOREIGN KEY (patient_id) REFERENCES patients(id) ON UPDATE CASCADE ON DELETE CASCADE,
		FOREIGN KEY (doctor_id) REFERENCES doctors(id) ON UPDATE CASCADE ON DELETE CASCADE
	);

	-- Pending scans and status counts
	CREATE INDEX IF NOT EXISTS idx_patients_sync ON patients(sync_status, is_deleted);
	CREATE INDEX IF NOT EXISTS idx_doctors_sync ON doctors(sync_status, is_deleted);
	CREATE INDEX IF NOT EXISTS idx_tests_sync ON tests(sync_status, is_deleted);

	CREATE INDEX IF NOT EXISTS idx_tests_patient ON tests(patient_id);
	CREATE INDEX IF NOT EXISTS idx_tests_doctor ON tests(referring_doctor_id);
	CREATE INDEX IF NOT EXISTS idx_patient_doctors_doctor ON patient_doctors(doctor_id);
	`

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
