package remote

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/medsync/medsync/internal/schema"
)

// LibSQL pushes records to a Turso / libSQL database.
type LibSQL struct {
	db *sql.DB
}

func openLibSQL(cfg Config) (*LibSQL, error) {
	db, err := sql.Open("libsql", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConns))
	}
	return &LibSQL{db: db}, nil
}

func (l *LibSQL) Probe(ctx context.Context) error {
	var one int
	return l.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

func (l *LibSQL) Create(ctx context.Context, e schema.Entity) (string, error) {
	query, args := libsqlDialect.insertStatement(e)

	var id string
	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("insert %s: %w", e.Kind(), err)
	}
	return id, nil
}

func (l *LibSQL) Update(ctx context.Context, e schema.Entity) error {
	query, args := libsqlDialect.updateStatement(e)

	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", e.Kind(), e.Meta().ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s %s: %w", e.Kind(), e.Meta().ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", e.Kind(), e.Meta().ID, ErrNotFound)
	}
	return nil
}

func (l *LibSQL) Close() error {
	return l.db.Close()
}

// InitSchema creates the remote tables if they don't exist.
func (l *LibSQL) InitSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, libsqlSchema); err != nil {
		return fmt.Errorf("initialize remote schema: %w", err)
	}
	return nil
}

const libsqlSchema = `
CREATE TABLE IF NOT EXISTS patients (
	id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
	name TEXT NOT NULL,
	date_of_birth TEXT,
	phone TEXT,
	email TEXT,
	address TEXT,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS doctors (
	id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
	name TEXT NOT NULL,
	specialization TEXT NOT NULL,
	phone TEXT,
	email TEXT,
	clinic_address TEXT,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tests (
	id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
	patient_id TEXT NOT NULL REFERENCES patients(id),
	referring_doctor_id TEXT REFERENCES doctors(id),
	test_type TEXT NOT NULL,
	test_code TEXT,
	test_template_id TEXT,
	status TEXT NOT NULL DEFAULT 'Pending',
	results TEXT,
	normal_range TEXT,
	units TEXT,
	tested_at TEXT,
	completed_at TEXT,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tests_patient ON tests(patient_id);
`
