package remote

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsync/medsync/internal/schema"
)

// Postgres pushes records to PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Probe(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Create(ctx context.Context, e schema.Entity) (string, error) {
	query, args := postgresDialect.insertStatement(e)

	var id string
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("insert %s: %w", e.Kind(), err)
	}
	return id, nil
}

func (p *Postgres) Update(ctx context.Context, e schema.Entity) error {
	query, args := postgresDialect.updateStatement(e)

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", e.Kind(), e.Meta().ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", e.Kind(), e.Meta().ID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// InitSchema creates the remote tables if they don't exist.
func (p *Postgres) InitSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("initialize remote schema: %w", err)
	}
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS patients (
	id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name TEXT NOT NULL,
	date_of_birth TIMESTAMPTZ,
	phone TEXT,
	email TEXT,
	address TEXT,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS doctors (
	id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name TEXT NOT NULL,
	specialization TEXT NOT NULL,
	phone TEXT,
	email TEXT,
	clinic_address TEXT,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tests (
	id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	patient_id TEXT NOT NULL REFERENCES patients(id),
	referring_doctor_id TEXT REFERENCES doctors(id),
	test_type TEXT NOT NULL,
	test_code TEXT,
	test_template_id TEXT,
	status TEXT NOT NULL DEFAULT 'Pending',
	results JSONB,
	normal_range JSONB,
	units TEXT,
	tested_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tests_patient ON tests(patient_id);
`
