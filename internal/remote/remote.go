// Package remote provides the authoritative store that local records are
// pushed to.
//
// The sync engine sees the remote side only through the narrow Store
// interface. Backends are selected by driver name:
//
//	postgres  PostgreSQL through a pgx connection pool
//	libsql    Turso / libSQL over database/sql
//	couchdb   CouchDB through kivik, one document per record
//	memory    in-process store for development and tests
//
// Create and Update carry the record payload and the soft delete flag.
// Local sync metadata (local_id, sync_status, last_synced_at) never leaves
// the local store.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/medsync/medsync/internal/schema"
)

// ErrNotFound is returned by Update when the record does not exist remotely.
var ErrNotFound = errors.New("remote record not found")

// Store is the remote side of a sync pass.
type Store interface {
	// Probe checks reachability. Any error means the remote is unreachable.
	Probe(ctx context.Context) error
	// Create inserts a new record and returns the id the remote assigned.
	Create(ctx context.Context, e schema.Entity) (string, error)
	// Update overwrites the record keyed by e.Meta().ID.
	// Returns ErrNotFound if no such record exists.
	Update(ctx context.Context, e schema.Entity) error
	Close() error
}

// SchemaInitializer is implemented by backends that can create their own
// tables or databases.
type SchemaInitializer interface {
	InitSchema(ctx context.Context) error
}

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverLibSQL   = "libsql"
	DriverCouchDB  = "couchdb"
	DriverMemory   = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Driver   string
	URL      string
	Database string // couchdb database name
	MaxConns int32
	MinConns int32
}

// Open returns the configured backend. No connection is required to
// succeed here: an unreachable remote is reported by Probe, so the local
// side can start while offline.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return openPostgres(ctx, cfg)
	case DriverLibSQL:
		return openLibSQL(cfg)
	case DriverCouchDB:
		return openCouchDB(cfg)
	case DriverMemory:
		return NewMemory(), nil
	case "":
		return nil, errors.New("remote driver is not configured")
	}
	return nil, fmt.Errorf("unknown remote driver %q", cfg.Driver)
}
