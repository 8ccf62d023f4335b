package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/medsync/medsync/internal/schema"
)

// CouchDB pushes records to a CouchDB database, one document per record.
type CouchDB struct {
	client *kivik.Client
	dbName string
}

func openCouchDB(cfg Config) (*CouchDB, error) {
	if cfg.Database == "" {
		return nil, errors.New("couchdb database name is required")
	}
	client, err := kivik.New("couch", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to couchdb: %w", err)
	}
	return &CouchDB{client: client, dbName: cfg.Database}, nil
}

func (c *CouchDB) Probe(ctx context.Context) error {
	up, err := c.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !up {
		return errors.New("couchdb is not responding")
	}
	return nil
}

func (c *CouchDB) Create(ctx context.Context, e schema.Entity) (string, error) {
	db := c.client.DB(c.dbName)

	id, _, err := db.CreateDoc(ctx, document(e))
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", e.Kind(), err)
	}
	return id, nil
}

func (c *CouchDB) Update(ctx context.Context, e schema.Entity) error {
	db := c.client.DB(c.dbName)
	id := e.Meta().ID

	rev, err := db.GetRev(ctx, id)
	if kivik.HTTPStatus(err) == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", e.Kind(), id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch %s %s: %w", e.Kind(), id, err)
	}

	doc := document(e)
	doc["_rev"] = rev
	if _, err := db.Put(ctx, id, doc); err != nil {
		return fmt.Errorf("failed to update %s %s: %w", e.Kind(), id, err)
	}
	return nil
}

func (c *CouchDB) Close() error {
	return c.client.Close()
}

// InitSchema creates the database if it doesn't exist.
func (c *CouchDB) InitSchema(ctx context.Context) error {
	exists, err := c.client.DBExists(ctx, c.dbName)
	if err != nil {
		return fmt.Errorf("failed to check database existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.client.CreateDB(ctx, c.dbName); err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	return nil
}

// document renders a record as a CouchDB document body.
func document(e schema.Entity) map[string]any {
	doc := map[string]any{
		"type":       e.Kind().String(),
		"is_deleted": e.Meta().IsDeleted,
		"updated_at": time.Now().UTC(),
	}
	for _, f := range schema.Fields(e) {
		if f.Value != nil {
			doc[f.Name] = f.Value
		}
	}
	return doc
}
