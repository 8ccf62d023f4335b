// Package queue is the write path for Patient, Doctor and Test records.
//
// Every mutation is validated, written to the local store as Pending and,
// when the network is believed to be up, followed by a non-blocking sync
// request. A write never waits for or fails because of the remote store.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsync/medsync/internal/schema"
	"github.com/medsync/medsync/internal/store"
)

// Store is the part of the local store the queue writes through.
type Store interface {
	Save(ctx context.Context, e schema.Entity) error
	Get(ctx context.Context, kind schema.Kind, id string) (schema.Entity, error)
}

// Notifier reports connectivity and accepts sync requests.
// Trigger must not block.
type Notifier interface {
	IsOnline() bool
	Trigger()
}

// LocalWriteError is returned when the local store rejects a write.
type LocalWriteError struct {
	Kind schema.Kind
	ID   string
	Err  error
}

func (e *LocalWriteError) Error() string {
	return fmt.Sprintf("local write %s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *LocalWriteError) Unwrap() error { return e.Err }

// Queue accepts record mutations while online or offline.
type Queue struct {
	store    Store
	notifier Notifier
	logger   zerolog.Logger
}

// New creates a queue. A nil notifier never triggers a sync.
func New(st Store, n Notifier, logger zerolog.Logger) *Queue {
	return &Queue{
		store:    st,
		notifier: n,
		logger:   logger.With().Str("component", "queue").Logger(),
	}
}

// Enqueue validates e, persists it locally as Pending and returns the
// stored record.
//
// A record without an id is new: it gets a fresh identifier that is also
// its local_id until the remote assigns one. A record with an id is an
// update of an existing record; an unknown id returns store.ErrNotFound.
//
// Validation failures are returned as *schema.ValidationError and store
// failures as *LocalWriteError.
func (q *Queue) Enqueue(ctx context.Context, e schema.Entity) (schema.Entity, error) {
	if e == nil || !e.Kind().Valid() {
		return nil, errors.New("enqueue: invalid entity")
	}
	if d, ok := e.(schema.Defaulter); ok {
		d.SetDefaults()
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	meta := e.Meta()
	meta.ResetSync()
	if meta.ID == "" {
		id := uuid.NewString()
		meta.ID = id
		meta.LocalID = id
	} else {
		if _, err := q.store.Get(ctx, e.Kind(), meta.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			return nil, &LocalWriteError{Kind: e.Kind(), ID: meta.ID, Err: err}
		}
		// The store keeps an existing row's local_id.
		meta.LocalID = ""
	}

	if err := q.store.Save(ctx, e); err != nil {
		return nil, &LocalWriteError{Kind: e.Kind(), ID: meta.ID, Err: err}
	}

	saved, err := q.store.Get(ctx, e.Kind(), meta.ID)
	if err != nil {
		return nil, &LocalWriteError{Kind: e.Kind(), ID: meta.ID, Err: err}
	}

	q.logger.Debug().
		Str("kind", e.Kind().String()).
		Str("id", meta.ID).
		Bool("local_only", saved.Meta().IsLocalOnly()).
		Bool("deleted", saved.Meta().IsDeleted).
		Msg("enqueued")

	q.notify()
	return saved, nil
}

// Delete soft-deletes a record. The deletion is pushed like any other
// mutation.
func (q *Queue) Delete(ctx context.Context, kind schema.Kind, id string) (schema.Entity, error) {
	e, err := q.store.Get(ctx, kind, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, &LocalWriteError{Kind: kind, ID: id, Err: err}
	}
	e.Meta().IsDeleted = true
	return q.Enqueue(ctx, e)
}

func (q *Queue) notify() {
	if q.notifier == nil || !q.notifier.IsOnline() {
		return
	}
	q.notifier.Trigger()
}
