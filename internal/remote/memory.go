package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/medsync/medsync/internal/schema"
)

// ErrOffline is returned by every Memory call while it is offline.
var ErrOffline = errors.New("remote offline")

// Call records one Create or Update made against a Memory store.
type Call struct {
	Op   string // "create" or "update"
	Kind schema.Kind
	ID   string // record id sent (empty for create)
}

// Memory is an in-process remote store. It keeps the last pushed payload of
// every record and can be switched offline or told to fail specific calls.
type Memory struct {
	mu      sync.Mutex
	offline bool
	records map[schema.Kind]map[string]json.RawMessage
	calls   []Call
	failFn  func(op string, e schema.Entity) error
}

// NewMemory returns an empty, online Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[schema.Kind]map[string]json.RawMessage)}
}

// SetOffline makes every subsequent call fail with ErrOffline.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// FailWith installs a hook consulted before every Create and Update. A
// non-nil return fails the call with that error.
func (m *Memory) FailWith(fn func(op string, e schema.Entity) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFn = fn
}

// Calls returns a copy of the Create and Update calls made so far.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Record returns the stored payload of a record.
func (m *Memory) Record(kind schema.Kind, id string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.records[kind][id]
	return raw, ok
}

// Len returns the number of records stored for a kind.
func (m *Memory) Len(kind schema.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[kind])
}

// Put stores a record directly, bypassing the call log.
func (m *Memory) Put(e schema.Entity) error {
	raw, err := payload(e)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucket(e.Kind())[e.Meta().ID] = raw
	return nil
}

func (m *Memory) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return ErrOffline
	}
	return nil
}

func (m *Memory) Create(ctx context.Context, e schema.Entity) (string, error) {
	if err := m.before(ctx, "create", e, ""); err != nil {
		return "", err
	}
	raw, err := payload(e)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.bucket(e.Kind())[id] = raw
	return id, nil
}

func (m *Memory) Update(ctx context.Context, e schema.Entity) error {
	id := e.Meta().ID
	if err := m.before(ctx, "update", e, id); err != nil {
		return err
	}
	raw, err := payload(e)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.bucket(e.Kind())
	if _, ok := bucket[id]; !ok {
		return fmt.Errorf("%s %s: %w", e.Kind(), id, ErrNotFound)
	}
	bucket[id] = raw
	return nil
}

func (m *Memory) Close() error { return nil }

// before logs the call and applies the offline flag and failure hook.
func (m *Memory) before(ctx context.Context, op string, e schema.Entity, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: op, Kind: e.Kind(), ID: id})
	offline, fail := m.offline, m.failFn
	m.mu.Unlock()

	if offline {
		return ErrOffline
	}
	if fail != nil {
		return fail(op, e)
	}
	return nil
}

// bucket must be called with mu held.
func (m *Memory) bucket(kind schema.Kind) map[string]json.RawMessage {
	b, ok := m.records[kind]
	if !ok {
		b = make(map[string]json.RawMessage)
		m.records[kind] = b
	}
	return b
}

func payload(e schema.Entity) (json.RawMessage, error) {
	doc := map[string]any{"is_deleted": e.Meta().IsDeleted}
	for _, f := range schema.Fields(e) {
		doc[f.Name] = f.Value
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	return raw, nil
}
