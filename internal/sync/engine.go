package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/medsync/medsync/internal/remote"
	"github.com/medsync/medsync/internal/schema"
	"github.com/medsync/medsync/internal/store"
)

// LocalStore is the part of the local store a pass reads from and records
// outcomes in.
type LocalStore interface {
	FindPending(ctx context.Context, kind schema.Kind) ([]schema.Entity, error)
	Get(ctx context.Context, kind schema.Kind, id string) (schema.Entity, error)
	MarkCreated(ctx context.Context, kind schema.Kind, oldID, remoteID string, seen, at time.Time) error
	MarkSynced(ctx context.Context, kind schema.Kind, id string, seen, at time.Time) error
	MarkConflict(ctx context.Context, kind schema.Kind, id, msg string) error
}

// Config holds engine timeouts.
type Config struct {
	// ProbeTimeout bounds the liveness probe at the start of a pass.
	ProbeTimeout time.Duration
	// RecordTimeout bounds each create or update call.
	RecordTimeout time.Duration
}

// DefaultConfig returns the default engine timeouts.
func DefaultConfig() Config {
	return Config{
		ProbeTimeout:  5 * time.Second,
		RecordTimeout: 10 * time.Second,
	}
}

// Result summarizes one pass.
type Result struct {
	Success        bool          `json:"success"`
	SyncedPatients int           `json:"syncedPatients"`
	SyncedDoctors  int           `json:"syncedDoctors"`
	SyncedTests    int           `json:"syncedTests"`
	Conflicts      int           `json:"conflicts"`
	Errors         []string      `json:"errors"`
	StartedAt      time.Time     `json:"startedAt"`
	Duration       time.Duration `json:"duration"`
}

// Synced returns the synced count for a kind.
func (r Result) Synced(kind schema.Kind) int {
	switch kind {
	case schema.KindPatient:
		return r.SyncedPatients
	case schema.KindDoctor:
		return r.SyncedDoctors
	case schema.KindTest:
		return r.SyncedTests
	}
	return 0
}

// Total returns the number of records synced across all kinds.
func (r Result) Total() int {
	return r.SyncedPatients + r.SyncedDoctors + r.SyncedTests
}

func (r *Result) addSynced(kind schema.Kind) {
	switch kind {
	case schema.KindPatient:
		r.SyncedPatients++
	case schema.KindDoctor:
		r.SyncedDoctors++
	case schema.KindTest:
		r.SyncedTests++
	}
}

// Engine pushes Pending local records to the remote store, one pass at a
// time.
type Engine struct {
	local  LocalStore
	remote remote.Store
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	running atomic.Bool
}

// New creates an engine. Zero timeouts fall back to DefaultConfig.
func New(local LocalStore, rs remote.Store, cfg Config, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = def.RecordTimeout
	}
	return &Engine{
		local:  local,
		remote: rs,
		cfg:    cfg,
		logger: logger.With().Str("component", "sync").Logger(),
		now:    time.Now,
	}
}

// Running reports whether a pass is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Sync runs one full pass. A call made while another pass is running
// returns at once with ErrSyncInProgress and zero counts.
//
// Once started, a pass runs to completion even if ctx is cancelled.
func (e *Engine) Sync(ctx context.Context) (res Result) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{Errors: []string{ErrSyncInProgress.Error()}}
	}
	defer e.running.Store(false)

	ctx = context.WithoutCancel(ctx)
	res = Result{StartedAt: e.now(), Errors: []string{}}

	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Errors = append(res.Errors, fmt.Sprintf("sync pass aborted: %v", r))
			e.logger.Error().Interface("panic", r).Msg("sync pass panicked")
		}
		res.Duration = e.now().Sub(res.StartedAt)
	}()

	if err := e.probe(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("remote unreachable, skipping pass")
		res.Errors = append(res.Errors, ErrRemoteUnreachable.Error())
		return res
	}

	res.Success = true
	for _, kind := range schema.PushOrder {
		// Fetched per kind so Tests see ids swapped earlier in this pass.
		pending, err := e.local.FindPending(ctx, kind)
		if err != nil {
			res.Success = false
			res.Errors = append(res.Errors, fmt.Sprintf("load pending %s: %v", kind.Plural(), err))
			e.logger.Error().Err(err).Str("kind", kind.String()).Msg("failed to load pending records")
			return res
		}

		for _, rec := range pending {
			e.pushRecord(ctx, rec, &res)
		}
	}

	e.logger.Info().
		Int("patients", res.SyncedPatients).
		Int("doctors", res.SyncedDoctors).
		Int("tests", res.SyncedTests).
		Int("conflicts", res.Conflicts).
		Msg("sync pass complete")
	return res
}

func (e *Engine) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	defer cancel()
	return e.remote.Probe(ctx)
}

// pushRecord pushes one record and records the outcome locally. Failures
// flag the record Conflict and never stop the pass.
func (e *Engine) pushRecord(ctx context.Context, rec schema.Entity, res *Result) {
	kind, meta := rec.Kind(), rec.Meta()
	log := e.logger.With().Str("kind", kind.String()).Str("id", meta.ID).Logger()

	err := e.push(ctx, rec)
	switch {
	case errors.Is(err, errSuperseded):
		log.Info().Msg("record changed during push, left Pending")
		return
	case errors.Is(err, errNotRecorded):
		// The record stays Pending and the next pass retries it.
		res.Errors = append(res.Errors, fmt.Sprintf("%s %s: %v", kind, meta.ID, err))
		return
	}
	if err != nil {
		res.Conflicts++
		res.Errors = append(res.Errors, err.Error())
		log.Warn().Err(err).Msg("push failed, flagged as conflict")

		cause := err
		var rerr *RecordError
		if errors.As(err, &rerr) {
			cause = rerr.Err
		}
		if merr := e.local.MarkConflict(ctx, kind, meta.ID, cause.Error()); merr != nil {
			log.Error().Err(merr).Msg("failed to record conflict")
		}
		return
	}
	res.addSynced(kind)
}

// errNotRecorded means the remote call succeeded but the local store did
// not take the outcome.
var errNotRecorded = errors.New("push outcome not recorded locally")

// errSuperseded means the remote call succeeded but the record was saved
// again meanwhile, so the newer version still has to be pushed.
var errSuperseded = errors.New("record changed during push")

// push performs the remote call for one record and the matching local
// bookkeeping.
func (e *Engine) push(ctx context.Context, rec schema.Entity) error {
	kind, meta := rec.Kind(), rec.Meta()

	if !meta.IsDeleted && meta.IsLocalOnly() {
		if err := e.checkReferences(ctx, rec); err != nil {
			return &RecordError{Kind: kind, ID: meta.ID, Op: "check", Err: err}
		}

		rctx, cancel := context.WithTimeout(ctx, e.cfg.RecordTimeout)
		remoteID, err := e.remote.Create(rctx, rec)
		cancel()
		if err != nil {
			return &RecordError{Kind: kind, ID: meta.ID, Op: "create", Err: err}
		}
		if remoteID == "" {
			return &RecordError{Kind: kind, ID: meta.ID, Op: "create", Err: errors.New("remote returned an empty id")}
		}

		err = e.local.MarkCreated(ctx, kind, meta.ID, remoteID, meta.UpdatedAt, e.now())
		if errors.Is(err, store.ErrChanged) {
			return errSuperseded
		}
		if err != nil {
			e.logger.Error().Err(err).Str("kind", kind.String()).Str("id", meta.ID).
				Str("remote_id", remoteID).Msg("failed to record create")
			return errNotRecorded
		}
		return nil
	}

	if !meta.IsDeleted {
		if err := e.checkReferences(ctx, rec); err != nil {
			return &RecordError{Kind: kind, ID: meta.ID, Op: "check", Err: err}
		}
	}

	rctx, cancel := context.WithTimeout(ctx, e.cfg.RecordTimeout)
	err := e.remote.Update(rctx, rec)
	cancel()
	switch {
	case errors.Is(err, remote.ErrNotFound):
		e.logger.Warn().Str("kind", kind.String()).Str("id", meta.ID).
			Bool("deleted", meta.IsDeleted).Msg("record absent remotely, nothing to update")
	case err != nil:
		return &RecordError{Kind: kind, ID: meta.ID, Op: "update", Err: err}
	}

	err = e.local.MarkSynced(ctx, kind, meta.ID, meta.UpdatedAt, e.now())
	if errors.Is(err, store.ErrChanged) {
		return errSuperseded
	}
	if err != nil {
		e.logger.Error().Err(err).Str("kind", kind.String()).Str("id", meta.ID).Msg("failed to record sync")
		return errNotRecorded
	}
	return nil
}

// checkReferences fails a record that points at a local-only record.
// References unknown locally are left for the remote store to judge.
func (e *Engine) checkReferences(ctx context.Context, rec schema.Entity) error {
	for kind, ids := range schema.References(rec) {
		for _, id := range ids {
			ref, err := e.local.Get(ctx, kind, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("load %s %s: %w", kind, id, err)
			}
			if ref.Meta().IsLocalOnly() {
				return fmt.Errorf("%s %s %w", kind, id, ErrUnsyncedReference)
			}
		}
	}
	return nil
}
