package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/medsync/medsync/internal/schema"
	syncer "github.com/medsync/medsync/internal/sync"
)

// Syncer runs sync passes. *sync.Engine implements it.
type Syncer interface {
	Sync(ctx context.Context) syncer.Result
	Running() bool
}

// Counter reports per-kind counts. *store.Store implements it.
type Counter interface {
	CountPending(ctx context.Context, kind schema.Kind) (int, error)
	CountConflicts(ctx context.Context, kind schema.Kind) (int, error)
}

// Prober checks that the remote store is reachable. remote.Store
// implements it.
type Prober interface {
	Probe(ctx context.Context) error
}

// Config holds monitor configuration.
type Config struct {
	// SyncInterval is how often a pass runs while online (default: 30s)
	SyncInterval time.Duration

	// ProbeInterval is how often Prober is consulted (default: 15s)
	ProbeInterval time.Duration

	// ProbeTimeout bounds each connectivity probe (default: 5s)
	ProbeTimeout time.Duration

	// Prober, when set, drives SetOnline from probe results.
	Prober Prober

	// OnSync receives the result of every pass the monitor runs.
	OnSync func(syncer.Result)

	// OnStatus is called after connectivity changes.
	OnStatus func(online bool)
}

// DefaultConfig returns default monitor configuration.
func DefaultConfig() Config {
	return Config{
		SyncInterval:  30 * time.Second,
		ProbeInterval: 15 * time.Second,
		ProbeTimeout:  5 * time.Second,
	}
}

// Status is a snapshot of local sync state.
type Status struct {
	PendingPatients int  `json:"pendingPatients"`
	PendingDoctors  int  `json:"pendingDoctors"`
	PendingTests    int  `json:"pendingTests"`
	Conflicts       int  `json:"conflicts"`
	IsOnline        bool `json:"isOnline"`
	Syncing         bool `json:"syncing"`
}

// Pending returns the total number of pending records.
func (s Status) Pending() int {
	return s.PendingPatients + s.PendingDoctors + s.PendingTests
}

// Monitor tracks connectivity and schedules sync passes.
type Monitor struct {
	engine  Syncer
	counter Counter
	config  Config
	logger  zerolog.Logger

	online  atomic.Bool
	trigger chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor. It starts offline; zero durations fall back to
// DefaultConfig.
func New(engine Syncer, counter Counter, config Config, logger zerolog.Logger) *Monitor {
	def := DefaultConfig()
	if config.SyncInterval <= 0 {
		config.SyncInterval = def.SyncInterval
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = def.ProbeInterval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = def.ProbeTimeout
	}

	return &Monitor{
		engine:  engine,
		counter: counter,
		config:  config,
		logger:  logger.With().Str("component", "daemon").Logger(),
		trigger: make(chan struct{}, 1),
	}
}

// IsOnline reports the last known connectivity.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// SetOnline records a connectivity event. Going from offline to online
// schedules one sync pass.
func (m *Monitor) SetOnline(online bool) {
	was := m.online.Swap(online)
	if was == online {
		return
	}

	m.logger.Info().Bool("online", online).Msg("connectivity changed")
	if online {
		m.Trigger()
	}
	if m.config.OnStatus != nil {
		m.config.OnStatus(online)
	}
}

// Trigger asks the scheduler for a pass without blocking. A trigger that
// arrives while one is already queued is dropped.
func (m *Monitor) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Start runs the scheduler, and the connectivity loop when a Prober is
// configured, until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return errors.New("monitor already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go m.schedule(ctx)

	if m.config.Prober != nil {
		m.wg.Add(1)
		go m.watchConnectivity(ctx)
	}

	m.logger.Info().
		Dur("sync_interval", m.config.SyncInterval).
		Bool("probing", m.config.Prober != nil).
		Msg("monitor started")

	<-ctx.Done()
	m.wg.Wait()
	m.logger.Info().Msg("monitor stopped")
	return nil
}

// Stop cancels Start and waits for its goroutines to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// schedule runs passes on trigger, and on every tick while online.
func (m *Monitor) schedule(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.trigger:
			m.runSync(ctx, "trigger")
		case <-ticker.C:
			if m.IsOnline() {
				m.runSync(ctx, "interval")
			}
		}
	}
}

func (m *Monitor) watchConnectivity(ctx context.Context) {
	defer m.wg.Done()

	m.probe(ctx)

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	err := m.config.Prober.Probe(pctx)
	cancel()

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.logger.Debug().Err(err).Msg("probe failed")
	}
	m.SetOnline(err == nil)
}

// SyncNow runs a pass immediately in the caller's goroutine. It returns
// ErrSyncInProgress in the result if a pass is already running.
func (m *Monitor) SyncNow(ctx context.Context) syncer.Result {
	return m.runSync(ctx, "manual")
}

func (m *Monitor) runSync(ctx context.Context, reason string) syncer.Result {
	res := m.engine.Sync(ctx)

	ev := m.logger.Info()
	if !res.Success {
		ev = m.logger.Warn().Strs("errors", res.Errors)
	}
	ev.Str("reason", reason).
		Int("synced", res.Total()).
		Int("conflicts", res.Conflicts).
		Dur("duration", res.Duration).
		Msg("sync pass finished")

	if m.config.OnSync != nil {
		m.config.OnSync(res)
	}
	return res
}

// Status returns pending and conflict counts with current connectivity.
// It never starts a pass.
func (m *Monitor) Status(ctx context.Context) (Status, error) {
	st := Status{
		IsOnline: m.IsOnline(),
		Syncing:  m.engine.Running(),
	}

	for _, kind := range schema.PushOrder {
		pending, err := m.counter.CountPending(ctx, kind)
		if err != nil {
			return Status{}, fmt.Errorf("failed to count pending %s: %w", kind.Plural(), err)
		}
		conflicts, err := m.counter.CountConflicts(ctx, kind)
		if err != nil {
			return Status{}, fmt.Errorf("failed to count conflicting %s: %w", kind.Plural(), err)
		}

		switch kind {
		case schema.KindPatient:
			st.PendingPatients = pending
		case schema.KindDoctor:
			st.PendingDoctors = pending
		case schema.KindTest:
			st.PendingTests = pending
		}
		st.Conflicts += conflicts
	}
	return st, nil
}
