package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/medsync/medsync/internal/config"
	"github.com/medsync/medsync/internal/logging"
	"github.com/medsync/medsync/internal/remote"
	"github.com/medsync/medsync/internal/store"
	syncer "github.com/medsync/medsync/internal/sync"
)

// app holds what every command needs: configuration, a logger and the
// local store with its schema in place.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
	store     *store.Store
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Local.Path)
	if err != nil {
		closer.Close()
		return nil, err
	}
	if err := st.InitSchemaContext(ctx); err != nil {
		st.Close()
		closer.Close()
		return nil, err
	}

	logger.Debug().Str("local", st.Path()).Str("config", cfg.File).Msg("local store ready")
	return &app{cfg: cfg, logger: logger, logCloser: closer, store: st}, nil
}

// openRemote opens the configured remote store.
func (a *app) openRemote(ctx context.Context) (remote.Store, error) {
	if err := a.cfg.ValidateRemote(); err != nil {
		return nil, err
	}
	return remote.Open(ctx, a.cfg.Remote.Options())
}

func (a *app) engine(rs remote.Store) *syncer.Engine {
	return syncer.New(a.store, rs, syncer.Config{
		ProbeTimeout:  a.cfg.Sync.ProbeTimeout,
		RecordTimeout: a.cfg.Sync.RecordTimeout,
	}, a.logger)
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close local store")
	}
	_ = a.logCloser.Close()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
