package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/medsync/medsync/internal/api"
	"github.com/medsync/medsync/internal/config"
	"github.com/medsync/medsync/internal/daemon"
	"github.com/medsync/medsync/internal/dashboard"
	"github.com/medsync/medsync/internal/logging"
	"github.com/medsync/medsync/internal/queue"
	syncer "github.com/medsync/medsync/internal/sync"
	"github.com/medsync/medsync/internal/ui"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the sync daemon and HTTP API",
	Long: `Run the sync daemon and the HTTP API in the foreground.

The daemon probes the remote every sync.probe_interval and runs a pass when
the remote comes back, every sync.interval while online, and shortly after
each local write while online. The API serves record CRUD under /api and a
live status feed over WebSocket at /ws.

Changes to log.level in the config file take effect without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if serveAddr != "" {
			a.cfg.HTTP.Addr = serveAddr
		}

		rs, err := a.openRemote(ctx)
		if err != nil {
			return err
		}
		defer rs.Close()

		engine := a.engine(rs)

		var mon *daemon.Monitor
		hub := dashboard.NewHub(func(ctx context.Context) (daemon.Status, error) {
			return mon.Status(ctx)
		}, a.logger)
		mon = daemon.New(engine, a.store, daemon.Config{
			SyncInterval:  a.cfg.Sync.Interval,
			ProbeInterval: a.cfg.Sync.ProbeInterval,
			ProbeTimeout:  a.cfg.Sync.ProbeTimeout,
			Prober:        rs,
			OnSync:        hub.BroadcastSync,
			OnStatus:      func(bool) { hub.PublishStatus() },
		}, a.logger)

		hub.Start()
		defer hub.Stop()

		q := queue.New(a.store, mon, a.logger)
		srv := api.New(q, a.store, mon, hub, a.logger)

		if a.cfg.File != "" {
			w, err := watchLogLevel(a)
			if err != nil {
				a.logger.Warn().Err(err).Msg("config reload disabled")
			} else {
				defer w.Stop()
			}
		}

		fmt.Printf("%s Serving on %s (remote: %s)\n", ui.RenderPass("✓"), ui.RenderAccent(a.cfg.HTTP.Addr), a.cfg.Remote.Driver)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return mon.Start(gctx)
		})
		g.Go(func() error {
			return srv.Start(a.cfg.HTTP.Addr)
		})
		g.Go(func() error {
			<-gctx.Done()
			return srv.Shutdown(context.Background())
		})
		return g.Wait()
	},
}

// watchLogLevel applies log.level changes from the config file while
// serving. Other settings need a restart.
func watchLogLevel(a *app) (*config.Watcher, error) {
	w, err := config.NewWatcher(a.cfg.File, func(cfg *config.Config) {
		if cfg.Log.Level == a.cfg.Log.Level {
			return
		}
		if err := logging.SetLevel(cfg.Log.Level); err != nil {
			a.logger.Warn().Err(err).Msg("ignoring log level change")
			return
		}
		a.logger.Info().Str("from", a.cfg.Log.Level).Str("to", cfg.Log.Level).Msg("log level changed")
		a.cfg.Log.Level = cfg.Log.Level
	}, func(err error) {
		a.logger.Warn().Err(err).Msg("config reload failed")
	})
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, nil
}

// Compile-time checks that the daemon pieces satisfy what the API and
// queue need.
var (
	_ api.Monitor    = (*daemon.Monitor)(nil)
	_ api.Dashboard  = (*dashboard.Hub)(nil)
	_ queue.Notifier = (*daemon.Monitor)(nil)
	_ daemon.Syncer  = (*syncer.Engine)(nil)
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides http.addr)")
	rootCmd.AddCommand(serveCmd)
}
