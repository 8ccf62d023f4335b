package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/medsync/medsync/internal/remote"
	"github.com/medsync/medsync/internal/ui"
)

var (
	initRemote   bool
	initWrite    string
	initDriver   string
	initURL      string
	initDatabase string
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "advanced",
	Short:   "Create the local store and optionally the remote schema",
	Long: `Create the local SQLite store and its tables.

With --write, a starter config file is written first. With --remote, the
remote backend's tables (or CouchDB database) are created as well.

Configuration keys and their environment variables:
  local.path           MEDSYNC_LOCAL_PATH
  remote.driver        MEDSYNC_REMOTE_DRIVER   (postgres, libsql, couchdb, memory)
  remote.url           MEDSYNC_REMOTE_URL
  remote.database      MEDSYNC_REMOTE_DATABASE (couchdb only)
  sync.interval        MEDSYNC_SYNC_INTERVAL
  sync.probe_interval  MEDSYNC_SYNC_PROBE_INTERVAL
  http.addr            MEDSYNC_HTTP_ADDR
  log.level            MEDSYNC_LOG_LEVEL`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if initWrite != "" {
			if err := writeStarterConfig(initWrite, initForce); err != nil {
				return err
			}
			fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), initWrite)
			if configFile == "" {
				configFile = initWrite
			}
		}

		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		fmt.Printf("%s Local store ready at %s\n", ui.RenderPass("✓"), ui.RenderAccent(a.store.Path()))

		if !initRemote {
			return nil
		}
		return initRemoteSchema(ctx, a)
	},
}

func initRemoteSchema(ctx context.Context, a *app) error {
	rs, err := a.openRemote(ctx)
	if err != nil {
		return err
	}
	defer rs.Close()

	si, ok := rs.(remote.SchemaInitializer)
	if !ok {
		fmt.Printf("%s Remote driver %s has no schema to create\n", ui.RenderWarn("!"), a.cfg.Remote.Driver)
		return nil
	}
	if err := si.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize remote schema: %w", err)
	}
	fmt.Printf("%s Remote schema ready (%s)\n", ui.RenderPass("✓"), a.cfg.Remote.Driver)
	return nil
}

// starterConfig renders the config file written by init --write.
func starterConfig(driver, url, database string) ([]byte, error) {
	remoteSection := map[string]any{"driver": driver}
	if url != "" {
		remoteSection["url"] = url
	}
	if database != "" {
		remoteSection["database"] = database
	}

	doc := map[string]any{
		"local":  map[string]any{"path": filepath.Join(".medsync", "local.db")},
		"remote": remoteSection,
		"sync": map[string]any{
			"interval":       "30s",
			"probe_interval": "15s",
		},
		"http": map[string]any{"addr": ":8080"},
		"log":  map[string]any{"level": "info", "format": "console"},
	}
	return yaml.Marshal(doc)
}

func writeStarterConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	data, err := starterConfig(initDriver, initURL, initDatabase)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

func init() {
	initCmd.Flags().BoolVar(&initRemote, "remote", false, "also create the remote schema")
	initCmd.Flags().StringVar(&initWrite, "write", "", "write a starter config file to this path first")
	initCmd.Flags().StringVar(&initDriver, "driver", remote.DriverMemory, "remote driver for the starter config")
	initCmd.Flags().StringVar(&initURL, "url", "", "remote URL for the starter config")
	initCmd.Flags().StringVar(&initDatabase, "database", "", "CouchDB database for the starter config")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
