// Command medsync keeps a local record store of patients, doctors and lab
// tests usable offline and pushes its changes to a remote store when the
// remote can be reached.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "medsync",
	Short: "Offline-first sync for patient, doctor and lab test records",
	Long: `medsync records patients, doctors and lab tests in a local SQLite store
and pushes them to a remote store (PostgreSQL, libSQL or CouchDB).

Writes always succeed locally and are marked Pending. A sync pass pushes
Pending records in dependency order: patients, then doctors, then tests.
Records the remote rejects are flagged Conflict and can be retried.

Configuration is read from medsync.yaml, a .env file and MEDSYNC_*
environment variables (see 'medsync init --help').`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./medsync.yaml or ~/.config/medsync/medsync.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Records:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
