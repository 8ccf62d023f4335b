package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medsync/medsync/internal/loadtest"
	"github.com/medsync/medsync/internal/queue"
	"github.com/medsync/medsync/internal/remote"
	"github.com/medsync/medsync/internal/store"
	syncer "github.com/medsync/medsync/internal/sync"
	"github.com/medsync/medsync/internal/ui"
)

var (
	benchOpts   loadtest.Options
	benchRemote bool
	benchNoSync bool
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "advanced",
	Short:   "Measure enqueue latency and sync pass time",
	Long: `Enqueue a generated clinic into a throwaway local store and time it, then
run one sync pass.

By default the pass pushes to an in-memory remote. With --remote it pushes
to the configured remote instead, which leaves the generated records there.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dir, err := os.MkdirTemp("", "medsync-bench-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)

		st, err := store.Open(filepath.Join(dir, "bench.db"))
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.InitSchemaContext(ctx); err != nil {
			return err
		}

		var rs remote.Store = remote.NewMemory()
		if benchRemote {
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if rs, err = a.openRemote(ctx); err != nil {
				return err
			}
		}
		defer rs.Close()

		var s loadtest.Syncer
		if !benchNoSync {
			s = syncer.New(st, rs, syncer.DefaultConfig(), zerolog.Nop())
		}

		report, err := loadtest.Run(ctx, queue.New(st, nil, zerolog.Nop()), s, benchOpts)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(report)
		}

		fmt.Printf("%s Enqueued %d records in %v\n", ui.RenderPass("✓"), report.Enqueue.Total, report.Elapsed.Round(time.Millisecond))
		report.Enqueue.PrintStats(os.Stdout)
		if report.Pass != nil {
			fmt.Println()
			printResult(*report.Pass)
		}
		return nil
	},
}

func init() {
	benchCmd.Flags().IntVar(&benchOpts.Doctors, "doctors", 20, "doctors to generate")
	benchCmd.Flags().IntVar(&benchOpts.Patients, "patients", 500, "patients to generate")
	benchCmd.Flags().IntVar(&benchOpts.TestsPerPatient, "tests-per-patient", 3, "tests per patient")
	benchCmd.Flags().IntVar(&benchOpts.Workers, "workers", 4, "concurrent writers")
	benchCmd.Flags().Int64Var(&benchOpts.Seed, "seed", 1, "random seed")
	benchCmd.Flags().BoolVar(&benchRemote, "remote", false, "push to the configured remote instead of memory")
	benchCmd.Flags().BoolVar(&benchNoSync, "no-sync", false, "skip the sync pass")
	rootCmd.AddCommand(benchCmd)
}
