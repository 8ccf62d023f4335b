package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/medsync/medsync/internal/daemon"
	"github.com/medsync/medsync/internal/schema"
	"github.com/medsync/medsync/internal/store"
	syncer "github.com/medsync/medsync/internal/sync"
	"github.com/medsync/medsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push pending records to the remote store once",
	Long: `Run one sync pass: probe the remote, then push Pending patients, doctors
and tests in that order. Exits non-zero when the remote is unreachable or
any record failed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rs, err := a.openRemote(ctx)
		if err != nil {
			return err
		}
		defer rs.Close()

		res := a.engine(rs).Sync(ctx)
		if jsonOutput {
			if err := printJSON(res); err != nil {
				return err
			}
		} else {
			printResult(res)
		}
		if !res.Success {
			return errors.New("sync pass failed")
		}
		return nil
	},
}

func printResult(res syncer.Result) {
	mark := ui.RenderPass("✓")
	if !res.Success {
		mark = ui.RenderFail("✗")
	}
	fmt.Printf("%s Synced %d records in %v\n", mark, res.Total(), res.Duration.Round(time.Millisecond))
	for _, kind := range schema.PushOrder {
		fmt.Printf("  %-10s %d\n", kind.Plural()+":", res.Synced(kind))
	}
	if res.Conflicts > 0 {
		fmt.Printf("  %s %s\n", ui.Count(res.Conflicts, ui.RenderFail), "new conflicts (see 'medsync conflicts list')")
	}
	for _, msg := range res.Errors {
		fmt.Printf("  %s %s\n", ui.RenderWarn("!"), msg)
	}
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show pending and conflicting record counts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		online, probeErr := probeRemote(ctx, a)
		mon := daemon.New(a.engine(nil), a.store, daemon.Config{}, a.logger)
		mon.SetOnline(online)

		st, err := mon.Status(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st)
		}

		connectivity := ui.RenderPass("online")
		if !online {
			connectivity = ui.RenderWarn("offline")
			if probeErr != nil {
				connectivity += ui.RenderMuted(" (" + probeErr.Error() + ")")
			}
		}
		fmt.Println(ui.Panel("Sync status", []ui.Row{
			{Label: "Remote", Value: connectivity},
			{Label: "Pending patients", Value: ui.Count(st.PendingPatients, ui.RenderWarn)},
			{Label: "Pending doctors", Value: ui.Count(st.PendingDoctors, ui.RenderWarn)},
			{Label: "Pending tests", Value: ui.Count(st.PendingTests, ui.RenderWarn)},
			{Label: "Conflicts", Value: ui.Count(st.Conflicts, ui.RenderFail)},
		}))
		return nil
	},
}

// probeRemote reports whether the configured remote answers. A missing or
// invalid remote configuration counts as offline.
func probeRemote(ctx context.Context, a *app) (bool, error) {
	rs, err := a.openRemote(ctx)
	if err != nil {
		return false, err
	}
	defer rs.Close()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Sync.ProbeTimeout)
	defer cancel()
	if err := rs.Probe(ctx); err != nil {
		return false, err
	}
	return true, nil
}

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "sync",
	Short:   "Inspect and retry records the remote rejected",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records in Conflict",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		conflicts, err := listConflicts(ctx, a.store)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(conflicts)
		}
		if len(conflicts) == 0 {
			fmt.Printf("%s No conflicts\n", ui.RenderPass("✓"))
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tID\tERROR")
		for _, e := range conflicts {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Kind(), e.Meta().ID, e.Meta().SyncError)
		}
		return w.Flush()
	},
}

func listConflicts(ctx context.Context, st *store.Store) ([]schema.Entity, error) {
	var out []schema.Entity
	for _, kind := range schema.PushOrder {
		records, err := st.List(ctx, kind, store.ListFilter{Status: schema.StatusConflict, IncludeDeleted: true})
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

var (
	retryAll  bool
	retrySync bool
)

var conflictsRetryCmd = &cobra.Command{
	Use:   "retry [<kind> <id>]",
	Short: "Return conflicting records to Pending",
	Long: `Return a record in Conflict to Pending so the next pass pushes it again.
With --all every conflicting record is reset. With --sync a pass runs
immediately afterwards.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if retryAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var targets []schema.Entity
		if retryAll {
			if targets, err = listConflicts(ctx, a.store); err != nil {
				return err
			}
		} else {
			kind, err := schema.ParseKind(args[0])
			if err != nil {
				return err
			}
			e := schema.New(kind)
			e.Meta().ID = args[1]
			targets = []schema.Entity{e}
		}

		for _, e := range targets {
			if err := a.store.ResetConflict(ctx, e.Kind(), e.Meta().ID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("%s %s is not in conflict", e.Kind(), e.Meta().ID)
				}
				return err
			}
			fmt.Printf("%s %s %s is Pending again\n", ui.RenderPass("✓"), e.Kind(), ui.RenderAccent(e.Meta().ID))
		}
		if len(targets) == 0 {
			fmt.Println(ui.RenderMuted("Nothing to retry."))
		}

		if !retrySync {
			return nil
		}
		rs, err := a.openRemote(ctx)
		if err != nil {
			return err
		}
		defer rs.Close()
		res := a.engine(rs).Sync(ctx)
		printResult(res)
		if !res.Success {
			return errors.New("sync pass failed")
		}
		return nil
	},
}

func init() {
	conflictsRetryCmd.Flags().BoolVar(&retryAll, "all", false, "retry every conflicting record")
	conflictsRetryCmd.Flags().BoolVar(&retrySync, "sync", false, "run a sync pass after resetting")
	conflictsCmd.AddCommand(conflictsListCmd, conflictsRetryCmd)

	rootCmd.AddCommand(syncCmd, statusCmd, conflictsCmd)
}
