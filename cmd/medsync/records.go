package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/medsync/medsync/internal/queue"
	"github.com/medsync/medsync/internal/schema"
	"github.com/medsync/medsync/internal/store"
	"github.com/medsync/medsync/internal/ui"
)

var (
	recordFile    string
	recordSets    []string
	recordDoctors []string

	recordTestedAt    string
	recordCompletedAt string
)

var addCmd = &cobra.Command{
	Use:     "add <kind>",
	Aliases: []string{"enqueue", "create"},
	GroupID: "records",
	Short:   "Record a new patient, doctor or test",
	Long: `Record a new patient, doctor or test in the local store.

The record is saved as Pending and pushed on the next sync pass. Fields come
from a YAML or JSON file (--file) and --set key=value pairs, applied in that
order. Dates accept RFC 3339, YYYY-MM-DD or expressions like "yesterday 9am".

Examples:
  medsync add doctor --set name="Dr. Grey" --set specialization=Pathology
  medsync add patient --set name="Ada" --set date_of_birth=1990-12-10 --doctor <doctor-id>
  medsync add test --file cbc.yaml --tested-at "today 8am"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		payload := map[string]any{}
		if recordFile != "" {
			if payload, err = readPayloadFile(recordFile); err != nil {
				return err
			}
		}
		delete(payload, "id")
		return writeRecord(cmd, kind, payload)
	},
}

var updateCmd = &cobra.Command{
	Use:     "update <kind> <id>",
	GroupID: "records",
	Short:   "Change fields of an existing record",
	Long: `Change fields of an existing record. Fields not given keep their current
values. The record returns to Pending, including records in Conflict.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		existing, err := a.store.Get(cmd.Context(), kind, args[1])
		a.Close()
		if err != nil {
			return err
		}

		payload, err := entityMap(existing)
		if err != nil {
			return err
		}
		if recordFile != "" {
			overlay, err := readPayloadFile(recordFile)
			if err != nil {
				return err
			}
			for k, v := range overlay {
				payload[k] = v
			}
		}
		payload["id"] = args[1]
		return writeRecord(cmd, kind, payload)
	},
}

func writeRecord(cmd *cobra.Command, kind schema.Kind, payload map[string]any) error {
	if err := applySets(payload, recordSets); err != nil {
		return err
	}
	if kind == schema.KindPatient {
		addDoctors(payload, recordDoctors)
	} else if len(recordDoctors) > 0 {
		return fmt.Errorf("--doctor only applies to patients")
	}
	if kind == schema.KindTest {
		if recordTestedAt != "" {
			payload["tested_at"] = recordTestedAt
		}
		if recordCompletedAt != "" {
			payload["completed_at"] = recordCompletedAt
		}
	} else if recordTestedAt != "" || recordCompletedAt != "" {
		return fmt.Errorf("--tested-at and --completed-at only apply to tests")
	}
	if err := normalizeDates(payload, time.Now()); err != nil {
		return err
	}
	e, err := decodeEntity(kind, payload)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	saved, err := queue.New(a.store, nil, a.logger).Enqueue(ctx, e)
	if err != nil {
		return describeWriteError(err)
	}
	if jsonOutput {
		return printJSON(saved)
	}
	fmt.Printf("%s Saved %s %s (%s)\n", ui.RenderPass("✓"), kind, ui.RenderAccent(saved.Meta().ID), saved.Meta().SyncStatus)
	return nil
}

// describeWriteError expands validation failures into one line per field.
func describeWriteError(err error) error {
	var ve *schema.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "invalid %s:", ve.Kind)
	for _, f := range ve.Fields {
		fmt.Fprintf(&b, "\n  %s: %s", f.Field, f.Rule)
	}
	return errors.New(b.String())
}

var deleteCmd = &cobra.Command{
	Use:     "delete <kind> <id>",
	GroupID: "records",
	Short:   "Soft-delete a record",
	Long: `Mark a record deleted. The deletion is pushed to the remote on the next
sync pass; the row stays in the local store.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		deleted, err := queue.New(a.store, nil, a.logger).Delete(ctx, kind, args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(deleted)
		}
		fmt.Printf("%s Deleted %s %s\n", ui.RenderPass("✓"), kind, ui.RenderAccent(args[1]))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <kind> <id>",
	GroupID: "records",
	Short:   "Print one record",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.store.Get(cmd.Context(), kind, args[1])
		if err != nil {
			return err
		}
		return printJSON(e)
	},
}

var (
	listStatus         string
	listIncludeDeleted bool
	listLimit          int
)

var listCmd = &cobra.Command{
	Use:     "list <kind>",
	GroupID: "records",
	Short:   "List records of one kind",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		filter := store.ListFilter{IncludeDeleted: listIncludeDeleted, Limit: listLimit}
		if listStatus != "" {
			if filter.Status, err = schema.ParseSyncStatus(listStatus); err != nil {
				return err
			}
		}

		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.store.List(cmd.Context(), kind, filter)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(records)
		}
		if len(records) == 0 {
			fmt.Println(ui.RenderMuted("No " + kind.Plural() + "."))
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tUPDATED\tSUMMARY")
		for _, e := range records {
			m := e.Meta()
			status := renderStatus(m)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, status, m.UpdatedAt.Local().Format("2006-01-02 15:04"), recordSummary(e))
		}
		return w.Flush()
	},
}

func renderStatus(m *schema.SyncMeta) string {
	label := string(m.SyncStatus)
	if m.IsDeleted {
		label += " (deleted)"
	}
	switch m.SyncStatus {
	case schema.StatusSynced:
		return ui.RenderPass(label)
	case schema.StatusConflict:
		return ui.RenderFail(label)
	}
	return ui.RenderWarn(label)
}

func init() {
	for _, cmd := range []*cobra.Command{addCmd, updateCmd} {
		cmd.Flags().StringVarP(&recordFile, "file", "f", "", "YAML or JSON file with the record's fields")
		cmd.Flags().StringArrayVar(&recordSets, "set", nil, "set a field (key=value, repeatable)")
		cmd.Flags().StringArrayVar(&recordDoctors, "doctor", nil, "link a doctor to a patient (repeatable)")
		cmd.Flags().StringVar(&recordTestedAt, "tested-at", "", "when a test was run (e.g. \"today 8am\")")
		cmd.Flags().StringVar(&recordCompletedAt, "completed-at", "", "when a test was completed")
	}

	listCmd.Flags().StringVar(&listStatus, "status", "", "only records with this sync status (Pending, Synced, Conflict)")
	listCmd.Flags().BoolVar(&listIncludeDeleted, "include-deleted", false, "include soft-deleted records")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of records (0 for all)")

	rootCmd.AddCommand(addCmd, updateCmd, deleteCmd, showCmd, listCmd)
}
