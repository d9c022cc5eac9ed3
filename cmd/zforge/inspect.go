package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/zforge/zforge/internal/buildplan"
	"github.com/zforge/zforge/internal/checkpoint"
	"github.com/zforge/zforge/internal/workspace"
)

func newInspectCheckpointCmd() *cobra.Command {
	var workspaceRoot string

	cmd := &cobra.Command{
		Use:   "inspect-checkpoint",
		Short: "Print each module's last recorded checkpoint status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspectCheckpoint(cmd, workspaceRoot)
		},
	}

	cmd.Flags().StringVar(&workspaceRoot, "workspace", "/var/lib/zforge/workspace", "workspace directory to inspect")
	return cmd
}

func runInspectCheckpoint(cmd *cobra.Command, workspaceRoot string) error {
	ws, err := workspace.Acquire(workspaceRoot)
	if err != nil {
		return err
	}

	store, err := checkpoint.Open(ws.State())
	if err != nil {
		return err
	}

	records := store.All()
	out := cmd.OutOrStdout()
	for _, name := range buildplan.CanonicalModuleOrder {
		rec, ok := records[name]
		if !ok {
			fmt.Fprintf(out, "%-22s %s\n", name, "not run")
			continue
		}
		line := fmt.Sprintf("%-22s %-8s %s", name, rec.Status, rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
		if rec.Error != "" {
			line += fmt.Sprintf("  error=%q", rec.Error)
		}
		fmt.Fprintln(out, line)
	}

	extra := extraRecordedModules(records)
	sort.Strings(extra)
	for _, name := range extra {
		rec := records[name]
		fmt.Fprintf(out, "%-22s %-8s %s  (not in current module order)\n", name, rec.Status, rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	}

	return nil
}

func extraRecordedModules(records map[string]checkpoint.Record) []string {
	known := make(map[string]bool, len(buildplan.CanonicalModuleOrder))
	for _, name := range buildplan.CanonicalModuleOrder {
		known[name] = true
	}
	var extra []string
	for name := range records {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	return extra
}
