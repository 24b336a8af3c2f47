package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/onedrivesync/core/internal/store"
)

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List unresolved sync conflicts for an account",
		RunE:  runConflicts,
	}
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := buildLogger()

	registry, hashedID, closeStore, err := buildRegistry(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	conflicts, err := registry.GetConflicts(ctx, hashedID)
	if err != nil {
		return fmt.Errorf("cmd: listing conflicts: %w", err)
	}

	if flagJSON {
		return printJSON(cmd, conflictsJSON(conflicts))
	}

	return printConflictsTable(cmd, conflicts)
}

type conflictJSON struct {
	ID             string `json:"id"`
	Path           string `json:"path"`
	LocalSize      int64  `json:"local_size"`
	RemoteSize     int64  `json:"remote_size"`
	LocalModified  string `json:"local_modified"`
	RemoteModified string `json:"remote_modified"`
}

func conflictsJSON(conflicts []store.Conflict) []conflictJSON {
	out := make([]conflictJSON, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, conflictJSON{
			ID:             c.ID,
			Path:           c.RelativePath,
			LocalSize:      c.LocalSize,
			RemoteSize:     c.RemoteSize,
			LocalModified:  c.LocalModifiedUTC.Format(timeFormat),
			RemoteModified: c.RemoteModifiedUTC.Format(timeFormat),
		})
	}

	return out
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func printConflictsTable(cmd *cobra.Command, conflicts []store.Conflict) error {
	if len(conflicts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no unresolved conflicts")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tLOCAL SIZE\tREMOTE SIZE")

	for _, c := range conflicts {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", c.ID, c.RelativePath, c.LocalSize, c.RemoteSize)
	}

	return w.Flush()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
