package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onedrivesync/core/internal/store"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [path-or-id]",
		Short: "Resolve sync conflicts",
		Long: `Resolve sync conflicts with a chosen strategy.

Strategies:
  --keep-local   mark the local copy authoritative (remote will be overwritten)
  --keep-remote  mark the remote copy authoritative (local will be overwritten)
  --keep-both    keep both copies as separate items

Use --all to resolve every unresolved conflict with the chosen strategy.
Without --all, a path or conflict ID argument is required.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runResolve,
	}

	cmd.Flags().Bool("keep-local", false, "mark the local copy authoritative")
	cmd.Flags().Bool("keep-remote", false, "mark the remote copy authoritative")
	cmd.Flags().Bool("keep-both", false, "keep both copies as separate items")
	cmd.Flags().Bool("all", false, "resolve all unresolved conflicts")

	cmd.MarkFlagsMutuallyExclusive("keep-local", "keep-remote", "keep-both")

	return cmd
}

func resolveStrategy(cmd *cobra.Command) (store.ResolutionStrategy, error) {
	keepLocal := cmd.Flags().Changed("keep-local")
	keepRemote := cmd.Flags().Changed("keep-remote")
	keepBoth := cmd.Flags().Changed("keep-both")

	switch {
	case keepLocal:
		return store.ResolutionKeepLocal, nil
	case keepRemote:
		return store.ResolutionKeepRemote, nil
	case keepBoth:
		return store.ResolutionKeepBoth, nil
	default:
		return "", fmt.Errorf("cmd: specify a resolution strategy: --keep-local, --keep-remote, or --keep-both")
	}
}

func runResolve(cmd *cobra.Command, args []string) error {
	strategy, err := resolveStrategy(cmd)
	if err != nil {
		return err
	}

	resolveAll := cmd.Flags().Changed("all")

	switch {
	case resolveAll && len(args) > 0:
		return fmt.Errorf("cmd: --all and a specific conflict argument are mutually exclusive")
	case !resolveAll && len(args) == 0:
		return fmt.Errorf("cmd: specify a conflict path or ID, or use --all to resolve all conflicts")
	}

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

	targets, err := selectConflicts(conflicts, args, resolveAll)
	if err != nil {
		return err
	}

	for _, c := range targets {
		if err := registry.ResolveConflict(ctx, hashedID, c.ID, c.RelativePath, strategy); err != nil {
			return fmt.Errorf("cmd: resolving %s: %w", c.RelativePath, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "resolved %s as %s\n", c.RelativePath, strategy)
	}

	return nil
}

func selectConflicts(conflicts []store.Conflict, args []string, all bool) ([]store.Conflict, error) {
	if all {
		return conflicts, nil
	}

	want := args[0]
	for _, c := range conflicts {
		if c.ID == want || c.RelativePath == want {
			return []store.Conflict{c}, nil
		}
	}

	return nil, fmt.Errorf("cmd: no unresolved conflict matches %q", want)
}
