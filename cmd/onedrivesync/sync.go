package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/onedrivesync/core/internal/engine"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start a sync run for an account",
		RunE:  runStart,
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Cancel an in-flight sync run for an account",
		RunE:  runStop,
	}
}

func runStart(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := buildLogger()

	registry, hashedID, closeStore, err := buildRegistry(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := registry.StartSync(ctx, hashedID); err != nil {
		return fmt.Errorf("cmd: starting sync: %w", err)
	}

	for {
		report, runErr, done := registry.LastResult(hashedID)
		if done {
			return reportResult(cmd, report, runErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func reportResult(cmd *cobra.Command, report engine.Report, runErr error) error {
	if flagJSON {
		return printJSON(cmd, report)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "status: %s  uploaded=%d downloaded=%d failed=%d bytes=%d\n",
		report.Status, report.FilesUploaded, report.FilesDownloaded, report.FilesFailed, report.TotalBytes)

	return runErr
}

func runStop(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := buildLogger()

	registry, hashedID, closeStore, err := buildRegistry(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	registry.StopSync(hashedID)
	fmt.Fprintln(cmd.OutOrStdout(), "stop requested")

	return nil
}
