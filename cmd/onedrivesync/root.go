package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/onedrivesync/core/internal/accountid"
	"github.com/onedrivesync/core/internal/config"
	"github.com/onedrivesync/core/internal/engine"
	"github.com/onedrivesync/core/internal/graph"
	"github.com/onedrivesync/core/internal/store"
	"github.com/onedrivesync/core/internal/transfer"
)

// version is set at build time via ldflags.
var version = "dev"

// userAgent identifies this binary to the Graph API.
const userAgent = "onedrivesync/0.1"

// Global persistent flags, bound in newRootCmd.
var (
	flagAccountConfigPath string
	flagEngineConfigPath  string
	flagAccountID         string
	flagDriveID           string
	flagDBPath            string
	flagTokenEnv          string
	flagJSON              bool
	flagVerbose           bool
)

const defaultTokenEnvVar = "ONEDRIVESYNC_ACCESS_TOKEN" //nolint:gosec // env var name, not a credential

// envAuthenticator is a minimal Authenticator backed by a single environment
// variable — acquisition and refresh flows are external to the core (spec
// §6); this stub exists only so the demonstration binary can drive a real
// Graph endpoint without importing any OAuth machinery.
type envAuthenticator struct {
	envVar string
}

func (a envAuthenticator) GetAccessToken(_ context.Context, _ accountid.HashedAccountId) (string, error) {
	token := os.Getenv(a.envVar)
	if token == "" {
		return "", fmt.Errorf("cmd: environment variable %s is not set", a.envVar)
	}

	return token, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "onedrivesync",
		Short:         "Sync engine core control surface",
		Long:          "A thin demonstration CLI over the OneDrive sync engine core's control surface.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagAccountConfigPath, "account-config", "", "account TOML config path (required)")
	cmd.PersistentFlags().StringVar(&flagEngineConfigPath, "engine-config", "",
		"process-wide TOML config path (logging, transfers, retry); missing file falls back to defaults")
	cmd.PersistentFlags().StringVar(&flagAccountID, "account-id", "", "external account identifier, hashed before use (required)")
	cmd.PersistentFlags().StringVar(&flagDriveID, "drive-id", "", "remote drive id (required)")
	cmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "state database path (defaults under the platform data dir)")
	cmd.PersistentFlags().StringVar(&flagTokenEnv, "token-env", defaultTokenEnvVar, "environment variable carrying the bearer token")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable info-level logging")

	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newResolveCmd())

	return cmd
}

func buildLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func defaultDBPath(hashedID accountid.HashedAccountId) string {
	if flagDBPath != "" {
		return flagDBPath
	}

	dir := config.DefaultDataDir()
	if dir == "" {
		dir = "."
	}

	return filepath.Join(dir, hashedID.String()+".db")
}

// buildRegistry opens the shared state store and wires an AccountRegistry
// whose factory builds one Engine per account from --account-config,
// --drive-id, and an envAuthenticator-backed graph.Client. The caller owns
// the returned store's lifetime (closeFn).
func buildRegistry(ctx context.Context, logger *slog.Logger) (*engine.AccountRegistry, accountid.HashedAccountId, func() error, error) {
	if flagAccountConfigPath == "" || flagAccountID == "" || flagDriveID == "" {
		return nil, accountid.HashedAccountId{}, nil,
			fmt.Errorf("cmd: --account-config, --account-id, and --drive-id are all required")
	}

	hashedID := accountid.New(flagAccountID)

	acctCfg, err := config.LoadAccountConfig(flagAccountConfigPath, logger)
	if err != nil {
		return nil, hashedID, nil, fmt.Errorf("cmd: loading account config: %w", err)
	}

	engineCfg, err := config.LoadEngineConfig(flagEngineConfigPath, logger)
	if err != nil {
		return nil, hashedID, nil, fmt.Errorf("cmd: loading engine config: %w", err)
	}

	retryPolicy := retryPolicyFromConfig(engineCfg.Retry)

	bandwidth, err := transfer.NewBandwidthLimiter(engineCfg.Transfers.BandwidthLimit, logger)
	if err != nil {
		return nil, hashedID, nil, fmt.Errorf("cmd: building bandwidth limiter: %w", err)
	}

	st, err := store.Open(ctx, defaultDBPath(hashedID), logger)
	if err != nil {
		return nil, hashedID, nil, fmt.Errorf("cmd: opening state store: %w", err)
	}

	auth := envAuthenticator{envVar: flagTokenEnv}
	driveID := flagDriveID

	factory := func(factoryCtx context.Context, id accountid.HashedAccountId) (*engine.Engine, error) {
		tokenSource := engine.NewTokenSource(factoryCtx, auth, id)
		client := graph.NewClient(graph.DefaultBaseURL, &http.Client{}, tokenSource, logger, userAgent,
			graph.WithRetryPolicy(retryPolicy))

		return engine.NewEngine(engine.Config{
			HashedAccountID: id,
			DriveID:         driveID,
			Account:         *acctCfg,
			Store:           st,
			Fetcher:         client,
			Deleter:         client,
			TransferClient:  client,
			Bandwidth:       bandwidth,
			Logger:          logger,
		})
	}

	registry := engine.NewAccountRegistry(factory, logger)

	return registry, hashedID, st.Close, nil
}

// retryPolicyFromConfig converts the millisecond-granularity TOML knobs into
// graph's time.Duration-based RetryPolicy.
func retryPolicyFromConfig(cfg config.RetryConfig) graph.RetryPolicy {
	return graph.RetryPolicy{
		MaxRetries:     cfg.MaxRetries,
		BaseBackoff:    time.Duration(cfg.BaseBackoffMillis) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.MaxBackoffMillis) * time.Millisecond,
		BackoffFactor:  cfg.BackoffFactor,
		JitterFraction: cfg.JitterFraction,
	}
}
