package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAccount_RequiresSyncRoot(t *testing.T) {
	cfg := DefaultAccountConfig()

	err := ValidateAccount(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local_sync_root")
}

func TestValidateAccount_RejectsOutOfRangeParallelism(t *testing.T) {
	cfg := DefaultAccountConfig()
	cfg.LocalSyncRoot = "/home/user/OneDrive"
	cfg.MaxParallelTransfers = 11

	err := ValidateAccount(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_parallel_transfers")
}

func TestValidateAccount_AcceptsDefaults(t *testing.T) {
	cfg := DefaultAccountConfig()
	cfg.LocalSyncRoot = "/home/user/OneDrive"

	assert.NoError(t, ValidateAccount(&cfg))
}

func TestValidateEngine_RejectsInvalidBandwidthLimit(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Transfers.BandwidthLimit = "not-a-size"

	err := ValidateEngine(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bandwidth_limit")
}

func TestValidateEngine_RejectsOutOfRangeMaxRetries(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Retry.MaxRetries = 21

	err := ValidateEngine(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_retries")
}

func TestValidateEngine_RejectsMaxBackoffBelowBase(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Retry.MaxBackoffMillis = cfg.Retry.BaseBackoffMillis - 1

	err := ValidateEngine(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_backoff_millis")
}

func TestValidateEngine_RejectsJitterOutOfRange(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Retry.JitterFraction = 1.5

	err := ValidateEngine(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jitter_fraction")
}

func TestValidateEngine_AcceptsZeroRetries(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Retry.MaxRetries = 0

	assert.NoError(t, ValidateEngine(&cfg))
}
