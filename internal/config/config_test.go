package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultAccountConfig_WithinSpecBounds(t *testing.T) {
	cfg := DefaultAccountConfig()

	assert.GreaterOrEqual(t, cfg.MaxParallelTransfers, minParallelTransfers)
	assert.LessOrEqual(t, cfg.MaxParallelTransfers, maxParallelTransfers)
	assert.GreaterOrEqual(t, cfg.MaxBatchItems, minBatchItems)
	assert.LessOrEqual(t, cfg.MaxBatchItems, maxBatchItems)
}

func TestDefaultEngineConfig_HasLoggingDefaults(t *testing.T) {
	cfg := DefaultEngineConfig()

	assert.Equal(t, defaultLogLevel, cfg.Logging.LogLevel)
	assert.Equal(t, defaultLogFormat, cfg.Logging.LogFormat)
}

func TestDefaultEngineConfig_HasValidRetryDefaults(t *testing.T) {
	cfg := DefaultEngineConfig()

	assert.NoError(t, ValidateEngine(&cfg))
	assert.Equal(t, defaultRetryMaxRetries, cfg.Retry.MaxRetries)
	assert.Equal(t, defaultRetryBaseBackoffMS, cfg.Retry.BaseBackoffMillis)
}
