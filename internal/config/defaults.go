package config

// Default values for configuration options not supplied in a TOML file.
const (
	defaultIgnoreMarker      = ".syncignore"
	defaultMaxFileSize       = "0"
	defaultBandwidthLimit    = "0"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultMaxParallelXfers  = 4
	defaultMaxBatchItems     = 20
	defaultRetryMaxRetries     = 5
	defaultRetryBaseBackoffMS  = 1000
	defaultRetryMaxBackoffMS   = 60000
	defaultRetryBackoffFactor  = 2.0
	defaultRetryJitterFraction = 0.25
)

// DefaultEngineConfig returns the engine-wide defaults applied before a TOML
// file is decoded over them.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Logging:   defaultLoggingConfig(),
		Transfers: defaultTransfersConfig(),
		Retry:     defaultRetryConfig(),
	}
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        defaultRetryMaxRetries,
		BaseBackoffMillis: defaultRetryBaseBackoffMS,
		MaxBackoffMillis:  defaultRetryMaxBackoffMS,
		BackoffFactor:     defaultRetryBackoffFactor,
		JitterFraction:    defaultRetryJitterFraction,
	}
}

// DefaultAccountConfig returns the per-account defaults within the spec §3
// Account bounds (maxParallelTransfers 1..10, maxBatchItems 1..100).
func DefaultAccountConfig() AccountConfig {
	return AccountConfig{
		MaxParallelTransfers: defaultMaxParallelXfers,
		MaxBatchItems:        defaultMaxBatchItems,
		Filter:               defaultFilterConfig(),
	}
}

func defaultFilterConfig() FilterConfig {
	return FilterConfig{
		MaxFileSize:  defaultMaxFileSize,
		IgnoreMarker: defaultIgnoreMarker,
	}
}

func defaultTransfersConfig() TransfersConfig {
	return TransfersConfig{
		BandwidthLimit: defaultBandwidthLimit,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}
