// Package config implements TOML configuration loading and validation for
// the sync engine core: only the knobs the engine itself reads at runtime.
// Profile management, credential storage, and CLI-facing drive selection
// live outside the core's scope.
package config

// EngineConfig is the process-wide configuration shared by every registered
// account's *Engine.
type EngineConfig struct {
	Logging   LoggingConfig   `toml:"logging"`
	Transfers TransfersConfig `toml:"transfers"`
	Retry     RetryConfig     `toml:"retry"`
}

// RetryConfig controls the Graph HTTP client's transport-level retry loop
// (expansion): exponential backoff with jitter
// for network errors and retryable HTTP statuses, distinct from the
// transfer pool's own item-level retry schedule.
type RetryConfig struct {
	MaxRetries        int     `toml:"max_retries"`
	BaseBackoffMillis int     `toml:"base_backoff_millis"`
	MaxBackoffMillis  int     `toml:"max_backoff_millis"`
	BackoffFactor     float64 `toml:"backoff_factor"`
	JitterFraction    float64 `toml:"jitter_fraction"`
}

// AccountConfig is the per-account configuration the AccountRegistry reads
// when it lazily constructs an account's *Engine (spec §3 Account,
// §4.8.1 AccountRegistry).
type AccountConfig struct {
	LocalSyncRoot                 string      `toml:"local_sync_root"`
	MaxParallelTransfers          int         `toml:"max_parallel_transfers"`
	MaxBatchItems                 int         `toml:"max_batch_items"`
	DebugLoggingEnabled           bool        `toml:"debug_logging_enabled"`
	DetailedSessionLoggingEnabled bool        `toml:"detailed_session_logging_enabled"`
	Filter                        FilterConfig `toml:"filter"`
}

// FilterConfig controls which local files and directories LocalScanner
// includes (spec §4.3's "configurable filter").
type FilterConfig struct {
	SkipFiles    []string `toml:"skip_files"`
	SkipDirs     []string `toml:"skip_dirs"`
	SkipDotfiles bool     `toml:"skip_dotfiles"`
	SkipSymlinks bool     `toml:"skip_symlinks"`
	MaxFileSize  string   `toml:"max_file_size"`
	IgnoreMarker string   `toml:"ignore_marker"`
}

// TransfersConfig controls the optional bandwidth limiter (expansion,
// SPEC_FULL §2.3). TransferPool parallelism is per account
// (AccountConfig.MaxParallelTransfers), not set here.
type TransfersConfig struct {
	BandwidthLimit string `toml:"bandwidth_limit"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}
