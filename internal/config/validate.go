package config

import (
	"errors"
	"fmt"
)

// Account bounds from spec §3.
const (
	minParallelTransfers = 1
	maxParallelTransfers = 10
	minBatchItems        = 1
	maxBatchItems        = 100
)

// Retry bounds: zero retries is a valid (fail-fast) choice, but the ceiling
// keeps a misconfigured account from retrying for effectively forever.
const (
	minRetries           = 0
	maxRetriesAllowed    = 20
	minBackoffFactor     = 1.0
	minJitterFraction    = 0
	maxJitterFractionCap = 1.0
)

// ValidateEngine checks the engine-wide configuration.
func ValidateEngine(cfg *EngineConfig) error {
	var errs []error

	if cfg.Transfers.BandwidthLimit != "" {
		if _, err := parseSize(cfg.Transfers.BandwidthLimit); err != nil {
			errs = append(errs, fmt.Errorf("transfers.bandwidth_limit: %w", err))
		}
	}

	if cfg.Retry.MaxRetries < minRetries || cfg.Retry.MaxRetries > maxRetriesAllowed {
		errs = append(errs, fmt.Errorf("retry.max_retries: must be in [%d, %d], got %d",
			minRetries, maxRetriesAllowed, cfg.Retry.MaxRetries))
	}

	if cfg.Retry.BaseBackoffMillis <= 0 {
		errs = append(errs, errors.New("retry.base_backoff_millis: must be positive"))
	}

	if cfg.Retry.MaxBackoffMillis < cfg.Retry.BaseBackoffMillis {
		errs = append(errs, errors.New("retry.max_backoff_millis: must be >= retry.base_backoff_millis"))
	}

	if cfg.Retry.BackoffFactor < minBackoffFactor {
		errs = append(errs, fmt.Errorf("retry.backoff_factor: must be >= %.1f, got %.2f",
			minBackoffFactor, cfg.Retry.BackoffFactor))
	}

	if cfg.Retry.JitterFraction < minJitterFraction || cfg.Retry.JitterFraction > maxJitterFractionCap {
		errs = append(errs, fmt.Errorf("retry.jitter_fraction: must be in [%.1f, %.1f], got %.2f",
			minJitterFraction, maxJitterFractionCap, cfg.Retry.JitterFraction))
	}

	return errors.Join(errs...)
}

// ValidateAccount checks one account's configuration against the spec §3
// Account bounds.
func ValidateAccount(cfg *AccountConfig) error {
	var errs []error

	if cfg.LocalSyncRoot == "" {
		errs = append(errs, errors.New("local_sync_root: required"))
	}

	if cfg.MaxParallelTransfers < minParallelTransfers || cfg.MaxParallelTransfers > maxParallelTransfers {
		errs = append(errs, fmt.Errorf("max_parallel_transfers: must be in [%d, %d], got %d",
			minParallelTransfers, maxParallelTransfers, cfg.MaxParallelTransfers))
	}

	if cfg.MaxBatchItems < minBatchItems || cfg.MaxBatchItems > maxBatchItems {
		errs = append(errs, fmt.Errorf("max_batch_items: must be in [%d, %d], got %d",
			minBatchItems, maxBatchItems, cfg.MaxBatchItems))
	}

	if cfg.Filter.MaxFileSize != "" {
		if _, err := parseSize(cfg.Filter.MaxFileSize); err != nil {
			errs = append(errs, fmt.Errorf("filter.max_file_size: %w", err))
		}
	}

	return errors.Join(errs...)
}
