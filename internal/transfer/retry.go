package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/onedrivesync/core/internal/graph"
)

// retryBaseDelay and retryMaxAttempts produce the fixed backoff schedule
// named in spec §4.5: 1s, 2s, 4s, 8s, 16s.
const (
	retryBaseDelay   = 1 * time.Second
	retryMaxAttempts = 5
)

// transient reports whether err represents a throttled or server-side
// failure that should be retried at the pool level, as opposed to a
// permanent failure (bad request, forbidden without throttling, checksum
// mismatch) that should mark the item Failed without retry (spec §4.5).
func transient(err error) bool {
	var gerr *graph.GraphError
	if errors.As(err, &gerr) {
		return gerr.Retryable()
	}

	// Anything that isn't a classified Graph API error — network failures,
	// timeouts — is treated as transient; the caller's context deadline or
	// cancellation still bounds the number of attempts.
	return true
}

// withTransferRetry retries fn on transient errors using the schedule named
// in spec §4.5, honoring ctx cancellation. Permanent errors return
// immediately without retrying.
func withTransferRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(retryMaxAttempts, retry.NewExponential(retryBaseDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !transient(err) {
			return err
		}

		return retry.RetryableError(err)
	})
}
