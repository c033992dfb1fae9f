package lkg

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// errNoLKGAvailable is returned when the wrapper must fall back but has
// never accepted or been seeded with any snapshot.
var errNoLKGAvailable = errors.New("lkg: no last-known-good snapshot available")

// fetchRetryAttempts bounds the exponential backoff before a single Fetch
// call gives up on the upstream and surfaces a failure for step 1 to catch.
const fetchRetryAttempts = 3

// fetchWithRetry wraps one upstream Fetch call with a short exponential
// backoff, so a single transient error doesn't immediately trip the
// circuit breaker or fall back to LKG.
func fetchWithRetry(ctx context.Context, upstream IConfigProvider) (*ConfigSnapshot, error) {
	backoff := retry.WithMaxRetries(fetchRetryAttempts, retry.NewExponential(50*time.Millisecond))

	var result *ConfigSnapshot
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		snap, err := upstream.Fetch(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		result = snap
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
