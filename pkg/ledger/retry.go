package ledger

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds how often a conflicting operation is re-attempted.
// Attempts below one mean a single attempt. The wait before attempt n+1 is n*Backoff.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// RetryOnConflict runs fn until it succeeds, fails with a non-retryable error,
// the attempts are exhausted, or ctx is done. It returns the number of attempts made.
func RetryOnConflict(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := policy.Attempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil || !errors.Is(lastErr, ErrConcurrentModification) {
			return attempt, lastErr
		}
		if attempt == maxAttempts {
			break
		}
		if policy.Backoff > 0 {
			timer := time.NewTimer(time.Duration(attempt) * policy.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, lastErr
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return attempt, lastErr
		}
	}
	return maxAttempts, lastErr
}
