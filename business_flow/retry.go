package businessflow

import (
	"context"
	"time"
)

// DefaultBackoffSchedule is the delay ladder for transient store failures.
// Three retries at most, roughly 700ms of waiting in total, so every caller
// terminates in a reported outcome instead of hanging.
var DefaultBackoffSchedule = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// RetryAttempt describes one failed try, surfaced to the caller's logger
// before the next delay starts. Attempt is 1-based.
type RetryAttempt struct {
	Attempt int
	Err     error
}

// WithRetry runs op up to len(schedule)+1 times, waiting schedule[i] after
// failure i. Only errors accepted by shouldRetry are retried; anything else
// returns immediately. onRetry, when non-nil, observes every failed attempt
// that will be retried. Context cancellation cuts the wait short and returns
// the context error.
func WithRetry(ctx context.Context, schedule []time.Duration, shouldRetry func(error) bool, onRetry func(RetryAttempt), op func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !shouldRetry(err) || attempt > len(schedule) {
			return err
		}

		if onRetry != nil {
			onRetry(RetryAttempt{Attempt: attempt, Err: err})
		}

		timer := time.NewTimer(schedule[attempt-1])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
