// Package retry provides a small exponential-backoff retry executor for
// transient contention on a named resource (a disk mutex, a subprocess
// pool slot, ...). It is a generalization of the teacher's rate-limit
// handler: same interval table and retry-attempt bookkeeping, restructured
// from an async HTTP-response watcher with UI callbacks into a synchronous
// retry-a-function helper, since the engine has no GUI to notify.
package retry

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Strategy defines the backoff intervals for retrying an operation on a
// resource, and the maximum number of retries after the first attempt
// before giving up.
type Strategy struct {
	Intervals  []time.Duration
	MaxRetries int
}

// DefaultStrategy returns a short backoff table suited to local disk and
// subprocess contention (as opposed to the teacher's multi-minute intervals
// for upstream HTTP rate limits).
func DefaultStrategy() *Strategy {
	return &Strategy{
		Intervals: []time.Duration{
			20 * time.Millisecond,
			100 * time.Millisecond,
			500 * time.Millisecond,
		},
		MaxRetries: 5,
	}
}

// Event describes one retry attempt, kept for callers that want to log or
// surface retry activity.
type Event struct {
	Resource     string
	Attempt      int
	Err          error
	NextRetryAt  time.Time
}

// Do runs fn, retrying on error according to strategy until it succeeds,
// the context is cancelled, or MaxRetries is exhausted. The last error is
// returned on exhaustion. onRetry, if non-nil, is invoked before each wait.
func Do(ctx context.Context, resource string, strategy *Strategy, onRetry func(Event), fn func() error) error {
	if strategy == nil {
		strategy = DefaultStrategy()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= strategy.MaxRetries {
			return fmt.Errorf("%s: giving up after %d attempts: %w", resource, attempt+1, lastErr)
		}

		interval := strategy.Intervals[len(strategy.Intervals)-1]
		if attempt < len(strategy.Intervals) {
			interval = strategy.Intervals[attempt]
		}
		nextRetryAt := time.Now().Add(interval)

		log.Printf("[Retry] %s attempt %d failed (%v), retrying at %s", resource, attempt, err, nextRetryAt.Format(time.RFC3339Nano))
		if onRetry != nil {
			onRetry(Event{Resource: resource, Attempt: attempt, Err: err, NextRetryAt: nextRetryAt})
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return fmt.Errorf("%s: retry cancelled: %w", resource, ctx.Err())
		}
	}
}
