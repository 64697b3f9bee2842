// Package retry is the single retry policy used by engine setup, resolution
// and queue operations.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// Retryable decides whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
	// Name labels log lines.
	Name string
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do calls fn until it succeeds, the attempts run out, the error is not
// retryable or ctx is done. The delay between attempts is fixed.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	logger := log.WithFields(log.Fields{
		"module":    "retry",
		"operation": policy.Name,
	})

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		last = fn(ctx, attempt)
		if last == nil {
			return nil
		}
		if errors.Is(last, context.Canceled) || errors.Is(last, context.DeadlineExceeded) {
			return last
		}
		if policy.Retryable != nil && !policy.Retryable(last) {
			return last
		}

		logger.WithFields(log.Fields{
			"attempt": attempt,
			"error":   last,
		}).Warn("attempt failed")

		if attempt == attempts {
			break
		}

		timer := time.NewTimer(policy.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &ExhaustedError{Attempts: attempts, Last: last}
}
