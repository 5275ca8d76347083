package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/schmitthub/credkeep/internal/logger"
)

const (
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
)

// RetriesExceededError is a network-level failure that survived the
// retry budget.
type RetriesExceededError struct {
	Operation string
	Err       error
}

func (e *RetriesExceededError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Operation, e.Err)
}

func (e *RetriesExceededError) Unwrap() error { return e.Err }

// retriableStatusError marks a 5xx that exhausted the budget.
type retriableStatusError struct {
	status int
}

func (e *retriableStatusError) Error() string {
	return fmt.Sprintf("server returned %d", e.status)
}

// WithRetry runs call with bounded exponential backoff. Network errors
// and 5xx responses are retried; other responses are returned as-is.
// Token-protocol (4xx) handling stays with the caller.
func WithRetry(ctx context.Context, operation string, call func() (*Response, error)) (*Response, error) {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := call()
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		} else {
			lastErr = &retriableStatusError{status: resp.StatusCode}
		}

		if attempt == maxAttempts {
			break
		}
		logger.Debug().
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("retrying after transport failure")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, &RetriesExceededError{Operation: operation, Err: lastErr}
}
