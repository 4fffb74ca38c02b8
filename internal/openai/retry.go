package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// APIError is a non-2xx provider response.
type APIError struct {
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai %s: status %d: %s", e.Path, e.StatusCode, e.Message)
}

// Retryable reports whether the failure is worth another attempt. Rate
// limits, timeouts and server errors are transient; other client errors
// such as bad credentials or a malformed request never heal on retry.
func (e *APIError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// withRetry runs fn up to maxAttempts times, doubling the delay after each
// retryable failure. Cancellation and permanent errors end the loop at once.
func (c *Client) withRetry(ctx context.Context, fn func(context.Context) error) error {
	delay := c.baseDelay

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == c.maxAttempts {
			return lastErr
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return lastErr
}

// IsRetryable classifies a provider failure as transient. The retry loop
// uses it between attempts; callers use it after exhaustion to decide
// whether the affected content can be skipped for this cycle instead of
// aborting the whole run. Cancellation is never transient.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// Transport-level failures (connection reset, DNS hiccup) are worth
	// another attempt.
	return true
}
