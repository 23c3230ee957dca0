// Package aiclient holds the plumbing shared by every external AI
// integration: an OpenAI-compatible chat client, the retry envelope, sliding
// rate windows and usage accounting. The vision, evaluation and speech
// packages build on it.
package aiclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// APIError is a non-2xx response from a provider. RetryAfter carries the
// server's Retry-After hint when present.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// Markers that identify permanent failures. Retrying these burns quota for
// nothing, so they fail fast regardless of status code.
var nonRetryableMarkers = []string{
	"invalid api key",
	"authentication",
	"insufficient_quota",
	"invalid_request",
	"content_policy_violation",
}

// retryable classifies an error. Cancellation is never retried; permanent
// marker matches are never retried; everything else (timeouts, connection
// resets, 429s, 5xx) is considered transient.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, m := range nonRetryableMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		// Client-side errors other than rate limiting are permanent.
		if apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429 && apiErr.Status != 408 {
			return false
		}
	}
	return true
}

func retryAfterHint(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
