package aiclient

import (
	"context"
	"log"
	"math/rand"
	"time"
)

const (
	retryBaseDelay = 1 * time.Second
	retryMaxDelay  = 60 * time.Second
	maxRetries     = 5
)

// Retry runs fn with exponential backoff: 1s doubling to a 60s cap, five
// retries, full-half jitter so concurrent workers fan out instead of
// thundering together. A server Retry-After hint overrides the computed delay
// when it is longer. Permanent errors and context cancellation abort
// immediately.
func Retry(ctx context.Context, label string, fn func() error) error {
	delay := retryBaseDelay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= maxRetries || !retryable(err) {
			return err
		}

		wait := jitter(delay)
		if hint := retryAfterHint(err); hint > wait {
			wait = hint
		}
		log.Printf("[WARN] AIClient: %s attempt %d failed, retrying in %.1fs: %v",
			label, attempt+1, wait.Seconds(), err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}

// jitter picks uniformly from [d/2, d).
func jitter(d time.Duration) time.Duration {
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)))
}
