package aiclient

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RateLimiter enforces provider request quotas with true sliding windows over
// the last minute and hour. When a window is full, Wait sleeps until the
// oldest call ages out plus a small random slack, so a burst of workers does
// not land exactly on the quota boundary and trip server-side limiting anyway.
type RateLimiter struct {
	perMinute int
	perHour   int

	mu     sync.Mutex
	minute []time.Time
	hour   []time.Time

	now func() time.Time // test hook
}

func NewRateLimiter(perMinute, perHour int) *RateLimiter {
	return &RateLimiter{perMinute: perMinute, perHour: perHour, now: time.Now}
}

// Wait blocks until a call slot is available and records the call. Returns
// the context error on cancellation.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *RateLimiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.minute = prune(l.minute, now.Add(-time.Minute))
	l.hour = prune(l.hour, now.Add(-time.Hour))

	var wait time.Duration
	if l.perMinute > 0 && len(l.minute) >= l.perMinute {
		wait = l.minute[0].Add(time.Minute).Sub(now)
	}
	if l.perHour > 0 && len(l.hour) >= l.perHour {
		if w := l.hour[0].Add(time.Hour).Sub(now); w > wait {
			wait = w
		}
	}
	if wait > 0 {
		return wait + slack(), false
	}

	l.minute = append(l.minute, now)
	l.hour = append(l.hour, now)
	return 0, true
}

// Pending returns the calls currently counted in each window.
func (l *RateLimiter) Pending() (minute, hour int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.minute = prune(l.minute, now.Add(-time.Minute))
	l.hour = prune(l.hour, now.Add(-time.Hour))
	return len(l.minute), len(l.hour)
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// slack is a random 1.5-2s pad past the window boundary.
func slack() time.Duration {
	return 1500*time.Millisecond + time.Duration(rand.Int63n(int64(500*time.Millisecond)))
}
