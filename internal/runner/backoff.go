package runner

import (
	"context"
	"math/rand"
	"time"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
)

// Vector-store retry policy: 750ms · 2^(attempt−1), capped at 6s, with up to
// 350ms of jitter, at most 3 retries on transient failures.
const (
	baseBackoff = 750 * time.Millisecond
	maxBackoff  = 6 * time.Second
	maxJitter   = 350 * time.Millisecond
	maxRetries  = 3
)

// backoffDelay computes the wait before retry `attempt` (1-based).
func backoffDelay(attempt int) time.Duration {
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d + time.Duration(rand.Int63n(int64(maxJitter)))
}

// withRetries runs fn up to maxRetries+1 times, backing off on transient
// errors. onRetry is called before each wait so callers can count retries.
func withRetries(ctx context.Context, fn func() error, onRetry func(attempt int, err error)) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt > maxRetries || !qerr.IsTransient(err) {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffDelay(attempt)):
		}
	}
}
