package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// RetryAfterSeconds returns the whole seconds until the window resets, never
// less than one so the Retry-After header stays meaningful.
func (r Result) RetryAfterSeconds(now time.Time) int {
	secs := int(r.Reset.Sub(now).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter provides rate limit checks.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error)
}
