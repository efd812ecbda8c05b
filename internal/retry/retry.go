// Package retry implements jittered exponential backoff for transient
// exchange errors.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy controls backoff timing.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Multiplier scales InitialBackoff on each attempt; defaults to 2 when zero.
	Multiplier float64
}

// DefaultPolicy matches the teacher's general-purpose retry shape.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	Multiplier:     2,
}

// RateLimitPolicy backs off three times as aggressively, for rate-limit
// sentinel errors where hammering the venue only makes things worse.
var RateLimitPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 300 * time.Millisecond,
	MaxBackoff:     6 * time.Second,
	Multiplier:     3,
}

// IsTransientFunc reports whether an error returned by fn is worth retrying.
type IsTransientFunc func(error) bool

// Do runs fn, retrying per policy while isTransient(err) holds. It returns
// the last error if every attempt fails, or nil on the first success.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	multiplier := policy.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}
	backoff := policy.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) || attempt == policy.MaxAttempts {
			return lastErr
		}

		jitter := time.Duration(0)
		if backoff > 0 {
			jitter = time.Duration(rand.Int63n(int64(backoff)/2 + 1))
		}
		wait := backoff + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		backoff = time.Duration(float64(backoff) * multiplier)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return lastErr
}
