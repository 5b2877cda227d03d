// Package retry holds the backoff policy shared by outbound delivery and the
// connection tracker.
package retry

import (
	"context"
	"math"
	"time"
)

// Policy controls how a failing operation is retried. A Multiplier of 1
// gives a fixed delay between attempts.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// Retryable reports whether err may be retried. Nil retries every error.
	Retryable func(err error) bool

	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Fixed returns a policy of attempts tries separated by delay, retrying every
// error.
func Fixed(attempts int, delay time.Duration) *Policy {
	return &Policy{
		MaxAttempts:  attempts,
		InitialDelay: delay,
		Multiplier:   1,
		MaxDelay:     delay,
	}
}

// Backoff returns an unbounded exponential policy: 1s initial delay, 2x
// multiplier, 30s max delay.
func Backoff() *Policy {
	return &Policy{
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// NextDelay returns the delay after the given attempt number (1-indexed).
// The delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Wait sleeps for d or until ctx is done.
func (p *Policy) Wait(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// Execute runs fn up to MaxAttempts times, waiting NextDelay between tries.
// It returns the number of attempts made and nil on success, or the last
// error once attempts run out, the error is not retryable, or ctx ends.
func (p *Policy) Execute(ctx context.Context, fn func(attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			return attempt, err
		}
		if attempt == maxAttempts {
			break
		}
		if werr := p.Wait(ctx, p.NextDelay(attempt)); werr != nil {
			return attempt, lastErr
		}
	}
	return maxAttempts, lastErr
}

// SleepContext blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
