package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
)

const (
	DefaultMaxAttempts = 12
	DefaultRetryDelay  = 5 * time.Second
)

// RetryPolicy runs op until it succeeds or the attempt budget is spent.
// attempt is 1-based. Implementations return nil on success, an error
// wrapping ErrRecoveryExhausted when every attempt failed, or the context
// error when ctx is cancelled while waiting between attempts. An op error
// wrapping ErrRecoveryAborted ends the retry at once and is returned as is.
type RetryPolicy interface {
	Retry(ctx context.Context, op func(attempt int) error) error
	MaxAttempts() int
}

// AfterFunc matches time.After and lets tests skip the real wait.
type AfterFunc func(d time.Duration) <-chan time.Time

// FixedRetryPolicy waits the same delay before every attempt.
type FixedRetryPolicy struct {
	Attempts int
	Delay    time.Duration

	After AfterFunc
}

func NewFixedRetryPolicy(attempts int, delay time.Duration) *FixedRetryPolicy {
	return &FixedRetryPolicy{Attempts: attempts, Delay: delay}
}

func (p *FixedRetryPolicy) MaxAttempts() int {
	return p.Attempts
}

func (p *FixedRetryPolicy) Retry(ctx context.Context, op func(attempt int) error) error {
	return retry(ctx, p.Attempts, p.After, func(int) time.Duration { return p.Delay }, op)
}

// BackoffRetryPolicy grows the delay exponentially (with optional jitter)
// between Min and Max. It is still bounded by Attempts.
type BackoffRetryPolicy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
	Factor   float64
	Jitter   bool

	After AfterFunc
}

func (p *BackoffRetryPolicy) MaxAttempts() int {
	return p.Attempts
}

func (p *BackoffRetryPolicy) Retry(ctx context.Context, op func(attempt int) error) error {
	b := &backoff.Backoff{
		Min:    p.Min,
		Max:    p.Max,
		Factor: p.Factor,
		Jitter: p.Jitter,
	}
	return retry(ctx, p.Attempts, p.After, func(int) time.Duration { return b.Duration() }, op)
}

func retry(ctx context.Context, attempts int, after AfterFunc, delay func(attempt int) time.Duration, op func(attempt int) error) error {
	if after == nil {
		after = time.After
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-after(delay(attempt)):
		}

		if lastErr = op(attempt); lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrRecoveryAborted) {
			return lastErr
		}
	}

	if lastErr == nil {
		return fmt.Errorf("%w: no attempts allowed", ErrRecoveryExhausted)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRecoveryExhausted, attempts, lastErr)
}
