package reconcile

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

// RetryPolicy retries best-effort remote calls that fail with a transient
// upstream error. The wait doubles after each attempt up to MaxDelay, with
// JitterFactor spreading it by up to that fraction in either direction.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultRetryPolicy is the policy used for remote cancellation.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.2,
	}
}

// RetryPolicyOption adjusts a RetryPolicy.
type RetryPolicyOption func(*RetryPolicy)

// WithMaxAttempts sets how many calls Execute makes before giving up.
func WithMaxAttempts(n int) RetryPolicyOption {
	return func(p *RetryPolicy) { p.MaxAttempts = n }
}

// WithBaseDelay sets the wait after the first failed attempt.
func WithBaseDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.BaseDelay = d }
}

// WithMaxDelay caps the wait between attempts.
func WithMaxDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.MaxDelay = d }
}

// WithJitter sets the fraction by which each wait is randomly spread.
func WithJitter(factor float64) RetryPolicyOption {
	return func(p *RetryPolicy) { p.JitterFactor = factor }
}

// NewRetryPolicy starts from DefaultRetryPolicy and applies opts.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute calls fn until it succeeds, fails with a non-transient error, or
// MaxAttempts calls have failed. In the last case the returned
// *RetryExhaustedError wraps the final failure.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if !core.IsTransientUpstream(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			return &RetryExhaustedError{Attempts: attempt, LastErr: err}
		}

		timer := time.NewTimer(p.CalculateDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// CalculateDelay returns the wait after the given failed attempt.
func (p *RetryPolicy) CalculateDelay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.JitterFactor > 0 {
		spread := float64(delay) * p.JitterFactor
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	return delay
}

// RetryExhaustedError reports that every attempt failed transiently.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error { return e.LastErr }
