// Package retry holds the bounded-attempt policy used at collaborator boundaries.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy retries a call up to MaxAttempts times, sleeping Interval between attempts.
// Exhausting the attempts is a definitive failure for the item, never a crash.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
	// OnRetry, when set, is told about every failed attempt that will be retried.
	OnRetry func(err error, wait time.Duration)
}

// Once is a policy that never retries.
var Once = Policy{MaxAttempts: 1}

// Do runs op until it succeeds, the attempts run out, or ctx is cancelled.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Interval)),
		backoff.WithMaxTries(uint(attempts)),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(p.OnRetry))
	}

	return backoff.Retry(ctx, func() (T, error) {
		return op(ctx)
	}, opts...)
}

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
