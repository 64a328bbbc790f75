// Package retry wraps cenkalti/backoff with the policy used for outbound provider calls.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type Policy struct {
	MaxTries       uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxElapsed     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxTries:       4,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		MaxElapsed:     10 * time.Second,
	}
}

// Do calls op until it succeeds, returns an error retryable rejects, or the policy
// is exhausted. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, retryable func(error) bool, op func(context.Context) (T, error), notify func(error, time.Duration)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	opts := []backoff.RetryOption{backoff.WithBackOff(b)}
	if p.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxTries))
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(notify)))
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err != nil && retryable != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}
