package fn

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryOpts configures Retry.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	// MaxWait caps a single backoff. Zero means no cap.
	MaxWait time.Duration
	// Jitter scales each wait by a random factor in [0.5, 1.5).
	Jitter bool
	// Retryable decides whether an error is worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool
}

func (o RetryOpts) backoff(attempt int) time.Duration {
	wait := o.InitialWait << min(attempt, 30)
	if o.Jitter {
		wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))
	}
	if o.MaxWait > 0 && wait > o.MaxWait {
		wait = o.MaxWait
	}
	return wait
}

// Retry calls f until it succeeds, MaxAttempts is reached or Retryable
// rejects the error, doubling the wait between attempts. Cancellation during
// a wait returns ctx.Err().
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	var r Result[T]
	for attempt := range opts.MaxAttempts {
		r = f(ctx)
		if r.ok || attempt == opts.MaxAttempts-1 {
			return r
		}
		if opts.Retryable != nil && !opts.Retryable(r.err) {
			return r
		}

		t := time.NewTimer(opts.backoff(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}
	}
	return r
}
