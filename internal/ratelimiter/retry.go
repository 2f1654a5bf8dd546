package ratelimiter

import (
	"context"
	"errors"
	"time"
)

// UnboundedAttempts marks a RetryAdapter with no attempt ceiling (spec
// section 4.5, "attempts: either a positive integer or unbounded").
const UnboundedAttempts = 0

// Requeuer is the transport-agnostic contract a work-queue system must
// satisfy to host the job-retry protocol (spec section 4.5): a
// re-enqueue-with-delay primitive. attempt is the 1-indexed number of the
// attempt the re-enqueued job will make (one more than the runs so far).
type Requeuer interface {
	Requeue(ctx context.Context, delay time.Duration, attempt int) error
}

// RequeuerFunc adapts a plain function to Requeuer.
type RequeuerFunc func(ctx context.Context, delay time.Duration, attempt int) error

func (f RequeuerFunc) Requeue(ctx context.Context, delay time.Duration, attempt int) error {
	return f(ctx, delay, attempt)
}

// RetryAdapter lets background workers shed rate-limited work instead of
// parking a thread through Shift's wait (spec section 4.5). It forces
// the Raise strategy for the duration of op, catches the resulting
// RateLimitedError, and either re-enqueues the job after a delay or lets
// the error propagate once Attempts is exhausted.
type RetryAdapter struct {
	// Attempts is a positive integer, or UnboundedAttempts.
	Attempts int
	// FallbackWait is used when a rate-limited error carries no retry
	// hint (RetryAfter == 0).
	FallbackWait time.Duration
	Requeuer     Requeuer
}

// Run executes op with the raise strategy active, re-enqueueing through
// Requeuer on a rate-limited failure instead of propagating it, up to
// Attempts tries. attempt is the 1-indexed attempt count the caller's
// queue is currently on.
func (a *RetryAdapter) Run(ctx context.Context, attempt int, op func(ctx context.Context) error) error {
	raiseCtx := ScopedWaitStrategy(ctx, Raise)

	err := op(raiseCtx)
	if err == nil {
		return nil
	}

	var rle *RateLimitedError
	if !errors.As(err, &rle) {
		return err
	}

	if a.Attempts != UnboundedAttempts && attempt >= a.Attempts {
		return err
	}

	wait := rle.RetryAfter
	if wait <= 0 {
		wait = a.FallbackWait
	}

	if reqErr := a.Requeuer.Requeue(ctx, wait, attempt+1); reqErr != nil {
		return reqErr
	}
	// The current execution completes successfully; the work itself is
	// handed off to the re-enqueued attempt (spec section 4.5, step 3).
	return nil
}
