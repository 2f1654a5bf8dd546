package ratelimiter

import (
	"context"
	"math/rand"
	"time"
)

// rateResolver returns the rate to admit against for a limit: a
// constant for fixed limits, the AIMD controller's cached current_rate
// for adaptive limits.
type rateResolver func(ctx context.Context, limit *Limit) (int64, error)

// ObserveFunc is invoked once per Shift iteration with the raw
// suggested wait before jitter is applied (spec section 4.2, step 8).
type ObserveFunc func(limit string, suggestedWait time.Duration)

// shiftOptions carries the knobs Shift needs beyond the limit itself:
// the global jitter fraction, the default wait strategy, and the
// observation callback. Per-limit check_interval/max_wait live on the
// Limit itself (already defaulted by resolveDefaults).
type shiftOptions struct {
	Jitter          float64
	DefaultStrategy WaitStrategy
	Observe         ObserveFunc
	Clock           Clock
}

// shift implements the wait orchestrator (spec section 4.2). It loops,
// delegating each attempt to engine, applying proportional jitter to
// the suggested wait, and either sleeping, failing with rate_limited,
// or raising immediately per the active strategy. A cancelled or
// deadline-exceeded ctx aborts the loop immediately with ctx.Err()
// instead of sleeping through it or falling through to fail-open (spec
// section 5, "Cancellation and timeout").
func shift(ctx context.Context, engine *Engine, resolveRate rateResolver, limit *Limit, opts shiftOptions, sink safeSink) error {
	clock := opts.Clock
	if clock == nil {
		clock = defaultClock
	}

	start := clock.Now()
	strategy := resolveStrategy(ctx, opts.DefaultStrategy)
	maxWait := time.Duration(0)
	if limit.MaxWait() != nil {
		maxWait = *limit.MaxWait()
	}
	checkInterval := limit.CheckInterval()
	if checkInterval <= 0 {
		checkInterval = defaultCheckInterval
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rate, err := resolveRate(ctx, limit)
		if err != nil {
			return err
		}

		now := clock.Now()
		token := NewToken(now)
		decision, err := engine.Attempt(ctx, limit, rate, now, token)
		if err != nil {
			return err
		}

		if decision.Allowed {
			if limit.MetricsEnabled() {
				sink.allowed(limit.Name)
			}
			return nil
		}

		if opts.Observe != nil {
			opts.Observe(limit.Name, decision.Wait)
		}

		jittered := applyJitter(decision.Wait, opts.Jitter)

		// max_wait == 0 behaves like the raise strategy (spec 4.2,
		// "Per-limit parameters").
		neverWait := maxWait == 0
		elapsed := clock.Now().Sub(start)

		if elapsed > maxWait && !neverWait {
			return failBlocked(limit, jittered, decision.IsOverride, sink)
		}

		// An exhausted override cannot yield before its TTL: polling
		// would waste wall clock waiting on a quota that cannot refill
		// early (spec 4.2, step 5).
		if decision.IsOverride && jittered > maxWait {
			return failBlocked(limit, jittered, true, sink)
		}

		if neverWait || strategy == Raise {
			return failBlocked(limit, jittered, decision.IsOverride, sink)
		}

		sleepFor := jittered
		if checkInterval < sleepFor {
			sleepFor = checkInterval
		}
		if err := clock.Sleep(ctx, sleepFor); err != nil {
			return err
		}
	}
}

func failBlocked(limit *Limit, retryAfter time.Duration, isOverride bool, sink safeSink) error {
	if limit.MetricsEnabled() {
		sink.blocked(limit.Name)
	}
	return NewRateLimitedError(limit.Name, retryAfter, isOverride)
}

// applyJitter adds proportional jitter: w + U(0,1)*jitter*w. A jitter
// fraction of 0 disables it entirely (spec section 4.2, step 3).
func applyJitter(w time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || w <= 0 {
		return w
	}
	extra := rand.Float64() * jitter * float64(w)
	return w + time.Duration(extra)
}
