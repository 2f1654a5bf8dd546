package ratelimiter

import "context"

// WaitStrategy is the per-context choice between polling (sleep) and
// immediate rejection with a retry hint (raise). See spec section 4.2
// and the GLOSSARY entry "Wait strategy".
type WaitStrategy string

const (
	// Poll sleeps (capped by check_interval) and retries until allowed
	// or max_wait is exceeded.
	Poll WaitStrategy = "poll"
	// Raise fails immediately on the first rejection, carrying the
	// jittered wait as a retry hint.
	Raise WaitStrategy = "raise"
)

type strategyContextKey struct{}

// ScopedWaitStrategy returns a child context carrying strategy as the
// active override. Go has no goroutine-local storage, so the "thread-
// local state, save-and-restore, exception-safe" requirement from spec
// section 5 is rendered as an explicit context value: the override is
// visible only through the returned context and its descendants, never
// through the context the caller already held, so nothing can leak back
// into the enclosing scope on return, panic, or error. This is the
// idiomatic Go substitute for the scoped-global pattern in section 9's
// design notes.
func ScopedWaitStrategy(ctx context.Context, strategy WaitStrategy) context.Context {
	return context.WithValue(ctx, strategyContextKey{}, strategy)
}

// CurrentWaitStrategy returns the active strategy override carried on
// ctx, if any.
func CurrentWaitStrategy(ctx context.Context) (WaitStrategy, bool) {
	s, ok := ctx.Value(strategyContextKey{}).(WaitStrategy)
	return s, ok
}

// resolveStrategy returns the first defined of: the context override,
// the global default (spec section 4.2, "Strategy resolution").
func resolveStrategy(ctx context.Context, globalDefault WaitStrategy) WaitStrategy {
	if s, ok := CurrentWaitStrategy(ctx); ok {
		return s
	}
	return globalDefault
}
