package ratelimiter

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfiguration indicates an invalid limit registration (bad ranges,
	// missing required fields) or an operation addressed to the wrong kind
	// of limit.
	ErrConfiguration = errors.New("ratelimiter: invalid configuration")

	// ErrUnknownLimit indicates the caller addressed a name that was never
	// registered.
	ErrUnknownLimit = errors.New("ratelimiter: unknown limit")

	// ErrInfrastructure indicates a Redis transport failure. Engine.Attempt
	// fails open around this error and returns it only when FailOpen is
	// false. Redis calls outside the admission script (reading an adaptive
	// limit's current rate, AIMD feedback, Reset, RegisterOverride,
	// SetConfidence) return it to the caller.
	ErrInfrastructure = errors.New("ratelimiter: infrastructure failure")

	// ErrScriptContract indicates the server reported NOSCRIPT twice for
	// the same attempt, or returned a reply shaped unlike what the script
	// is documented to return. The engine does not retry a second time;
	// retrying here risks a double-admit.
	ErrScriptContract = errors.New("ratelimiter: script contract violation")

	// ErrInvalidToken indicates a caller-supplied call token was empty.
	ErrInvalidToken = errors.New("ratelimiter: token must not be empty")
)

// RateLimitedError is returned by Shift when a call could not be admitted
// within max_wait, or immediately under the raise strategy. RetryAfter is
// the caller's hint for how long to wait before trying again.
type RateLimitedError struct {
	Limit      string
	RetryAfter time.Duration
	// Override is true when the rejection came from an exhausted
	// temporary override rather than the sliding window.
	Override bool
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("ratelimiter: %q rate-limited, retry after %v", e.Limit, e.RetryAfter)
}

// NewRateLimitedError builds a RateLimitedError. Kept as a constructor,
// mirroring the small result-builder helpers the teacher package exposes,
// so call sites never have to spell out the struct literal.
func NewRateLimitedError(limit string, retryAfter time.Duration, override bool) *RateLimitedError {
	return &RateLimitedError{Limit: limit, RetryAfter: retryAfter, Override: override}
}

// configError wraps a formatted message with ErrConfiguration so callers
// can errors.Is(err, ErrConfiguration) while still getting a specific
// message out of err.Error().
func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func infrastructureError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInfrastructure, op, err)
}
