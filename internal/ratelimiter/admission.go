package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Decision is the result of a single admission attempt (spec section
// 4.1, "attempt(limit, now, token) returns (allowed, wait, is_override)").
type Decision struct {
	Allowed    bool
	Wait       time.Duration
	IsOverride bool
}

// Engine is the sliding-window admission gate shared by every limit,
// fixed or adaptive. It is the single Redis-backed implementation the
// "Design Notes" tagged-union describes: fixed limits pass a constant
// rate, adaptive limits pass a rate read from their Controller.
type Engine struct {
	client redis.UniversalClient
	keys   KeyBuilder
	script *scriptRunner
	log    *slog.Logger
	// FailOpen controls behavior on Redis transport errors. Defaulting
	// true matches spec section 4.1's fail-open rationale; a stricter
	// deployment can flip it per section 9, Open Question 3.
	FailOpen bool
}

// NewEngine constructs an Engine bound to a Redis client.
func NewEngine(client redis.UniversalClient, keys KeyBuilder, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		client:   client,
		keys:     keys,
		script:   newScriptRunner("admission", admissionLuaScript, log),
		log:      log,
		FailOpen: true,
	}
}

// NewToken returns a globally unique call token: a time prefix plus
// fresh randomness, protecting against sorted-set member collisions
// (spec section 4.1). Grounded on the uuid-based identifier generation
// in darshilgit-learning-redis's distributed-lock example.
func NewToken(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String())
}

// Attempt runs the atomic admission decision for limit at time now using
// token as the sliding-window member. rate is the limit's current
// admission rate — a constant for fixed limits, or the AIMD controller's
// cached current_rate for adaptive limits.
func (e *Engine) Attempt(ctx context.Context, limit *Limit, rate int64, now time.Time, token string) (Decision, error) {
	if token == "" {
		return Decision{}, ErrInvalidToken
	}

	windowKey := e.windowKey(limit, rate)
	overrideKey := e.keys.OverrideKey(limit.Name)
	interval := limit.Interval().Seconds()
	nowSeconds := float64(now.UnixNano()) / 1e9

	res, err := e.script.run(ctx, e.client, []string{windowKey, overrideKey}, nowSeconds, interval, rate, token)
	if err != nil {
		// A cancelled or deadline-exceeded ctx is the caller giving up,
		// not a Redis outage: it must propagate as a cancellation error,
		// never as an admitted call (spec section 5).
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Decision{}, ctxErr
		}
		if e.FailOpen {
			e.log.WarnContext(ctx, "ratelimiter: redis unavailable, admitting fail-open", "limit", limit.Name, "error", err)
			return Decision{Allowed: true}, nil
		}
		return Decision{}, infrastructureError("admission attempt", err)
	}

	return decodeDecision(res)
}

// Reset clears the window set and the override for a limit. It does not
// touch AIMD state; Coordinator.Reset clears that through Controller.Reset.
func (e *Engine) Reset(ctx context.Context, limit *Limit, rate int64) error {
	windowKey := e.windowKey(limit, rate)
	overrideKey := e.keys.OverrideKey(limit.Name)
	if err := e.client.Del(ctx, windowKey, overrideKey).Err(); err != nil {
		return infrastructureError("reset", err)
	}
	return nil
}

func (e *Engine) windowKey(limit *Limit, rate int64) string {
	if limit.Kind() == Adaptive {
		return e.keys.AdaptiveWindowKey(limit.Name, limit.Interval().Seconds())
	}
	return e.keys.FixedWindowKey(limit.Name, rate, limit.Interval().Seconds())
}

func decodeDecision(res any) (Decision, error) {
	parts, ok := res.([]any)
	if !ok || len(parts) != 3 {
		return Decision{}, ScriptErrorf("admission script returned unexpected shape: %T", res)
	}

	allowed, err := toBool(parts[0])
	if err != nil {
		return Decision{}, err
	}
	waitSeconds, err := toFloat(parts[1])
	if err != nil {
		return Decision{}, err
	}
	isOverride, err := toBool(parts[2])
	if err != nil {
		return Decision{}, err
	}

	wait := time.Duration(waitSeconds * float64(time.Second))
	if wait < 0 {
		wait = 0
	}
	return Decision{Allowed: allowed, Wait: wait, IsOverride: isOverride}, nil
}

func toBool(v any) (bool, error) {
	n, err := toFloat(v)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(t, "%g", &f); err != nil {
			return 0, ScriptErrorf("unparseable numeric reply %q", t)
		}
		return f, nil
	default:
		return 0, ScriptErrorf("unexpected reply element type %T", v)
	}
}
