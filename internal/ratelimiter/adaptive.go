package ratelimiter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateCacheFreshness = 1 * time.Second

// cachedRate is the in-process rate cache entry backing Controller's
// "reads of current_rate are served from an in-process cache with a
// freshness bound of <=1 second" requirement (spec section 4.4).
type cachedRate struct {
	rate     int64
	fetchedAt time.Time
}

// Controller is the per-process AIMD state machine. All state mutation
// happens inside Redis scripts (adaptive_success.lua, adaptive_failure.lua);
// Controller only adds an in-process read cache on top. Adapted from the
// teacher's tokenbucket.go: that limiter reads refill state, recomputes
// from elapsed time, and writes back under one script — the same
// "read accumulated state, mutate, expire" shape, generalized from one
// hash to AIMD's six discrete keys.
type Controller struct {
	client redis.UniversalClient
	keys   KeyBuilder
	clock  Clock
	log    *slog.Logger

	successScript *scriptRunner
	failureScript *scriptRunner

	mu    sync.Mutex
	cache map[string]cachedRate
}

// NewController constructs a Controller bound to a Redis client.
func NewController(client redis.UniversalClient, keys KeyBuilder, clock Clock, log *slog.Logger) *Controller {
	if clock == nil {
		clock = defaultClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		client:        client,
		keys:          keys,
		clock:         clock,
		log:           log,
		successScript: newScriptRunner("adaptive_success", adaptiveSuccessLuaScript, log),
		failureScript: newScriptRunner("adaptive_failure", adaptiveFailureLuaScript, log),
		cache:         make(map[string]cachedRate),
	}
}

func (c *Controller) stateKeys(name string) []string {
	return []string{
		c.keys.AdaptiveStateKey(name, "current_rate"),
		c.keys.AdaptiveStateKey(name, "last_decrease"),
		c.keys.AdaptiveStateKey(name, "last_probe"),
		c.keys.AdaptiveStateKey(name, "error_ceiling"),
		c.keys.AdaptiveStateKey(name, "ceiling_hits"),
		c.keys.AdaptiveStateKey(name, "ceiling_confidence"),
	}
}

func (c *Controller) failureStateKeys(name string) []string {
	return []string{
		c.keys.AdaptiveStateKey(name, "current_rate"),
		c.keys.AdaptiveStateKey(name, "last_decrease"),
		c.keys.AdaptiveStateKey(name, "error_ceiling"),
		c.keys.AdaptiveStateKey(name, "ceiling_hits"),
	}
}

// RecordSuccess runs the success-feedback script (spec section 4.4,
// record_success). It returns the new rate or 0 if no increase happened.
func (c *Controller) RecordSuccess(ctx context.Context, limit *Limit) (int64, error) {
	cfg := limit.adaptive
	now := float64(c.clock.Now().UnixNano()) / 1e9
	windowKey := c.keys.AdaptiveWindowKey(limit.Name, cfg.Interval.Seconds())
	keys := append(c.stateKeys(limit.Name), windowKey)

	res, err := c.successScript.run(ctx, c.client, keys,
		now, cfg.InitialRate, cfg.MaxRate, cfg.IncreaseBy,
		cfg.CooldownAfterDecrease.Seconds(), cfg.ProbeWindow.Seconds(),
		cfg.UtilizationThreshold, cfg.CeilingThreshold, cfg.Interval.Seconds(),
	)
	if err != nil {
		return 0, infrastructureError("adaptive record_success", err)
	}

	newRate, err := toFloat(res)
	if err != nil {
		return 0, err
	}
	if newRate > 0 {
		c.invalidate(limit.Name)
	}
	return int64(newRate), nil
}

// RecordFailure runs the failure-feedback script (spec section 4.4,
// record_failure). It always returns the (possibly decreased) rate.
func (c *Controller) RecordFailure(ctx context.Context, limit *Limit) (int64, error) {
	cfg := limit.adaptive
	now := float64(c.clock.Now().UnixNano()) / 1e9
	keys := c.failureStateKeys(limit.Name)

	res, err := c.failureScript.run(ctx, c.client, keys,
		now, cfg.InitialRate, cfg.MinRate, cfg.DecreaseFactor,
	)
	if err != nil {
		return 0, infrastructureError("adaptive record_failure", err)
	}

	newRate, err := toFloat(res)
	if err != nil {
		return 0, err
	}
	c.invalidate(limit.Name)
	c.log.DebugContext(ctx, "ratelimiter: adaptive rate decreased", "limit", limit.Name, "new_rate", newRate)
	return int64(newRate), nil
}

// SetConfidence writes an external classifier's confirmed-rate-limit-event
// count into ceiling_confidence, clamped to >= 0 (spec section 4.4,
// "Confidence sync").
func (c *Controller) SetConfidence(ctx context.Context, limitName string, n int64) error {
	if n < 0 {
		n = 0
	}
	key := c.keys.AdaptiveStateKey(limitName, "ceiling_confidence")
	if err := c.client.Set(ctx, key, n, 0).Err(); err != nil {
		return infrastructureError("set confidence", err)
	}
	return nil
}

// CurrentRate returns the limit's admission rate, served from the
// in-process cache when it is fresher than rateCacheFreshness.
func (c *Controller) CurrentRate(ctx context.Context, limit *Limit) (int64, error) {
	c.mu.Lock()
	if entry, ok := c.cache[limit.Name]; ok {
		if c.clock.Now().Sub(entry.fetchedAt) < rateCacheFreshness {
			c.mu.Unlock()
			return entry.rate, nil
		}
	}
	c.mu.Unlock()

	key := c.keys.AdaptiveStateKey(limit.Name, "current_rate")
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return limit.adaptive.InitialRate, nil
	}
	if err != nil {
		return 0, infrastructureError("read current_rate", err)
	}

	n, ok := coerceInt(val)
	if !ok {
		return 0, ScriptErrorf("current_rate holds non-integer value %q", val)
	}

	c.mu.Lock()
	c.cache[limit.Name] = cachedRate{rate: n, fetchedAt: c.clock.Now()}
	c.mu.Unlock()

	return n, nil
}

// invalidate drops the cached rate for a limit. Called synchronously by
// every write path (spec section 4.4, "Rate caching").
func (c *Controller) invalidate(name string) {
	c.mu.Lock()
	delete(c.cache, name)
	c.mu.Unlock()
}

// Reset clears all six AIMD state keys for a limit, reverting it to
// initial_rate on next use (spec section 3, "Lifecycle").
func (c *Controller) Reset(ctx context.Context, limitName string) error {
	keys := c.stateKeys(limitName)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return infrastructureError("reset adaptive state", err)
	}
	c.invalidate(limitName)
	return nil
}
