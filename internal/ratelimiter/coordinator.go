package ratelimiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures a Coordinator (spec section 6, "configure(global_options)").
type Options struct {
	Client redis.UniversalClient

	// DefaultCheckInterval and DefaultMaxWait are inherited by any limit
	// that does not override them. DefaultMaxWait <= 0 is treated as
	// unset and replaced with defaultMaxWait, since 0 has its own
	// meaning at the per-limit level ("never wait", spec section 4.2) —
	// a coordinator-wide never-wait policy should be expressed via
	// DefaultStrategy = Raise instead, not via DefaultMaxWait.
	DefaultCheckInterval time.Duration
	DefaultMaxWait       time.Duration

	// DefaultStrategy is used when no context-scoped override is active.
	DefaultStrategy WaitStrategy

	// Jitter is the non-negative proportional jitter fraction applied to
	// every suggested wait; 0 disables it.
	Jitter float64

	Keys   KeyBuilder
	Sink   Sink
	Logger *slog.Logger
	Clock  Clock
}

func (o Options) withDefaults() Options {
	if o.DefaultCheckInterval <= 0 {
		o.DefaultCheckInterval = defaultCheckInterval
	}
	if o.DefaultMaxWait <= 0 {
		o.DefaultMaxWait = defaultMaxWait
	}
	if o.DefaultStrategy == "" {
		o.DefaultStrategy = Poll
	}
	if o.Keys == (KeyBuilder{}) {
		o.Keys = NewKeyBuilder()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = defaultClock
	}
	return o
}

// Coordinator is the library's public surface: the object each worker
// process links against (spec section 1). It owns the registry, the
// admission engine, the AIMD controller, the override store, and the
// wait orchestrator's shared configuration.
type Coordinator struct {
	opts       Options
	registry   *Registry
	engine     *Engine
	controller *Controller
	overrides  *OverrideStore
	feedback   *feedback
	sink       safeSink
}

// Configure builds a Coordinator from Options. Client must not be nil.
func Configure(opts Options) (*Coordinator, error) {
	if opts.Client == nil {
		return nil, configError("redis client is required")
	}
	opts = opts.withDefaults()

	c := &Coordinator{
		opts:       opts,
		registry:   NewRegistry(),
		engine:     NewEngine(opts.Client, opts.Keys, opts.Logger),
		controller: NewController(opts.Client, opts.Keys, opts.Clock, opts.Logger),
		overrides:  NewOverrideStore(opts.Client, opts.Keys, opts.Clock, opts.Logger),
		sink:       newSafeSink(opts.Sink),
	}
	c.feedback = newFeedback(c.overrides, c.controller)
	return c, nil
}

// RegisterFixed validates and registers a fixed-rate limit.
func (c *Coordinator) RegisterFixed(cfg FixedConfig) (*Limit, error) {
	l, err := newFixedLimit(cfg)
	if err != nil {
		return nil, err
	}
	l.resolveDefaults(c.opts.DefaultCheckInterval, c.opts.DefaultMaxWait)
	c.registry.Register(l)
	c.sink.registryMeta(l.Name, map[string]any{
		"kind": string(Fixed), "rate": cfg.Rate, "interval_seconds": cfg.Interval.Seconds(),
	})
	return l, nil
}

// RegisterAdaptive validates and registers an AIMD limit.
func (c *Coordinator) RegisterAdaptive(cfg AdaptiveConfig) (*Limit, error) {
	l, err := newAdaptiveLimit(cfg, c.controller)
	if err != nil {
		return nil, err
	}
	l.resolveDefaults(c.opts.DefaultCheckInterval, c.opts.DefaultMaxWait)
	c.registry.Register(l)
	c.sink.registryMeta(l.Name, map[string]any{
		"kind": string(Adaptive), "initial_rate": cfg.InitialRate,
		"min_rate": cfg.MinRate, "max_rate": cfg.MaxRate, "interval_seconds": cfg.Interval.Seconds(),
	})
	return l, nil
}

// RegisterAdaptiveRange registers an AIMD limit from the range shorthand
// (spec section 4.6).
func (c *Coordinator) RegisterAdaptiveRange(r AdaptiveRange) (*Limit, error) {
	return c.RegisterAdaptive(r.Resolve())
}

// Limit fetches a previously registered limit by name.
func (c *Coordinator) Limit(name string) (*Limit, error) {
	return c.registry.Get(name)
}

func (c *Coordinator) rateFor(ctx context.Context, limit *Limit) (int64, error) {
	if limit.Kind() == Fixed {
		return limit.fixed.Rate, nil
	}
	return c.controller.CurrentRate(ctx, limit)
}

// Shift attempts to acquire one unit of quota for name, waiting per the
// active strategy (spec section 4.2). It is the primitive that a
// decorated operation invokes before its body runs.
func (c *Coordinator) Shift(ctx context.Context, name string) error {
	limit, err := c.registry.Get(name)
	if err != nil {
		return err
	}
	return shift(ctx, c.engine, c.rateFor, limit, shiftOptions{
		Jitter:          c.opts.Jitter,
		DefaultStrategy: c.opts.DefaultStrategy,
		Clock:           c.opts.Clock,
	}, c.sink)
}

// ShiftObserved is Shift with an observation callback invoked on every
// polling iteration with the raw suggested wait before jitter (spec
// section 4.2, step 8).
func (c *Coordinator) ShiftObserved(ctx context.Context, name string, observe ObserveFunc) error {
	limit, err := c.registry.Get(name)
	if err != nil {
		return err
	}
	return shift(ctx, c.engine, c.rateFor, limit, shiftOptions{
		Jitter:          c.opts.Jitter,
		DefaultStrategy: c.opts.DefaultStrategy,
		Observe:         observe,
		Clock:           c.opts.Clock,
	}, c.sink)
}

// Decorate wraps op so that invoking the returned function first shifts
// against name, then runs op, then feeds the outcome back into the
// adaptive controller (success path) or checks it against the limit's
// error predicate (failure path), per spec section 4.4's feedback
// integration. The original error from op is always what callers see.
func (c *Coordinator) Decorate(name string, op func(ctx context.Context) (any, error)) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		limit, err := c.registry.Get(name)
		if err != nil {
			return nil, err
		}
		if err := c.Shift(ctx, name); err != nil {
			return nil, err
		}
		return c.feedback.Do(ctx, limit, func() (any, error) { return op(ctx) })
	}
}

// RegisterOverride honours an authoritative upstream quota hint (spec
// section 4.3).
func (c *Coordinator) RegisterOverride(ctx context.Context, name string, remaining any, reset any, kind ResetKind) (bool, error) {
	if _, err := c.registry.Get(name); err != nil {
		return false, err
	}
	ok, ttl, err := c.overrides.Register(ctx, name, remaining, reset, kind)
	if ok {
		if limit, lerr := c.registry.Get(name); lerr == nil && limit.MetricsEnabled() {
			if n, parsed := coerceInt(unwrapSingle(remaining)); parsed {
				c.sink.override(name, n, ttl)
			}
		}
	}
	return ok, err
}

// Reset clears the window set, the override, and (if adaptive) the AIMD
// state for name (spec section 6).
func (c *Coordinator) Reset(ctx context.Context, name string) error {
	limit, err := c.registry.Get(name)
	if err != nil {
		return err
	}
	rate, err := c.rateFor(ctx, limit)
	if err != nil {
		return err
	}
	if err := c.engine.Reset(ctx, limit, rate); err != nil {
		return err
	}
	if limit.Kind() == Adaptive {
		return c.controller.Reset(ctx, name)
	}
	return nil
}

// SetConfidence asserts a confirmed-rate-limit-event count for an
// adaptive limit (spec section 4.4, "Confidence sync").
func (c *Coordinator) SetConfidence(ctx context.Context, name string, n int64) error {
	limit, err := c.registry.Get(name)
	if err != nil {
		return err
	}
	if limit.Kind() != Adaptive {
		return configError("%q is not an adaptive limit", name)
	}
	return c.controller.SetConfidence(ctx, name, n)
}
