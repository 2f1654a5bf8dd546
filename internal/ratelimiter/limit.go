package ratelimiter

import (
	"math"
	"time"
)

// Kind distinguishes the two limit variants from spec section 3.
type Kind string

const (
	// Fixed is a sliding-window limit with a constant declared rate.
	Fixed Kind = "fixed"
	// Adaptive is a sliding-window limit whose rate is discovered and
	// adjusted at runtime by the AIMD controller.
	Adaptive Kind = "adaptive"
)

const (
	defaultCheckInterval = 50 * time.Millisecond
	defaultJitter        = 0.0

	// defaultMaxWait is the global max_wait a limit inherits when neither
	// it nor Options sets one. It must be positive: max_wait == 0 means
	// "never wait" (spec section 4.2, "Per-limit parameters"), which
	// would silently turn Poll into Raise for every limit that didn't
	// explicitly opt in. A caller that wants the whole coordinator to
	// never wait should set Options.DefaultStrategy to Raise instead,
	// which spec section 4.2 already documents as equivalent.
	defaultMaxWait = 30 * time.Second
)

// ErrorPredicate reports whether an error returned by the caller's
// limited operation should be treated as a rate-limit signal worth
// feeding to the adaptive controller (spec section 4.4, "Feedback
// integration").
type ErrorPredicate func(err error) bool

// ExtractResult is the outcome of a response or error extractor: a
// caller-authoritative remaining-quota hint the controller should turn
// into an override instead of its own bookkeeping (spec section 4.4 and
// the "Callback-driven header parsing" design note in section 9).
type ExtractResult struct {
	Remaining int64
	Reset     any // int64 seconds, int64 unix seconds, or time.Time, per ResetKind
	ResetKind ResetKind
}

// Extractor is a pure function: caller result in, maybe an override hint
// out. It must not mutate anything the controller owns.
type Extractor func(result any) (ExtractResult, bool)

// FixedConfig declares a fixed-rate limit (spec section 3).
type FixedConfig struct {
	Name          string
	Rate          int64
	Interval      time.Duration
	CheckInterval time.Duration // 0 inherits the global default
	MaxWait       *time.Duration // nil inherits the global default; 0 means never wait
	MetricsOn     bool
}

// AdaptiveConfig declares an AIMD limit (spec section 3 and 4.4).
type AdaptiveConfig struct {
	Name          string
	Interval      time.Duration
	CheckInterval time.Duration
	MaxWait       *time.Duration
	MetricsOn     bool

	InitialRate           int64
	MinRate               int64
	MaxRate               int64 // 0 means unbounded
	IncreaseBy            int64
	DecreaseFactor        float64
	ProbeWindow           time.Duration
	CooldownAfterDecrease time.Duration
	UtilizationThreshold  float64
	CeilingThreshold      float64

	ErrorPredicate   ErrorPredicate
	ResponseExtractor Extractor
	ErrorExtractor    Extractor
}

// AdaptiveRange is the range shorthand from spec section 4.6: a closed
// integer range auto-derives the remaining AIMD parameters.
type AdaptiveRange struct {
	Name     string
	Interval time.Duration
	Lo, Hi   int64

	CheckInterval time.Duration
	MaxWait       *time.Duration
	MetricsOn     bool

	ErrorPredicate    ErrorPredicate
	ResponseExtractor Extractor
	ErrorExtractor    Extractor
}

// Resolve derives a full AdaptiveConfig from the range shorthand.
func (r AdaptiveRange) Resolve() AdaptiveConfig {
	initial := int64(math.Ceil(float64(r.Lo+r.Hi) / 2))
	increaseBy := (r.Hi - r.Lo) / 20
	if increaseBy < 1 {
		increaseBy = 1
	}
	return AdaptiveConfig{
		Name:                  r.Name,
		Interval:              r.Interval,
		CheckInterval:         r.CheckInterval,
		MaxWait:               r.MaxWait,
		MetricsOn:             r.MetricsOn,
		InitialRate:           initial,
		MinRate:               r.Lo,
		MaxRate:               r.Hi,
		IncreaseBy:            increaseBy,
		DecreaseFactor:        defaultDecreaseFactor,
		ProbeWindow:           defaultProbeWindow,
		CooldownAfterDecrease: defaultCooldown,
		UtilizationThreshold:  defaultUtilizationThreshold,
		CeilingThreshold:      defaultCeilingThreshold,
		ErrorPredicate:        r.ErrorPredicate,
		ResponseExtractor:     r.ResponseExtractor,
		ErrorExtractor:        r.ErrorExtractor,
	}
}

// Defaults applied by the range shorthand's "documented defaults".
const (
	defaultDecreaseFactor       = 0.5
	defaultProbeWindow          = 10 * time.Second
	defaultCooldown             = 30 * time.Second
	defaultUtilizationThreshold = 0.5
	defaultCeilingThreshold     = 0.7
)

// Limit is the tagged-union admission value from the "Design Notes"
// section: adaptive limits hold a pointer to their controller, fixed
// limits hold none.
type Limit struct {
	Name          string
	kind          Kind
	fixed         FixedConfig
	adaptive      AdaptiveConfig
	checkInterval time.Duration
	maxWait       *time.Duration
	controller    *Controller
}

// Kind reports whether this is a Fixed or Adaptive limit.
func (l *Limit) Kind() Kind { return l.kind }

// Interval returns the limit's sliding-window interval as a time.Duration.
func (l *Limit) Interval() time.Duration {
	if l.kind == Fixed {
		return l.fixed.Interval
	}
	return l.adaptive.Interval
}

// CheckInterval returns the per-limit poll interval, already defaulted.
func (l *Limit) CheckInterval() time.Duration { return l.checkInterval }

// MaxWait returns the per-limit max wait, already defaulted. A nil
// return means "inherit caller default"; this is only possible before
// resolveDefaults runs.
func (l *Limit) MaxWait() *time.Duration { return l.maxWait }

// MetricsEnabled reports whether this limit should report to the Sink.
func (l *Limit) MetricsEnabled() bool {
	if l.kind == Fixed {
		return l.fixed.MetricsOn
	}
	return l.adaptive.MetricsOn
}

func (l *Limit) resolveDefaults(globalCheckInterval time.Duration, globalMaxWait time.Duration) {
	ci := l.checkInterval
	if ci == 0 {
		ci = globalCheckInterval
	}
	l.checkInterval = ci

	if l.maxWait == nil {
		mw := globalMaxWait
		l.maxWait = &mw
	}
}

// newFixedLimit validates a FixedConfig and builds the resulting Limit.
func newFixedLimit(cfg FixedConfig) (*Limit, error) {
	if cfg.Name == "" {
		return nil, configError("fixed limit name must not be empty")
	}
	if cfg.Rate < 1 {
		return nil, configError("fixed limit %q: rate must be a positive integer, got %d", cfg.Name, cfg.Rate)
	}
	if cfg.Interval <= 0 {
		return nil, configError("fixed limit %q: interval must be > 0, got %v", cfg.Name, cfg.Interval)
	}
	if cfg.CheckInterval < 0 {
		return nil, configError("fixed limit %q: check_interval must be >= 0, got %v", cfg.Name, cfg.CheckInterval)
	}

	l := &Limit{
		Name:          cfg.Name,
		kind:          Fixed,
		fixed:         cfg,
		checkInterval: cfg.CheckInterval,
		maxWait:       cfg.MaxWait,
	}
	return l, nil
}

// newAdaptiveLimit validates an AdaptiveConfig and builds the resulting
// Limit. Validation follows spec section 4.6 exactly.
func newAdaptiveLimit(cfg AdaptiveConfig, controller *Controller) (*Limit, error) {
	if cfg.Name == "" {
		return nil, configError("adaptive limit name must not be empty")
	}
	if cfg.Interval <= 0 {
		return nil, configError("adaptive limit %q: interval must be > 0, got %v", cfg.Name, cfg.Interval)
	}
	if cfg.CheckInterval < 0 {
		return nil, configError("adaptive limit %q: check_interval must be >= 0, got %v", cfg.Name, cfg.CheckInterval)
	}
	if cfg.InitialRate < 1 {
		return nil, configError("adaptive limit %q: initial_rate must be a positive integer, got %d", cfg.Name, cfg.InitialRate)
	}
	if cfg.MinRate < 1 {
		return nil, configError("adaptive limit %q: min_rate must be a positive integer, got %d", cfg.Name, cfg.MinRate)
	}
	if cfg.MinRate > cfg.InitialRate {
		return nil, configError("adaptive limit %q: min_rate (%d) must be <= initial_rate (%d)", cfg.Name, cfg.MinRate, cfg.InitialRate)
	}
	if cfg.MaxRate != 0 && cfg.MaxRate < cfg.InitialRate {
		return nil, configError("adaptive limit %q: max_rate (%d) must be >= initial_rate (%d)", cfg.Name, cfg.MaxRate, cfg.InitialRate)
	}
	if cfg.DecreaseFactor <= 0 || cfg.DecreaseFactor >= 1 {
		return nil, configError("adaptive limit %q: decrease_factor must be in (0,1), got %v", cfg.Name, cfg.DecreaseFactor)
	}
	if cfg.ProbeWindow <= 0 {
		return nil, configError("adaptive limit %q: probe_window must be > 0, got %v", cfg.Name, cfg.ProbeWindow)
	}
	if cfg.CooldownAfterDecrease <= 0 {
		return nil, configError("adaptive limit %q: cooldown_after_decrease must be > 0, got %v", cfg.Name, cfg.CooldownAfterDecrease)
	}
	if cfg.IncreaseBy <= 0 {
		return nil, configError("adaptive limit %q: increase_by must be > 0, got %v", cfg.Name, cfg.IncreaseBy)
	}
	if cfg.UtilizationThreshold < 0 || cfg.UtilizationThreshold > 1 {
		return nil, configError("adaptive limit %q: utilization_threshold must be in [0,1], got %v", cfg.Name, cfg.UtilizationThreshold)
	}
	if cfg.CeilingThreshold < 0 || cfg.CeilingThreshold > 1 {
		return nil, configError("adaptive limit %q: ceiling_threshold must be in [0,1], got %v", cfg.Name, cfg.CeilingThreshold)
	}

	l := &Limit{
		Name:          cfg.Name,
		kind:          Adaptive,
		adaptive:      cfg,
		checkInterval: cfg.CheckInterval,
		maxWait:       cfg.MaxWait,
		controller:    controller,
	}
	return l, nil
}
