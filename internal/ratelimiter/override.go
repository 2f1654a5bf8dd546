package ratelimiter

import (
	"context"
	"log/slog"
	"reflect"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResetKind selects how RegisterOverride's reset value is interpreted
// (spec section 4.3).
type ResetKind string

const (
	// ResetSeconds treats reset as a relative TTL in seconds.
	ResetSeconds ResetKind = "seconds"
	// ResetUnix treats reset as an absolute Unix epoch in seconds.
	ResetUnix ResetKind = "unix"
	// ResetDatetime treats reset as a time.Time instant; string or
	// integer inputs are rejected to avoid silent mis-interpretation.
	ResetDatetime ResetKind = "datetime"
)

const maxOverrideSeconds = 86400 // one day (spec section 4.3 safeguard)

// OverrideStore writes the temporary fixed-window-with-TTL counter that
// supersedes the sliding window (spec section 4.3). It is adapted from
// the teacher's fixedwindow.go counter-with-TTL idiom: the override
// counter is the same "increment/decrement a key, let Redis expire it"
// shape, just counting down instead of up.
type OverrideStore struct {
	client redis.UniversalClient
	keys   KeyBuilder
	clock  Clock
	log    *slog.Logger
}

// NewOverrideStore constructs an OverrideStore.
func NewOverrideStore(client redis.UniversalClient, keys KeyBuilder, clock Clock, log *slog.Logger) *OverrideStore {
	if clock == nil {
		clock = defaultClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &OverrideStore{client: client, keys: keys, clock: clock, log: log}
}

// Register writes an override for limitName if remaining and reset
// parse to sane values, returning whether it did and, when it did, the
// TTL in seconds it computed (so callers can report it to a metrics
// sink per spec section 4.6's record_override(limit, remaining, ttl)).
// See spec section 4.3 for the full decision table.
func (o *OverrideStore) Register(ctx context.Context, limitName string, remaining any, reset any, kind ResetKind) (bool, float64, error) {
	remaining = unwrapSingle(remaining)
	reset = unwrapSingle(reset)

	n, ok := coerceInt(remaining)
	if !ok || n < 0 {
		return false, 0, nil
	}

	ttl, ok := resolveTTL(reset, kind, o.clock.Now())
	if !ok || ttl <= 0 {
		return false, 0, nil
	}

	key := o.keys.OverrideKey(limitName)
	if err := o.client.Set(ctx, key, n, time.Duration(ttl*float64(time.Second))).Err(); err != nil {
		return false, 0, infrastructureError("register override", err)
	}

	o.log.DebugContext(ctx, "ratelimiter: override registered", "limit", limitName, "remaining", n, "ttl_seconds", ttl)
	return true, ttl, nil
}

// unwrapSingle treats a one-element slice as its scalar element, since
// header-parsing pipelines commonly hand back single-element arrays.
func unwrapSingle(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Len() == 1 {
		return rv.Index(0).Interface()
	}
	return v
}

func coerceInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t != float64(int64(t)) {
			return 0, false
		}
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func resolveTTL(reset any, kind ResetKind, now time.Time) (float64, bool) {
	switch kind {
	case ResetSeconds:
		n, ok := coerceInt(reset)
		if !ok || n > maxOverrideSeconds {
			return 0, false
		}
		return float64(n), true

	case ResetUnix:
		n, ok := coerceInt(reset)
		if !ok {
			return 0, false
		}
		return float64(n) - float64(now.Unix()), true

	case ResetDatetime:
		t, ok := reset.(time.Time)
		if !ok {
			return 0, false
		}
		return t.Sub(now).Seconds(), true

	default:
		return 0, false
	}
}
