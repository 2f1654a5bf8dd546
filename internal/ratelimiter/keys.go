package ratelimiter

import (
	"strconv"
	"strings"
)

const (
	// DefaultPrefix is the Redis key namespace for window sets and
	// override counters (spec section 6, "Redis keys").
	DefaultPrefix = "rate_limit"

	// DefaultAdaptivePrefix is the namespace for AIMD controller state.
	DefaultAdaptivePrefix = "rate_limit:adaptive"
)

// normalizeName lowercases and underscore-joins a limit name so that any
// two inputs producing the same normalized form address the same limit
// (spec section 3, "Identity").
func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// KeyBuilder derives the deterministic Redis keys for a limit from its
// normalized name, per the table in spec section 6.
type KeyBuilder struct {
	Prefix         string
	AdaptivePrefix string
}

// NewKeyBuilder returns a KeyBuilder with the library's default prefixes.
func NewKeyBuilder() KeyBuilder {
	return KeyBuilder{Prefix: DefaultPrefix, AdaptivePrefix: DefaultAdaptivePrefix}
}

func (k KeyBuilder) prefix() string {
	if k.Prefix == "" {
		return DefaultPrefix
	}
	return k.Prefix
}

func (k KeyBuilder) adaptivePrefix() string {
	if k.AdaptivePrefix == "" {
		return DefaultAdaptivePrefix
	}
	return k.AdaptivePrefix
}

// FixedWindowKey is the sliding-window set key for a fixed limit. The key
// includes rate and interval: changing either addresses a fresh set.
func (k KeyBuilder) FixedWindowKey(name string, rate int64, interval float64) string {
	return k.prefix() + ":" + normalizeName(name) + ":" + strconv.FormatInt(rate, 10) + ":" + formatInterval(interval)
}

// AdaptiveWindowKey is the sliding-window set key for an adaptive limit.
// It deliberately omits the rate so the same physical set survives rate
// changes driven by the AIMD controller (spec section 4.4).
func (k KeyBuilder) AdaptiveWindowKey(name string, interval float64) string {
	return k.prefix() + ":" + normalizeName(name) + ":" + formatInterval(interval)
}

// OverrideKey is the fixed-window-with-TTL counter key for a limit.
func (k KeyBuilder) OverrideKey(name string) string {
	return k.prefix() + ":" + normalizeName(name) + ":override"
}

// AdaptiveStateKey addresses one of the six AIMD state fields for a limit.
func (k KeyBuilder) AdaptiveStateKey(name, field string) string {
	return k.adaptivePrefix() + ":" + normalizeName(name) + ":" + field
}

func formatInterval(interval float64) string {
	if interval == float64(int64(interval)) {
		return strconv.FormatInt(int64(interval), 10)
	}
	return strconv.FormatFloat(interval, 'f', -1, 64)
}
