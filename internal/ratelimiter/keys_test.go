package ratelimiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name, input, want string
	}{
		{"already normalized", "checkout_api", "checkout_api"},
		{"mixed case", "Checkout-API", "checkout_api"},
		{"spaces", "  Checkout API  ", "checkout_api"},
		{"repeated separators", "checkout---api", "checkout_api"},
		{"dotted", "checkout.api.v2", "checkout_api_v2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeName(tt.input))
		})
	}
}

func TestNormalizeName_IdentityAcrossForms(t *testing.T) {
	assert.Equal(t, normalizeName("Checkout API"), normalizeName("checkout_api"))
}

func TestKeyBuilder_FixedWindowKey(t *testing.T) {
	kb := NewKeyBuilder()
	got := kb.FixedWindowKey("Checkout API", 10, 1.0)
	assert.Equal(t, "rate_limit:checkout_api:10:1", got)
}

func TestKeyBuilder_AdaptiveWindowKey_OmitsRate(t *testing.T) {
	kb := NewKeyBuilder()
	got := kb.AdaptiveWindowKey("upstream", 2.5)
	assert.Equal(t, "rate_limit:upstream:2.5", got)
}

func TestKeyBuilder_OverrideKey(t *testing.T) {
	kb := NewKeyBuilder()
	assert.Equal(t, "rate_limit:upstream:override", kb.OverrideKey("upstream"))
}

func TestKeyBuilder_AdaptiveStateKey(t *testing.T) {
	kb := NewKeyBuilder()
	assert.Equal(t, "rate_limit:adaptive:upstream:current_rate", kb.AdaptiveStateKey("upstream", "current_rate"))
}

func TestKeyBuilder_CustomPrefix(t *testing.T) {
	kb := KeyBuilder{Prefix: "custom", AdaptivePrefix: "custom:aimd"}
	assert.Equal(t, "custom:upstream:override", kb.OverrideKey("upstream"))
	assert.Equal(t, "custom:aimd:upstream:current_rate", kb.AdaptiveStateKey("upstream", "current_rate"))
}
