package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFixedLimit_Valid(t *testing.T) {
	l, err := newFixedLimit(FixedConfig{Name: "checkout", Rate: 10, Interval: time.Second})
	require.NoError(t, err)
	assert.Equal(t, Fixed, l.Kind())
	assert.Equal(t, time.Second, l.Interval())
}

func TestNewFixedLimit_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  FixedConfig
	}{
		{"missing name", FixedConfig{Rate: 10, Interval: time.Second}},
		{"zero rate", FixedConfig{Name: "x", Rate: 0, Interval: time.Second}},
		{"negative rate", FixedConfig{Name: "x", Rate: -1, Interval: time.Second}},
		{"zero interval", FixedConfig{Name: "x", Rate: 1, Interval: 0}},
		{"negative check interval", FixedConfig{Name: "x", Rate: 1, Interval: time.Second, CheckInterval: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newFixedLimit(tt.cfg)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func validAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		Name:                  "upstream",
		Interval:              time.Second,
		InitialRate:           10,
		MinRate:               2,
		MaxRate:               40,
		IncreaseBy:            1,
		DecreaseFactor:        0.5,
		ProbeWindow:           time.Second,
		CooldownAfterDecrease: time.Second,
		UtilizationThreshold:  0.5,
		CeilingThreshold:      0.7,
	}
}

func TestNewAdaptiveLimit_Valid(t *testing.T) {
	l, err := newAdaptiveLimit(validAdaptiveConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, Adaptive, l.Kind())
}

func TestNewAdaptiveLimit_Invalid(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*AdaptiveConfig)
	}{
		{"min greater than initial", func(c *AdaptiveConfig) { c.MinRate = 20 }},
		{"max less than initial", func(c *AdaptiveConfig) { c.MaxRate = 5 }},
		{"decrease factor zero", func(c *AdaptiveConfig) { c.DecreaseFactor = 0 }},
		{"decrease factor one", func(c *AdaptiveConfig) { c.DecreaseFactor = 1 }},
		{"zero probe window", func(c *AdaptiveConfig) { c.ProbeWindow = 0 }},
		{"zero cooldown", func(c *AdaptiveConfig) { c.CooldownAfterDecrease = 0 }},
		{"zero increase_by", func(c *AdaptiveConfig) { c.IncreaseBy = 0 }},
		{"utilization threshold out of range", func(c *AdaptiveConfig) { c.UtilizationThreshold = 1.5 }},
		{"ceiling threshold negative", func(c *AdaptiveConfig) { c.CeilingThreshold = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAdaptiveConfig()
			tt.mut(&cfg)
			_, err := newAdaptiveLimit(cfg, nil)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestAdaptiveRange_Resolve(t *testing.T) {
	r := AdaptiveRange{Name: "upstream", Interval: time.Second, Lo: 10, Hi: 50}
	cfg := r.Resolve()

	assert.Equal(t, int64(30), cfg.InitialRate)
	assert.Equal(t, int64(10), cfg.MinRate)
	assert.Equal(t, int64(50), cfg.MaxRate)
	assert.Equal(t, int64(2), cfg.IncreaseBy)
	assert.Equal(t, defaultDecreaseFactor, cfg.DecreaseFactor)
}

func TestAdaptiveRange_Resolve_SmallRangeFloorsIncreaseByAtOne(t *testing.T) {
	r := AdaptiveRange{Name: "upstream", Interval: time.Second, Lo: 1, Hi: 5}
	cfg := r.Resolve()
	assert.Equal(t, int64(1), cfg.IncreaseBy)
}

func TestLimit_ResolveDefaults(t *testing.T) {
	l, err := newFixedLimit(FixedConfig{Name: "x", Rate: 1, Interval: time.Second})
	require.NoError(t, err)

	l.resolveDefaults(250*time.Millisecond, 2*time.Second)
	assert.Equal(t, 250*time.Millisecond, l.CheckInterval())
	require.NotNil(t, l.MaxWait())
	assert.Equal(t, 2*time.Second, *l.MaxWait())
}

func TestLimit_ResolveDefaults_PerLimitOverridesWin(t *testing.T) {
	mw := 5 * time.Second
	l, err := newFixedLimit(FixedConfig{Name: "x", Rate: 1, Interval: time.Second, CheckInterval: 10 * time.Millisecond, MaxWait: &mw})
	require.NoError(t, err)

	l.resolveDefaults(250*time.Millisecond, 2*time.Second)
	assert.Equal(t, 10*time.Millisecond, l.CheckInterval())
	assert.Equal(t, 5*time.Second, *l.MaxWait())
}
