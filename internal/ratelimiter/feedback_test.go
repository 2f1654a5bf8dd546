package ratelimiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeedbackForTest(t *testing.T) (*feedback, *redis.Client) {
	t.Helper()
	client, _ := setupMiniredis(t)
	clock := newFakeClock(time.Unix(1700000000, 0))
	keys := NewKeyBuilder()
	overrides := NewOverrideStore(client, keys, clock, nil)
	controller := NewController(client, keys, clock, nil)
	return newFeedback(overrides, controller), client
}

func adaptiveLimitForTest(t *testing.T, mutate func(*AdaptiveConfig)) *Limit {
	t.Helper()
	cfg := validAdaptiveConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	l, err := newAdaptiveLimit(cfg, nil)
	require.NoError(t, err)
	return l
}

func TestFeedback_OnSuccess_FixedLimitNoop(t *testing.T) {
	fb, _ := newFeedbackForTest(t)
	l, err := newFixedLimit(FixedConfig{Name: "x", Rate: 1, Interval: time.Second})
	require.NoError(t, err)

	assert.NoError(t, fb.onSuccess(context.Background(), l, nil))
}

func TestFeedback_OnSuccess_RecordsPlainSuccess(t *testing.T) {
	fb, client := newFeedbackForTest(t)
	l := adaptiveLimitForTest(t, nil)

	err := fb.onSuccess(context.Background(), l, nil)
	require.NoError(t, err)

	key := NewKeyBuilder().AdaptiveStateKey("upstream", "current_rate")
	val, err := client.Get(context.Background(), key).Result()
	require.NoError(t, err)
	assert.NotEmpty(t, val)
}

func TestFeedback_OnSuccess_ResponseExtractorRegistersOverride(t *testing.T) {
	fb, client := newFeedbackForTest(t)
	l := adaptiveLimitForTest(t, func(c *AdaptiveConfig) {
		c.ResponseExtractor = func(result any) (ExtractResult, bool) {
			return ExtractResult{Remaining: 7, Reset: int64(30), ResetKind: ResetSeconds}, true
		}
	})

	err := fb.onSuccess(context.Background(), l, "some-response")
	require.NoError(t, err)

	key := NewKeyBuilder().OverrideKey("upstream")
	val, err := client.Get(context.Background(), key).Result()
	require.NoError(t, err)
	assert.Equal(t, "7", val)
}

func TestFeedback_OnFailure_NilErrorIsNoop(t *testing.T) {
	fb, _ := newFeedbackForTest(t)
	l := adaptiveLimitForTest(t, nil)
	assert.NoError(t, fb.onFailure(context.Background(), l, nil, nil))
}

func TestFeedback_OnFailure_PredicateRejectsLeavesStateUntouched(t *testing.T) {
	fb, client := newFeedbackForTest(t)
	boom := errors.New("boom")
	l := adaptiveLimitForTest(t, func(c *AdaptiveConfig) {
		c.ErrorPredicate = func(err error) bool { return false }
	})

	err := fb.onFailure(context.Background(), l, boom, nil)
	assert.Same(t, boom, err)

	key := NewKeyBuilder().AdaptiveStateKey("upstream", "current_rate")
	exists, _ := client.Exists(context.Background(), key).Result()
	assert.Zero(t, exists)
}

func TestFeedback_OnFailure_PredicateAcceptsRecordsFailure(t *testing.T) {
	fb, client := newFeedbackForTest(t)
	boom := errors.New("rate limited upstream")
	l := adaptiveLimitForTest(t, func(c *AdaptiveConfig) {
		c.ErrorPredicate = func(err error) bool { return true }
	})

	err := fb.onFailure(context.Background(), l, boom, nil)
	assert.Same(t, boom, err)

	key := NewKeyBuilder().AdaptiveStateKey("upstream", "current_rate")
	val, gerr := client.Get(context.Background(), key).Result()
	require.NoError(t, gerr)
	assert.NotEmpty(t, val)
}

func TestFeedback_OnFailure_ErrorExtractorRegistersOverrideAndReturnsOriginalError(t *testing.T) {
	fb, client := newFeedbackForTest(t)
	boom := errors.New("429")
	l := adaptiveLimitForTest(t, func(c *AdaptiveConfig) {
		c.ErrorPredicate = func(err error) bool { return true }
		c.ErrorExtractor = func(result any) (ExtractResult, bool) {
			return ExtractResult{Remaining: 0, Reset: int64(60), ResetKind: ResetSeconds}, true
		}
	})

	err := fb.onFailure(context.Background(), l, boom, nil)
	assert.Same(t, boom, err)

	key := NewKeyBuilder().OverrideKey("upstream")
	val, gerr := client.Get(context.Background(), key).Result()
	require.NoError(t, gerr)
	assert.Equal(t, "0", val)
}

func TestFeedback_Do_SuccessPath(t *testing.T) {
	fb, _ := newFeedbackForTest(t)
	l := adaptiveLimitForTest(t, nil)

	result, err := fb.Do(context.Background(), l, func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestFeedback_Do_FailurePathReturnsOriginalError(t *testing.T) {
	fb, _ := newFeedbackForTest(t)
	boom := errors.New("boom")
	l := adaptiveLimitForTest(t, nil)

	_, err := fb.Do(context.Background(), l, func() (any, error) { return nil, boom })
	assert.Same(t, boom, err)
}
