package ratelimiter

import "context"

// feedback applies the per-call feedback integration described in spec
// section 4.4: on success, either register an override (if a response
// extractor yields one) or record a plain success; on failure, the same
// choice between an override and recording a plain failure, but only
// when the error matches the limit's configured predicate. The original
// error is always returned unchanged to the caller.
type feedback struct {
	overrides  *OverrideStore
	controller *Controller
}

func newFeedback(overrides *OverrideStore, controller *Controller) *feedback {
	return &feedback{overrides: overrides, controller: controller}
}

// onSuccess runs after a limited operation returns without error.
// result is the operation's return value, passed through to the
// configured response extractor unexamined.
func (f *feedback) onSuccess(ctx context.Context, limit *Limit, result any) error {
	if limit.Kind() != Adaptive {
		return nil
	}
	cfg := limit.adaptive

	if cfg.ResponseExtractor != nil {
		if hint, ok := cfg.ResponseExtractor(result); ok {
			_, _, err := f.overrides.Register(ctx, limit.Name, hint.Remaining, hint.Reset, hint.ResetKind)
			return err
		}
	}

	_, err := f.controller.RecordSuccess(ctx, limit)
	return err
}

// onFailure runs after a limited operation returns opErr. It re-raises
// opErr unchanged once feedback has been recorded, matching spec section
// 4.4: "Either way, re-raise the original error to the caller unchanged."
func (f *feedback) onFailure(ctx context.Context, limit *Limit, opErr error, result any) error {
	if limit.Kind() != Adaptive || opErr == nil {
		return opErr
	}
	cfg := limit.adaptive

	if cfg.ErrorPredicate == nil || !cfg.ErrorPredicate(opErr) {
		return opErr
	}

	if cfg.ErrorExtractor != nil {
		if hint, ok := cfg.ErrorExtractor(result); ok {
			_, _, _ = f.overrides.Register(ctx, limit.Name, hint.Remaining, hint.Reset, hint.ResetKind)
			return opErr
		}
	}

	_, _ = f.controller.RecordFailure(ctx, limit)
	return opErr
}

// Do wraps a limited operation with full feedback integration: it
// expects op to already have passed through Shift successfully. Do is a
// convenience for callers that want one call instead of manually
// invoking onSuccess/onFailure.
func (f *feedback) Do(ctx context.Context, limit *Limit, op func() (any, error)) (any, error) {
	result, err := op()
	if err != nil {
		return result, f.onFailure(ctx, limit, err, result)
	}
	if ferr := f.onSuccess(ctx, limit, result); ferr != nil {
		return result, ferr
	}
	return result, nil
}
