package ratelimiter

import (
	_ "embed"
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

//go:embed lua/admission.lua
var admissionLuaScript string

//go:embed lua/adaptive_success.lua
var adaptiveSuccessLuaScript string

//go:embed lua/adaptive_failure.lua
var adaptiveFailureLuaScript string

// scriptRunner addresses a Lua script by content digest and reloads it
// once on NOSCRIPT (spec section 4.1, "Script loading"; grounded on the
// EVALSHA-first / Load-on-NOSCRIPT pattern in
// gateway-controllers/policies/advanced-ratelimit/algorithms/gcra).
type scriptRunner struct {
	script *redis.Script
	log    *slog.Logger
	name   string
}

func newScriptRunner(name, source string, log *slog.Logger) *scriptRunner {
	if log == nil {
		log = slog.Default()
	}
	return &scriptRunner{script: redis.NewScript(source), log: log, name: name}
}

// run executes the script via EVALSHA, reloading and retrying exactly
// once if the server reports NOSCRIPT (a restart or a FLUSHALL can drop
// the script cache). A second NOSCRIPT is a script-contract violation:
// the engine must not retry indefinitely and risk a double-admit.
func (r *scriptRunner) run(ctx context.Context, client redis.Scripter, keys []string, args ...any) (any, error) {
	res, err := r.script.Run(ctx, client, keys, args...).Result()
	if err == nil {
		return res, nil
	}
	if !isNoScript(err) {
		return nil, err
	}

	r.log.DebugContext(ctx, "ratelimiter: script cache miss, reloading", "script", r.name)
	if _, loadErr := r.script.Load(ctx, client).Result(); loadErr != nil {
		return nil, loadErr
	}

	res, err = r.script.Run(ctx, client, keys, args...).Result()
	if err != nil {
		if isNoScript(err) {
			return nil, ScriptErrorf("second NOSCRIPT for %q after reload", r.name)
		}
		return nil, err
	}
	return res, nil
}

func isNoScript(err error) bool {
	return err != nil && len(err.Error()) >= 8 && err.Error()[:8] == "NOSCRIPT"
}

// ScriptErrorf builds an error satisfying errors.Is(err, ErrScriptContract).
func ScriptErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrScriptContract, fmt.Sprintf(format, args...))
}
