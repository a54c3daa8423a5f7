package engine

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pakforge/pakd/internal/core/faults"
)

// =============================================================================
// Recovery Policies
// =============================================================================

// recoveryAction is the side effect a recovery strategy performs before
// retrying the target job.
type recoveryAction int

const (
	actionNone recoveryAction = iota
	actionCleanup
	actionReloadConfig
	actionReinitAdapter
)

// recoveryPolicy describes the retry behavior for one error type.
type recoveryPolicy struct {
	// MaxRetries is the number of retries per target after the initial
	// failed attempt.
	MaxRetries int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64

	Action recoveryAction
}

// defaultPolicy is the generic backoff-and-retry applied to error types
// without a dedicated strategy.
var defaultPolicy = recoveryPolicy{
	MaxRetries:   1,
	InitialDelay: 2 * time.Second,
	MaxDelay:     30 * time.Second,
	Factor:       2.0,
	Action:       actionNone,
}

// policies keys recovery strategies by error type.
var policies = map[faults.ErrorType]recoveryPolicy{
	faults.NetworkError: {
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		Action:       actionNone,
	},
	faults.ResourceError: {
		MaxRetries:   1,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		Action:       actionCleanup,
	},
	faults.ConfigError: {
		MaxRetries:   1,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		Action:       actionReloadConfig,
	},
	faults.ModuleError: {
		MaxRetries:   1,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		Action:       actionReinitAdapter,
	},
	faults.DeploymentError: {
		MaxRetries:   1,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		Action:       actionCleanup,
	},
}

// policyFor returns the recovery policy for an error type.
func policyFor(t faults.ErrorType) recoveryPolicy {
	if p, ok := policies[t]; ok {
		return p
	}
	return defaultPolicy
}

// backoffDelay computes the exponential backoff delay before retry number
// attempt (the first retry is attempt 1), capped at the policy maximum.
func backoffDelay(p recoveryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.Factor, float64(attempt-1)))
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	return d
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// Recovery Budget
// =============================================================================

// DefaultRecoveryLimit bounds automatic recovery attempts per deployment
// run.
const DefaultRecoveryLimit = 3

// recoveryBudget bounds automatic recovery attempts across all targets of
// one run. Concurrent target jobs draw from it, so the counter is atomic.
// The first refused take fires onExhausted exactly once; recovery stays
// disabled for the remainder of the run.
type recoveryBudget struct {
	limit       int32
	used        atomic.Int32
	exhausted   sync.Once
	onExhausted func()
}

func newRecoveryBudget(limit int, onExhausted func()) *recoveryBudget {
	if limit <= 0 {
		limit = DefaultRecoveryLimit
	}
	if onExhausted == nil {
		onExhausted = func() {}
	}
	return &recoveryBudget{limit: int32(limit), onExhausted: onExhausted}
}

// Take claims one recovery attempt. It returns false once the budget is
// exhausted.
func (b *recoveryBudget) Take() bool {
	if b.used.Add(1) > b.limit {
		b.exhausted.Do(b.onExhausted)
		return false
	}
	return true
}

// Used returns the number of recovery attempts taken so far, capped at the
// limit.
func (b *recoveryBudget) Used() int {
	used := b.used.Load()
	if used > b.limit {
		return int(b.limit)
	}
	return int(used)
}
