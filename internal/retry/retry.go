// Package retry provides the single retry combinator every pipeline stage
// composes its network calls through, instead of hand-rolling loop logic at
// each call site.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// TransientError is implemented by stage errors that may succeed on a later
// attempt (network timeouts, 5xx, rate limits). Anything else is permanent
// and bypasses retry.
type TransientError interface {
	Transient() bool
}

// IsTransient reports whether err (or anything it wraps) classifies itself
// as retryable.
func IsTransient(err error) bool {
	var te TransientError
	if errors.As(err, &te) {
		return te.Transient()
	}
	return false
}

// Policy bounds one stage's retry budget.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration // doubled per attempt
	MaxDelay       time.Duration // backoff cap, 0 means uncapped
	Jitter         float64       // fraction of the delay randomized, e.g. 0.2
	AttemptTimeout time.Duration // per-attempt bound, 0 means none
}

// Do runs op under p, retrying errors accepted by retryable (IsTransient
// when nil). The last attempt's error is returned verbatim so callers keep
// their typed stage errors. A cancelled parent context stops further
// attempts immediately.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if retryable == nil {
		retryable = IsTransient
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= p.MaxAttempts || !retryable(err) || ctx.Err() != nil {
			return lastErr
		}
		select {
		case <-time.After(p.delay(attempt)):
		case <-ctx.Done():
			return lastErr
		}
	}
}

func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		factor := 1 + p.Jitter*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * factor)
	}
	if d < 0 {
		d = 0
	}
	return d
}
