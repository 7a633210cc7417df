package runner

import (
	"context"
	"math"
	"time"

	"github.com/ethereum-optimism/infra/op-behave/tagexpr"
	"github.com/ethereum-optimism/infra/op-behave/types"
)

// RetryPolicy decides whether a failed unit is attempted again and how long
// to wait first.
type RetryPolicy struct {
	// MaxRetries is the number of attempts allowed after the first one.
	MaxRetries int
	// Filter restricts retries to units whose tags match. Nil retries all.
	Filter tagexpr.Expr
	// Backoff is the delay before the first retry. Zero retries immediately.
	Backoff time.Duration
	// BackoffFactor multiplies the delay after every retry.
	BackoffFactor float64
	// MaxBackoff caps the delay.
	MaxBackoff time.Duration
}

// ShouldRetry reports whether a unit that failed after retries previous
// retries may run again.
func (p RetryPolicy) ShouldRetry(u *types.Unit, retries int) bool {
	return retries < p.MaxRetries && tagexpr.Match(p.Filter, u.Tags)
}

// Delay returns the wait before the given retry, counting from 1.
func (p RetryPolicy) Delay(retry int) time.Duration {
	if p.Backoff <= 0 || retry < 1 {
		return 0
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := float64(p.Backoff) * math.Pow(factor, float64(retry-1))
	if p.MaxBackoff > 0 && delay > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// wait sleeps for d unless ctx is done first.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
