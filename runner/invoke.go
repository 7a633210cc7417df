package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// guard invokes fn, converting a panic into a HandlerFault and an expired
// timeout into TimedOut. A timed out handler is abandoned, not interrupted:
// its goroutine keeps running until fn returns. Any other error from fn is
// returned unchanged.
func guard(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return call(ctx, fn)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- call(callCtx, fn) }()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return timedOut(timeout)
		}
		return err
	case <-callCtx.Done():
		// prefer a result that raced the deadline
		select {
		case err := <-done:
			if !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
		default:
		}
		return timedOut(timeout)
	}
}

func call(ctx context.Context, fn func(context.Context) error) error {
	var (
		pc  panics.Catcher
		err error
	)
	pc.Try(func() { err = fn(ctx) })
	if rec := pc.Recovered(); rec != nil {
		return &types.StepFailure{
			Kind:  types.HandlerFault,
			Cause: panicCause(rec.Value),
			Stack: string(rec.Stack),
		}
	}
	return err
}

func panicCause(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("%v", v)
}

func timedOut(timeout time.Duration) error {
	return &types.StepFailure{
		Kind:  types.TimedOut,
		Cause: fmt.Errorf("exceeded %v: %w", timeout, context.DeadlineExceeded),
	}
}
