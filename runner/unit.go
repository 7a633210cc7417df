package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-behave/registry"
	"github.com/ethereum-optimism/infra/op-behave/types"
)

// recorder collects the events of one attempt.
type recorder struct {
	unit    *types.Unit
	attempt int
	events  []*types.Event
}

func (rec *recorder) emit(ev *types.Event) *types.Event {
	ev.Seq = rec.unit.Seq
	ev.Unit = rec.unit
	ev.Feature = rec.unit.Feature
	ev.Rule = rec.unit.Rule
	ev.Attempt = rec.attempt
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	rec.events = append(rec.events, ev)
	return ev
}

func (rec *recorder) batch() *types.Batch {
	return &types.Batch{Unit: rec.unit, Events: rec.events}
}

// skippedBatch reports a unit that was never admitted. Attempt 0 marks it
// as not executed.
func skippedBatch(u *types.Unit) *types.Batch {
	rec := &recorder{unit: u}
	rec.emit(&types.Event{Kind: types.EventScenarioStarted})
	for i, step := range u.Steps {
		rec.emit(&types.Event{Kind: types.EventStepStarted, Step: step, StepIndex: i})
		rec.emit(&types.Event{Kind: types.EventStepSkipped, Step: step, StepIndex: i})
	}
	rec.emit(&types.Event{Kind: types.EventScenarioFinished, Outcome: types.StatusSkipped})
	return rec.batch()
}

// executeUnit runs attempts until one does not fail or the retry policy
// gives up. Only the final attempt's events are returned.
func (r *Runner) executeUnit(ctx context.Context, u *types.Unit) *types.Batch {
	// handlers outlive cancellation of the run
	execCtx := context.WithoutCancel(ctx)

	for retries := 0; ; retries++ {
		b := r.runAttempt(execCtx, u, retries+1)
		finished := b.Finished()
		finished.RetryCount = retries

		if finished.Outcome != types.StatusFailed || !r.retry.ShouldRetry(u, retries) {
			return b
		}

		delay := r.retry.Delay(retries + 1)
		r.log.Info("Retrying failed scenario", "scenario", u.ID(), "seq", u.Seq,
			"attempt", retries+1, "delay", delay, "reason", finished.Failure.Reason())
		if err := wait(ctx, delay); err != nil {
			r.log.Warn("Run cancelled during retry backoff", "scenario", u.ID(), "error", err)
			return b
		}
	}
}

// runAttempt executes one attempt of a unit with a fresh world.
func (r *Runner) runAttempt(ctx context.Context, u *types.Unit, attempt int) *types.Batch {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("scenario %s", u.Name), trace.WithAttributes(
		attribute.String("feature", u.FeatureName()),
		attribute.Int("seq", u.Seq),
		attribute.Int("attempt", attempt),
	))
	defer span.End()

	rec := &recorder{unit: u, attempt: attempt}
	start := rec.emit(&types.Event{Kind: types.EventScenarioStarted}).Time
	log := r.log.New("scenario", u.ID(), "seq", u.Seq, "attempt", attempt)
	log.Debug("Starting scenario")

	outcome := types.StatusPassed
	var failure *types.Failure

	world, err := r.newWorld(ctx)
	hooksRun := err == nil
	if err != nil {
		outcome = types.StatusFailed
		failure = types.NewFailure(u, nil, attempt, err)
	} else if err := r.runBeforeHooks(ctx, world, u); err != nil {
		outcome = types.StatusFailed
		failure = types.NewFailure(u, nil, attempt, err)
	}

	for i, step := range u.Steps {
		rec.emit(&types.Event{Kind: types.EventStepStarted, Step: step, StepIndex: i})
		if outcome != types.StatusPassed {
			rec.emit(&types.Event{Kind: types.EventStepSkipped, Step: step, StepIndex: i})
			continue
		}

		stepStart := time.Now()
		kind, stepFailure := r.runStep(ctx, world, u, step, attempt)
		rec.emit(&types.Event{
			Kind:      kind,
			Step:      step,
			StepIndex: i,
			Duration:  time.Since(stepStart),
			Failure:   stepFailure,
		})
		switch kind {
		case types.EventStepFailed:
			outcome = types.StatusFailed
			failure = stepFailure
			log.Debug("Step failed", "step", step.Text, "reason", stepFailure.Reason(), "error", stepFailure.Cause)
		case types.EventStepSkipped:
			outcome = types.StatusSkipped
			log.Debug("Step skipped", "step", step.Text)
		}
	}

	var afterFailure *types.Failure
	if hooksRun {
		if err := r.runAfterHooks(ctx, world, u, outcome); err != nil {
			afterFailure = types.NewFailure(u, nil, attempt, err)
			if r.afterFailureFailsScenario && outcome == types.StatusPassed {
				outcome = types.StatusFailed
				failure = afterFailure
			}
		}
	}

	duration := time.Since(start)
	rec.emit(&types.Event{
		Kind:         types.EventScenarioFinished,
		Outcome:      outcome,
		Failure:      failure,
		AfterFailure: afterFailure,
		Duration:     duration,
	})

	span.SetAttributes(attribute.String("outcome", string(outcome)))
	if failure != nil {
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Reason())
	}
	log.Debug("Finished scenario", "outcome", outcome, "duration", duration)
	return rec.batch()
}

// runStep resolves and invokes one step.
func (r *Runner) runStep(ctx context.Context, world registry.World, u *types.Unit, step *types.Step, attempt int) (types.EventKind, *types.Failure) {
	match, err := r.registry.Match(step)
	if err != nil {
		return types.EventStepFailed, types.NewFailure(u, step, attempt, err)
	}

	err = guard(ctx, r.stepTimeout, func(ctx context.Context) error {
		return match.Definition.Handler(ctx, world, match.Args)
	})

	var stepErr *types.StepFailure
	switch {
	case err == nil:
		return types.EventStepPassed, nil
	case errors.As(err, &stepErr):
		return types.EventStepFailed, types.NewFailure(u, step, attempt, stepErr)
	case errors.Is(err, types.ErrSkip):
		return types.EventStepSkipped, nil
	default:
		return types.EventStepFailed, types.NewFailure(u, step, attempt,
			&types.StepFailure{Kind: types.AssertionFailed, Cause: err})
	}
}

func (r *Runner) newWorld(ctx context.Context) (registry.World, error) {
	var world registry.World
	err := guard(ctx, r.stepTimeout, func(ctx context.Context) error {
		var err error
		world, err = r.registry.NewWorld(ctx)
		return err
	})
	if err != nil {
		return nil, hookFailure(types.WorldFailed, "world", err)
	}
	return world, nil
}

// runBeforeHooks runs matching Before hooks in registration order and
// stops at the first failure.
func (r *Runner) runBeforeHooks(ctx context.Context, world registry.World, u *types.Unit) error {
	for _, hook := range r.registry.BeforeHooks(u.Tags) {
		err := guard(ctx, r.stepTimeout, func(ctx context.Context) error {
			return hook.Fn(ctx, world, u)
		})
		if err != nil {
			r.log.Debug("Before hook failed", "hook", hook.Name, "scenario", u.ID(), "error", err)
			return hookFailure(types.BeforeFailed, hook.Name, err)
		}
	}
	return nil
}

// runAfterHooks runs every matching After hook, even after a failure, and
// returns the first failure.
func (r *Runner) runAfterHooks(ctx context.Context, world registry.World, u *types.Unit, status types.Status) error {
	var first error
	for _, hook := range r.registry.AfterHooks(u.Tags) {
		err := guard(ctx, r.stepTimeout, func(ctx context.Context) error {
			return hook.Fn(ctx, world, u, status)
		})
		if err == nil {
			continue
		}
		r.log.Warn("After hook failed", "hook", hook.Name, "scenario", u.ID(), "error", err)
		if first == nil {
			first = hookFailure(types.AfterFailed, hook.Name, err)
		}
	}
	return first
}

func hookFailure(kind types.HookFailureKind, name string, err error) *types.HookFailure {
	f := &types.HookFailure{Kind: kind, Hook: name, Cause: err}
	var stepErr *types.StepFailure
	if errors.As(err, &stepErr) {
		f.Stack = stepErr.Stack
	}
	return f
}
