package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSkip may be returned by a step handler to mark the step, and with it
// the scenario, as skipped instead of failed.
var ErrSkip = errors.New("step skipped")

// MatchErrorKind distinguishes the ways step resolution can fail.
type MatchErrorKind string

const (
	NoMatch   MatchErrorKind = "NoMatch"
	Ambiguous MatchErrorKind = "Ambiguous"
)

// MatchError is returned when a step's text does not resolve to exactly
// one registered handler.
type MatchError struct {
	Kind       MatchErrorKind
	StepText   string
	Candidates []string // patterns that matched, for Ambiguous
	Suggestion string   // generated expression, for NoMatch
}

func (e *MatchError) Error() string {
	switch e.Kind {
	case Ambiguous:
		return fmt.Sprintf("ambiguous step %q matches %d patterns: %s",
			e.StepText, len(e.Candidates), strings.Join(e.Candidates, ", "))
	default:
		if e.Suggestion != "" {
			return fmt.Sprintf("undefined step %q (suggested expression: %q)", e.StepText, e.Suggestion)
		}
		return fmt.Sprintf("undefined step %q", e.StepText)
	}
}

// StepFailureKind classifies a failure raised while invoking a handler.
type StepFailureKind string

const (
	AssertionFailed  StepFailureKind = "AssertionFailed"
	HandlerFault     StepFailureKind = "HandlerFault"
	TimedOut         StepFailureKind = "TimedOut"
	ArgumentCoercion StepFailureKind = "ArgumentCoercion"
)

// StepFailure wraps the cause of a failed step invocation.
type StepFailure struct {
	Kind  StepFailureKind
	Cause error
	Stack string // populated for HandlerFault
}

func (e *StepFailure) Error() string {
	switch e.Kind {
	case HandlerFault:
		return fmt.Sprintf("handler panicked: %v", e.Cause)
	case TimedOut:
		return fmt.Sprintf("step timed out: %v", e.Cause)
	case ArgumentCoercion:
		return fmt.Sprintf("invalid step argument: %v", e.Cause)
	default:
		return e.Cause.Error()
	}
}

func (e *StepFailure) Unwrap() error {
	return e.Cause
}

// HookFailureKind classifies hook and world construction failures.
type HookFailureKind string

const (
	BeforeFailed HookFailureKind = "BeforeFailed"
	AfterFailed  HookFailureKind = "AfterFailed"
	WorldFailed  HookFailureKind = "WorldFailed"
)

// HookFailure wraps the cause of a failed hook.
type HookFailure struct {
	Kind  HookFailureKind
	Hook  string
	Cause error
	Stack string
}

func (e *HookFailure) Error() string {
	switch e.Kind {
	case WorldFailed:
		return fmt.Sprintf("failed to create world: %v", e.Cause)
	case AfterFailed:
		return fmt.Sprintf("after hook %s failed: %v", e.Hook, e.Cause)
	default:
		return fmt.Sprintf("before hook %s failed: %v", e.Hook, e.Cause)
	}
}

func (e *HookFailure) Unwrap() error {
	return e.Cause
}

// PlanningErrorKind classifies errors detected before execution starts.
type PlanningErrorKind string

const (
	MalformedOutline PlanningErrorKind = "MalformedOutline"
)

// PlanningError aborts a run before any unit is admitted.
type PlanningError struct {
	Kind     PlanningErrorKind
	Feature  string
	Scenario string
	Line     int
	Detail   string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning error (%s) in feature %q, scenario %q, line %d: %s",
		e.Kind, e.Feature, e.Scenario, e.Line, e.Detail)
}

// Failure is the standalone diagnostic attached to failed step and
// scenario events.
type Failure struct {
	Feature  string
	Rule     string
	Scenario string
	Step     string // empty for failures outside a step
	Seq      int
	Attempt  int
	Cause    error
}

func (f *Failure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "feature %q", f.Feature)
	if f.Rule != "" {
		fmt.Fprintf(&b, ", rule %q", f.Rule)
	}
	fmt.Fprintf(&b, ", scenario %q (seq %d, attempt %d)", f.Scenario, f.Seq, f.Attempt)
	if f.Step != "" {
		fmt.Fprintf(&b, ", step %q", f.Step)
	}
	fmt.Fprintf(&b, ": %v", f.Cause)
	return b.String()
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// Reason returns a short classification of the failure cause.
func (f *Failure) Reason() string {
	var (
		matchErr *MatchError
		stepErr  *StepFailure
		hookErr  *HookFailure
	)
	switch {
	case errors.As(f.Cause, &matchErr):
		return string(matchErr.Kind)
	case errors.As(f.Cause, &stepErr):
		return string(stepErr.Kind)
	case errors.As(f.Cause, &hookErr):
		return string(hookErr.Kind)
	}
	return "Unknown"
}

// NewFailure builds a Failure for the given unit.
func NewFailure(u *Unit, step *Step, attempt int, cause error) *Failure {
	f := &Failure{
		Feature:  u.FeatureName(),
		Rule:     u.RuleName(),
		Scenario: u.Name,
		Seq:      u.Seq,
		Attempt:  attempt,
		Cause:    cause,
	}
	if step != nil {
		f.Step = strings.TrimSpace(step.Keyword) + " " + step.Text
	}
	return f
}
