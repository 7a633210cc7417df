package behave

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-behave/exitcodes"
	"github.com/ethereum-optimism/infra/op-behave/types"
)

// RuntimeError is a failure of the run itself rather than of a scenario:
// bad configuration, unreadable feature files, a malformed outline or a
// failing report writer.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError reports a completed run in which scenarios failed.
type TestFailureError struct {
	Summary *types.Summary
	Message string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

// NewTestFailureError describes the failed run summarised by summary.
func NewTestFailureError(summary *types.Summary) *TestFailureError {
	msg := "scenarios failed"
	if summary != nil {
		msg = fmt.Sprintf("%d of %d scenarios failed", summary.Scenarios.Failed, summary.Scenarios.Total())
		if summary.Aborted {
			msg += " (run aborted)"
		}
	}
	return &TestFailureError{Summary: summary, Message: msg}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// ExitCode maps an error returned by the application to a process exit code.
func ExitCode(err error) int {
	var exitErr cli.ExitCoder
	switch {
	case err == nil:
		return exitcodes.Success
	case errors.As(err, &exitErr):
		return exitErr.ExitCode()
	case IsRuntimeError(err):
		return exitcodes.RuntimeErr
	default:
		return exitcodes.TestFailure
	}
}
