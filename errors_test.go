package behave

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-behave/exitcodes"
	"github.com/ethereum-optimism/infra/op-behave/types"
)

func TestErrorClassification(t *testing.T) {
	summary := &types.Summary{Scenarios: types.Counts{Passed: 3, Failed: 2}, Aborted: true}

	tests := []struct {
		name      string
		err       error
		runtime   bool
		failure   bool
		exitCode  int
		substring string
	}{
		{
			name:     "nil",
			err:      nil,
			exitCode: exitcodes.Success,
		},
		{
			name:      "runtime error",
			err:       NewRuntimeError(errors.New("no such file")),
			runtime:   true,
			exitCode:  exitcodes.RuntimeErr,
			substring: "runtime error: no such file",
		},
		{
			name:      "wrapped runtime error",
			err:       fmt.Errorf("failed to start: %w", NewRuntimeError(errors.New("bad outline"))),
			runtime:   true,
			exitCode:  exitcodes.RuntimeErr,
			substring: "bad outline",
		},
		{
			name:      "test failure",
			err:       NewTestFailureError(summary),
			failure:   true,
			exitCode:  exitcodes.TestFailure,
			substring: "2 of 5 scenarios failed (run aborted)",
		},
		{
			name:      "test failure without summary",
			err:       NewTestFailureError(nil),
			failure:   true,
			exitCode:  exitcodes.TestFailure,
			substring: "scenarios failed",
		},
		{
			name:     "exit coder",
			err:      cli.Exit("usage", 3),
			exitCode: 3,
		},
		{
			name:     "unclassified",
			err:      errors.New("something else"),
			exitCode: exitcodes.TestFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.runtime, IsRuntimeError(tt.err))
			assert.Equal(t, tt.failure, IsTestFailureError(tt.err))
			assert.Equal(t, tt.exitCode, ExitCode(tt.err))
			if tt.substring != "" {
				assert.Contains(t, tt.err.Error(), tt.substring)
			}
		})
	}
}

func TestRuntimeErrorUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := NewRuntimeError(cause)
	assert.ErrorIs(t, err, cause)
}
