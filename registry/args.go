package registry

import (
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// ArgType is a declared type for a captured step argument.
type ArgType string

const (
	ArgString   ArgType = "string"
	ArgInt      ArgType = "int"
	ArgFloat    ArgType = "float"
	ArgBool     ArgType = "bool"
	ArgDuration ArgType = "duration"
)

func (t ArgType) convert(v any) (any, error) {
	switch t {
	case ArgString:
		return cast.ToStringE(v)
	case ArgInt:
		return cast.ToInt64E(v)
	case ArgFloat:
		return cast.ToFloat64E(v)
	case ArgBool:
		return cast.ToBoolE(v)
	case ArgDuration:
		return cast.ToDurationE(v)
	default:
		return nil, fmt.Errorf("unknown argument type %q", t)
	}
}

// Args gives a handler its captured arguments along with the step's doc
// string and data table. Accessors panic on an out of range index, which
// the runner reports as a handler fault.
type Args struct {
	values []any
	step   *types.Step
}

func newArgs(values []any, step *types.Step) *Args {
	return &Args{values: values, step: step}
}

// NewArgs builds Args directly, for exercising handlers in tests.
func NewArgs(step *types.Step, values ...any) *Args {
	if step == nil {
		step = &types.Step{}
	}
	return newArgs(values, step)
}

// Len returns the number of captured arguments.
func (a *Args) Len() int { return len(a.values) }

// Value returns the i-th argument as produced by its parameter type.
func (a *Args) Value(i int) any { return a.values[i] }

// The accessors below coerce with cast's non-E variants: a value that does
// not convert yields the zero value. Declare argument types with
// WithArgTypes to turn bad input into an ArgumentCoercion failure instead.

// String returns the i-th argument as a string.
func (a *Args) String(i int) string { return cast.ToString(a.values[i]) }

// Int returns the i-th argument as an int64, or 0.
func (a *Args) Int(i int) int64 { return cast.ToInt64(a.values[i]) }

// Float returns the i-th argument as a float64, or 0.
func (a *Args) Float(i int) float64 { return cast.ToFloat64(a.values[i]) }

// Bool returns the i-th argument as a bool, or false.
func (a *Args) Bool(i int) bool { return cast.ToBool(a.values[i]) }

// Duration returns the i-th argument as a time.Duration, or 0.
func (a *Args) Duration(i int) time.Duration { return cast.ToDuration(a.values[i]) }

// DocString returns the step's doc string, or "".
func (a *Args) DocString() string { return a.step.DocString }

// Table returns the step's data table, or nil.
func (a *Args) Table() [][]string { return a.step.Table }

// Step returns the step being executed.
func (a *Args) Step() *types.Step { return a.step }
