// Package exitcodes defines the exit codes of op-behave.
package exitcodes

// Exit codes of the op-behave binary:
//
// * Success (0): every selected scenario passed or was skipped
// * TestFailure (1): one or more scenarios failed, or flake-shake found unstable scenarios
// * RuntimeErr (2): the run could not be carried out, e.g. invalid configuration,
// unparsable feature files, a malformed outline or a failing report writer
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
