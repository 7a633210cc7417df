// Package runner executes a planned set of scenario units.
//
// The main components are:
//   - Runner: freezes the step registry, drives one run and hands the ordered
//     event stream to the normalizer
//   - scheduler: admits units from the serial and concurrent lanes in FIFO
//     order, bounded by the configured concurrency
//   - unit execution: world construction, Before hooks, steps, After hooks and
//     retries, producing one event batch per unit from its final attempt
//   - FlakeShakeRunner: repeats a plan to measure scenario stability
//
// Units in the serial lane hold every concurrency slot while they run, so no
// other unit overlaps them. Handlers are never interrupted; a step timeout
// abandons the handler and reports the step as timed out.
package runner
