package reporting

import (
	"errors"
	"sync"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// RepeatMode selects the scenarios a RepeatSink re-outputs.
type RepeatMode int

const (
	// RepeatFailed repeats failed steps and hook failures.
	RepeatFailed RepeatMode = iota
	// RepeatSkipped repeats skipped steps.
	RepeatSkipped
)

// RepeatSink forwards every event to its inner sink and, just before
// SuiteFinished, outputs the selected scenarios a second time so they end up
// at the bottom of the output. Only the selected steps are repeated, framed
// by their ScenarioStarted and ScenarioFinished events. It is meant for
// transcript writers; wrapping a sink that aggregates results would count
// the repeated scenarios twice.
type RepeatSink struct {
	mu      sync.Mutex
	inner   types.EventSink
	mode    RepeatMode
	current []*types.Event
	repeat  []*types.Event
}

// NewRepeatSink wraps inner.
func NewRepeatSink(inner types.EventSink, mode RepeatMode) *RepeatSink {
	return &RepeatSink{inner: inner, mode: mode}
}

func (s *RepeatSink) Consume(ev *types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case types.EventSuiteStarted:
		s.current, s.repeat = nil, nil
	case types.EventScenarioStarted:
		s.current = []*types.Event{ev}
	case types.EventStepFailed, types.EventStepSkipped:
		if s.selects(ev) {
			s.current = append(s.current, ev)
		}
	case types.EventScenarioFinished:
		if s.selects(ev) && len(s.current) > 0 {
			s.repeat = append(s.repeat, s.current...)
			s.repeat = append(s.repeat, ev)
		}
		s.current = nil
	case types.EventSuiteFinished:
		var errs []error
		for _, r := range s.repeat {
			if err := s.inner.Consume(r); err != nil {
				errs = append(errs, err)
			}
		}
		s.repeat = nil
		if err := s.inner.Consume(ev); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
	return s.inner.Consume(ev)
}

func (s *RepeatSink) Complete(runID string) error {
	return s.inner.Complete(runID)
}

// Repeated returns the number of events held for repetition.
func (s *RepeatSink) Repeated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.repeat)
}

func (s *RepeatSink) selects(ev *types.Event) bool {
	switch s.mode {
	case RepeatSkipped:
		if ev.Kind == types.EventScenarioFinished {
			return ev.Outcome == types.StatusSkipped
		}
		return ev.Kind == types.EventStepSkipped
	default:
		if ev.Kind == types.EventScenarioFinished {
			return ev.Outcome == types.StatusFailed || ev.AfterFailure != nil
		}
		return ev.Kind == types.EventStepFailed
	}
}
