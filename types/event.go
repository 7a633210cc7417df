package types

import (
	"fmt"
	"strings"
	"time"
)

// EventKind enumerates the execution events delivered to sinks.
type EventKind string

const (
	EventSuiteStarted     EventKind = "SuiteStarted"
	EventFeatureStarted   EventKind = "FeatureStarted"
	EventFeatureFinished  EventKind = "FeatureFinished"
	EventRuleStarted      EventKind = "RuleStarted"
	EventRuleFinished     EventKind = "RuleFinished"
	EventScenarioStarted  EventKind = "ScenarioStarted"
	EventStepStarted      EventKind = "StepStarted"
	EventStepPassed       EventKind = "StepPassed"
	EventStepFailed       EventKind = "StepFailed"
	EventStepSkipped      EventKind = "StepSkipped"
	EventScenarioFinished EventKind = "ScenarioFinished"
	EventSuiteFinished    EventKind = "SuiteFinished"
)

// SuiteSeq is the sequence index carried by suite-level events.
const SuiteSeq = -1

// IsStepTerminal reports whether k ends a step.
func (k EventKind) IsStepTerminal() bool {
	return k == EventStepPassed || k == EventStepFailed || k == EventStepSkipped
}

// StepStatus maps a step terminal event kind to its Status.
func (k EventKind) StepStatus() Status {
	switch k {
	case EventStepPassed:
		return StatusPassed
	case EventStepFailed:
		return StatusFailed
	case EventStepSkipped:
		return StatusSkipped
	}
	return ""
}

// Event is a single execution event. Fields beyond Kind, Seq and Time are
// populated according to the kind.
type Event struct {
	Kind EventKind
	Seq  int
	Time time.Time

	RunID   string   // suite events
	Feature *Feature // feature, rule, scenario and step events
	Rule    *Rule    // rule events, and scenario/step events inside a rule
	Unit    *Unit    // scenario and step events

	Step      *Step // step events
	StepIndex int
	Duration  time.Duration // step and scenario terminal events

	Attempt    int
	Outcome    Status // ScenarioFinished
	RetryCount int    // ScenarioFinished

	Failure      *Failure // StepFailed, and ScenarioFinished when failed
	AfterFailure *Failure // ScenarioFinished, After hook metadata

	Summary *Summary // SuiteFinished
}

// Batch is every event of one unit's final attempt, from ScenarioStarted
// through ScenarioFinished.
type Batch struct {
	Unit   *Unit
	Events []*Event
}

// Finished returns the ScenarioFinished event of the batch, if present.
func (b *Batch) Finished() *Event {
	if len(b.Events) == 0 {
		return nil
	}
	last := b.Events[len(b.Events)-1]
	if last.Kind != EventScenarioFinished {
		return nil
	}
	return last
}

// Summary aggregates a run for SuiteFinished and exit code mapping.
type Summary struct {
	RunID             string        `json:"run_id"`
	Features          int           `json:"features"`
	Rules             int           `json:"rules"`
	Scenarios         Counts        `json:"scenarios"`
	Steps             Counts        `json:"steps"`
	Retried           int           `json:"retried"`
	AfterHookFailures int           `json:"after_hook_failures"`
	Aborted           bool          `json:"aborted"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
}

// Failed reports whether any scenario failed.
func (s *Summary) Failed() bool {
	return s.Scenarios.Failed > 0
}

// Status returns the overall status of the run.
func (s *Summary) Status() Status {
	switch {
	case s.Scenarios.Failed > 0:
		return StatusFailed
	case s.Scenarios.Passed == 0 && s.Scenarios.Skipped > 0:
		return StatusSkipped
	default:
		return StatusPassed
	}
}

// String renders the summary in the conventional two-line form.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d scenarios (%s)\n", s.Scenarios.Total(), formatCounts(s.Scenarios))
	fmt.Fprintf(&b, "%d steps (%s)", s.Steps.Total(), formatCounts(s.Steps))
	if s.Retried > 0 {
		fmt.Fprintf(&b, "\n%d retried", s.Retried)
	}
	if s.AfterHookFailures > 0 {
		fmt.Fprintf(&b, "\n%d after hook failures", s.AfterHookFailures)
	}
	if s.Aborted {
		b.WriteString("\nrun aborted")
	}
	return b.String()
}

func formatCounts(c Counts) string {
	parts := make([]string, 0, 3)
	if c.Passed > 0 {
		parts = append(parts, fmt.Sprintf("%d passed", c.Passed))
	}
	if c.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", c.Failed))
	}
	if c.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", c.Skipped))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// EventSink consumes the ordered event stream.
type EventSink interface {
	// Consume processes a single event
	Consume(ev *Event) error
	// Complete is called after SuiteFinished has been consumed
	Complete(runID string) error
}
