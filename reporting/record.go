package reporting

import (
	"time"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// EventRecord is the serialized form of an event.
type EventRecord struct {
	RunID        string         `json:"run_id"`
	Kind         string         `json:"kind"`
	Seq          int            `json:"seq"`
	Time         time.Time      `json:"time"`
	Feature      string         `json:"feature,omitempty"`
	Rule         string         `json:"rule,omitempty"`
	Scenario     string         `json:"scenario,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Step         string         `json:"step,omitempty"`
	StepIndex    *int           `json:"step_index,omitempty"`
	Attempt      int            `json:"attempt,omitempty"`
	Outcome      string         `json:"outcome,omitempty"`
	RetryCount   int            `json:"retry_count,omitempty"`
	DurationMS   int64          `json:"duration_ms,omitempty"`
	Failure      *FailureRecord `json:"failure,omitempty"`
	AfterFailure *FailureRecord `json:"after_failure,omitempty"`
	Summary      *types.Summary `json:"summary,omitempty"`
}

// FailureRecord is the serialized form of a failure.
type FailureRecord struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
}

// NewEventRecord flattens an event for serialization.
func NewEventRecord(runID string, ev *types.Event) *EventRecord {
	rec := &EventRecord{
		RunID:      runID,
		Kind:       string(ev.Kind),
		Seq:        ev.Seq,
		Time:       ev.Time,
		Attempt:    ev.Attempt,
		Outcome:    string(ev.Outcome),
		RetryCount: ev.RetryCount,
		DurationMS: ev.Duration.Milliseconds(),
		Summary:    ev.Summary,
	}
	if ev.Feature != nil {
		rec.Feature = ev.Feature.Name
	}
	if ev.Rule != nil {
		rec.Rule = ev.Rule.Name
	}
	if ev.Unit != nil && ev.Kind == types.EventScenarioStarted {
		rec.Tags = ev.Unit.Tags.Sorted()
	}
	if ev.Unit != nil {
		rec.Scenario = ev.Unit.Name
	}
	if ev.Step != nil {
		rec.Step = ev.Step.Keyword + ev.Step.Text
		idx := ev.StepIndex
		rec.StepIndex = &idx
	}
	rec.Failure = newFailureRecord(ev.Failure)
	rec.AfterFailure = newFailureRecord(ev.AfterFailure)
	return rec
}

func newFailureRecord(f *types.Failure) *FailureRecord {
	if f == nil {
		return nil
	}
	return &FailureRecord{Reason: f.Reason(), Message: f.Error(), Step: f.Step}
}
