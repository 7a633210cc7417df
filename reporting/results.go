package reporting

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// StepResult is the final state of one step.
type StepResult struct {
	Keyword  string
	Text     string
	Status   types.Status
	Duration time.Duration
	Failure  *types.Failure
}

// ScenarioResult is the final attempt of one unit.
type ScenarioResult struct {
	Seq          int
	ID           string
	Name         string
	Rule         string
	Tags         []string
	Status       types.Status
	Attempt      int
	RetryCount   int
	Duration     time.Duration
	Steps        []*StepResult
	Failure      *types.Failure
	AfterFailure *types.Failure
}

// FeatureResult groups the scenarios of one feature in report order.
type FeatureResult struct {
	Name      string
	Path      string
	Scenarios []*ScenarioResult
	Counts    types.Counts
	Duration  time.Duration
}

// Status returns the aggregated status of the feature.
func (f *FeatureResult) Status() types.Status {
	switch {
	case f.Counts.Failed > 0:
		return types.StatusFailed
	case f.Counts.Passed == 0 && f.Counts.Skipped > 0:
		return types.StatusSkipped
	default:
		return types.StatusPassed
	}
}

// RunResult is the complete result tree of a run.
type RunResult struct {
	RunID    string
	Features []*FeatureResult
	Summary  *types.Summary
}

// Failed returns every failed scenario in report order.
func (r *RunResult) Failed() []*ScenarioResult {
	var out []*ScenarioResult
	for _, f := range r.Features {
		for _, s := range f.Scenarios {
			if s.Status == types.StatusFailed {
				out = append(out, s)
			}
		}
	}
	return out
}

// ResultBuilder folds the ordered event stream into a RunResult. It starts
// over on every SuiteStarted.
type ResultBuilder struct {
	mu       sync.Mutex
	result   *RunResult
	feature  *FeatureResult
	scenario *ScenarioResult
}

// NewResultBuilder creates an empty builder.
func NewResultBuilder() *ResultBuilder {
	return &ResultBuilder{result: &RunResult{}}
}

// Add records one event.
func (b *ResultBuilder) Add(ev *types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ev.Kind {
	case types.EventSuiteStarted:
		b.result = &RunResult{RunID: ev.RunID}
		b.feature, b.scenario = nil, nil
	case types.EventFeatureStarted:
		b.feature = &FeatureResult{Name: ev.Feature.Name, Path: ev.Feature.Path}
		b.result.Features = append(b.result.Features, b.feature)
	case types.EventScenarioStarted:
		if b.feature == nil {
			return
		}
		u := ev.Unit
		b.scenario = &ScenarioResult{
			Seq:     u.Seq,
			ID:      u.ID(),
			Name:    u.Name,
			Rule:    u.RuleName(),
			Tags:    u.Tags.Sorted(),
			Attempt: ev.Attempt,
		}
		b.feature.Scenarios = append(b.feature.Scenarios, b.scenario)
	case types.EventStepPassed, types.EventStepFailed, types.EventStepSkipped:
		if b.scenario == nil {
			return
		}
		b.scenario.Steps = append(b.scenario.Steps, &StepResult{
			Keyword:  strings.TrimSpace(ev.Step.Keyword),
			Text:     ev.Step.Text,
			Status:   ev.Kind.StepStatus(),
			Duration: ev.Duration,
			Failure:  ev.Failure,
		})
	case types.EventScenarioFinished:
		if b.scenario == nil {
			return
		}
		b.scenario.Status = ev.Outcome
		b.scenario.RetryCount = ev.RetryCount
		b.scenario.Duration = ev.Duration
		b.scenario.Failure = ev.Failure
		b.scenario.AfterFailure = ev.AfterFailure
		b.feature.Counts.Add(ev.Outcome)
		b.feature.Duration += ev.Duration
		b.scenario = nil
	case types.EventFeatureFinished:
		b.feature = nil
	case types.EventSuiteFinished:
		b.result.Summary = ev.Summary
	}
}

// Result returns the result built so far.
func (b *ResultBuilder) Result() *RunResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}
