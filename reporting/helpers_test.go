package reporting

import (
	"errors"
	"time"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

type recordingSink struct {
	events    []*types.Event
	completed []string
}

func (s *recordingSink) Consume(ev *types.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Complete(runID string) error {
	s.completed = append(s.completed, runID)
	return nil
}

type streamBuilder struct {
	runID  string
	now    time.Time
	events []*types.Event
}

func (b *streamBuilder) add(ev *types.Event) *types.Event {
	ev.Time = b.now
	b.events = append(b.events, ev)
	return ev
}

func (b *streamBuilder) scenario(u *types.Unit, attempt, retries int, outcome types.Status, stepKinds []types.EventKind, failure, after *types.Failure) {
	b.add(&types.Event{Kind: types.EventScenarioStarted, Seq: u.Seq, Feature: u.Feature, Rule: u.Rule, Unit: u, Attempt: attempt})
	for i, kind := range stepKinds {
		step := u.Steps[i]
		b.add(&types.Event{Kind: types.EventStepStarted, Seq: u.Seq, Feature: u.Feature, Rule: u.Rule, Unit: u, Step: step, StepIndex: i, Attempt: attempt})
		ev := &types.Event{Kind: kind, Seq: u.Seq, Feature: u.Feature, Rule: u.Rule, Unit: u, Step: step, StepIndex: i, Attempt: attempt, Duration: 2 * time.Millisecond}
		if kind == types.EventStepFailed {
			ev.Failure = failure
		}
		b.add(ev)
	}
	b.add(&types.Event{
		Kind: types.EventScenarioFinished, Seq: u.Seq, Feature: u.Feature, Rule: u.Rule, Unit: u,
		Attempt: attempt, Outcome: outcome, RetryCount: retries, Duration: 10 * time.Millisecond,
		Failure: failure, AfterFailure: after,
	})
}

func unit(seq int, f *types.Feature, r *types.Rule, name string, tags []string, steps ...string) *types.Unit {
	u := &types.Unit{
		Seq: seq, Feature: f, Rule: r, Name: name, Tags: types.NewTagSet(f.Tags, tags),
		Scenario: &types.Scenario{Keyword: "Scenario", Name: name}, ExampleIndex: -1,
	}
	for i, s := range steps {
		kw := "Given "
		if i > 0 {
			kw = "Then "
		}
		u.Steps = append(u.Steps, &types.Step{Keyword: kw, Type: types.StepTypeFromKeyword(kw), Text: s})
	}
	return u
}

// sampleStream is feature Alpha {passes, rule Beta {fails after a retry,
// skipped}} and feature Gamma {after hook failure}.
func sampleStream() []*types.Event {
	alpha := &types.Feature{Name: "Alpha", Path: "alpha.feature", Tags: []string{"@smoke"}}
	beta := &types.Rule{Name: "Beta"}
	gamma := &types.Feature{Name: "Gamma", Path: "gamma.feature"}

	u0 := unit(0, alpha, nil, "passes", nil, "a", "b")
	u1 := unit(1, alpha, beta, "fails", []string{"@flaky"}, "a", "b", "c")
	u2 := unit(2, alpha, beta, "skipped", nil, "a")
	u3 := unit(3, gamma, nil, "after hook", nil, "a")

	stepErr := types.NewFailure(u1, u1.Steps[1], 2, &types.StepFailure{
		Kind: types.AssertionFailed, Cause: errors.New("expected 1, got 2"),
	})
	afterErr := types.NewFailure(u3, nil, 1, &types.HookFailure{
		Kind: types.AfterFailed, Hook: "cleanup", Cause: errors.New("boom"),
	})

	b := &streamBuilder{runID: "run-1", now: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	b.add(&types.Event{Kind: types.EventSuiteStarted, Seq: types.SuiteSeq, RunID: b.runID})
	b.add(&types.Event{Kind: types.EventFeatureStarted, Seq: 0, Feature: alpha})
	b.scenario(u0, 1, 0, types.StatusPassed, []types.EventKind{types.EventStepPassed, types.EventStepPassed}, nil, nil)
	b.add(&types.Event{Kind: types.EventRuleStarted, Seq: 1, Feature: alpha, Rule: beta})
	b.scenario(u1, 2, 1, types.StatusFailed, []types.EventKind{types.EventStepPassed, types.EventStepFailed, types.EventStepSkipped}, stepErr, nil)
	b.scenario(u2, 0, 0, types.StatusSkipped, []types.EventKind{types.EventStepSkipped}, nil, nil)
	b.add(&types.Event{Kind: types.EventRuleFinished, Seq: 2, Feature: alpha, Rule: beta})
	b.add(&types.Event{Kind: types.EventFeatureFinished, Seq: 2, Feature: alpha})
	b.add(&types.Event{Kind: types.EventFeatureStarted, Seq: 3, Feature: gamma})
	b.scenario(u3, 1, 0, types.StatusPassed, []types.EventKind{types.EventStepPassed}, nil, afterErr)
	b.add(&types.Event{Kind: types.EventFeatureFinished, Seq: 3, Feature: gamma})
	b.add(&types.Event{Kind: types.EventSuiteFinished, Seq: types.SuiteSeq, RunID: b.runID, Summary: &types.Summary{
		RunID:             b.runID,
		Features:          2,
		Rules:             1,
		Scenarios:         types.Counts{Passed: 2, Failed: 1, Skipped: 1},
		Steps:             types.Counts{Passed: 4, Failed: 1, Skipped: 2},
		Retried:           1,
		AfterHookFailures: 1,
		StartedAt:         b.now,
		Duration:          1500 * time.Millisecond,
	}})
	return b.events
}

func feed(sink types.EventSink, events []*types.Event) error {
	for _, ev := range events {
		if err := sink.Consume(ev); err != nil {
			return err
		}
	}
	return sink.Complete("run-1")
}
