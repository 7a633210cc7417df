package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepTypeFromKeyword(t *testing.T) {
	tests := []struct {
		keyword  string
		expected StepType
		explicit bool
	}{
		{"Given ", StepTypeGiven, true},
		{"When ", StepTypeWhen, true},
		{"Then ", StepTypeThen, true},
		{"And ", StepTypeConjunction, false},
		{"But ", StepTypeConjunction, false},
		{"* ", StepTypeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.keyword, func(t *testing.T) {
			got := StepTypeFromKeyword(tt.keyword)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.explicit, got.IsExplicit())
		})
	}
}

func TestTagSet(t *testing.T) {
	set := NewTagSet([]string{"@smoke", " @wip "}, []string{"smoke", "@", "slow"})
	assert.Len(t, set, 3)
	assert.True(t, set.Has("smoke"))
	assert.True(t, set.Has("@wip"))
	assert.False(t, set.Has("fast"))
	assert.Equal(t, []string{"slow", "smoke", "wip"}, set.Sorted())
}

func TestCountsAndSummary(t *testing.T) {
	var c Counts
	for _, s := range []Status{StatusPassed, StatusPassed, StatusFailed, StatusSkipped, Status("bogus")} {
		c.Add(s)
	}
	assert.Equal(t, Counts{Passed: 2, Failed: 1, Skipped: 1}, c)
	assert.Equal(t, 4, c.Total())
	assert.False(t, Status("bogus").IsTerminal())

	tests := []struct {
		name     string
		summary  Summary
		status   Status
		rendered string
	}{
		{
			name:     "empty",
			status:   StatusPassed,
			rendered: "0 scenarios (none)\n0 steps (none)",
		},
		{
			name: "failed and aborted",
			summary: Summary{
				Scenarios: Counts{Passed: 1, Failed: 1},
				Steps:     Counts{Passed: 3, Failed: 1, Skipped: 2},
				Retried:   1,
				Aborted:   true,
			},
			status:   StatusFailed,
			rendered: "2 scenarios (1 passed, 1 failed)\n6 steps (3 passed, 1 failed, 2 skipped)\n1 retried\nrun aborted",
		},
		{
			name: "only skipped",
			summary: Summary{
				Scenarios:         Counts{Skipped: 2},
				AfterHookFailures: 1,
			},
			status:   StatusSkipped,
			rendered: "2 scenarios (2 skipped)\n0 steps (none)\n1 after hook failures",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.summary.Status())
			assert.Equal(t, tt.status == StatusFailed, tt.summary.Failed())
			assert.Equal(t, tt.rendered, tt.summary.String())
		})
	}
}

func TestBatchFinished(t *testing.T) {
	assert.Nil(t, (&Batch{}).Finished())

	finished := &Event{Kind: EventScenarioFinished}
	b := &Batch{Events: []*Event{{Kind: EventScenarioStarted}, finished}}
	assert.Same(t, finished, b.Finished())

	b.Events = b.Events[:1]
	assert.Nil(t, b.Finished())
}

func TestEventKindStepStatus(t *testing.T) {
	assert.True(t, EventStepPassed.IsStepTerminal())
	assert.True(t, EventStepSkipped.IsStepTerminal())
	assert.False(t, EventStepStarted.IsStepTerminal())
	assert.Equal(t, StatusFailed, EventStepFailed.StepStatus())
	assert.Equal(t, StatusSkipped, EventStepSkipped.StepStatus())
}

func TestPlanLanes(t *testing.T) {
	feature := &Feature{Name: "Checkout"}
	plan := &Plan{Units: []*Unit{
		{Seq: 0, Feature: feature, Name: "a", Lane: LaneConcurrent, ExampleIndex: -1},
		{Seq: 1, Feature: feature, Name: "b", Lane: LaneSerial, ExampleIndex: 1},
		{Seq: 2, Feature: feature, Name: "c", Lane: LaneConcurrent, ExampleIndex: -1},
	}}
	assert.Equal(t, 3, plan.Len())
	require.Len(t, plan.Lane(LaneConcurrent), 2)
	assert.Equal(t, 2, plan.Lane(LaneConcurrent)[1].Seq)
	require.Len(t, plan.Lane(LaneSerial), 1)
	assert.True(t, plan.Units[1].IsSerial())

	assert.Equal(t, "Checkout: a", plan.Units[0].ID())
	assert.Equal(t, "Checkout: b #2", plan.Units[1].ID())
	assert.Equal(t, "", plan.Units[0].RuleName())
	assert.Equal(t, "", (&Unit{}).FeatureName())
}

func TestFailureReason(t *testing.T) {
	unit := &Unit{Seq: 4, Feature: &Feature{Name: "Accounts"}, Rule: &Rule{Name: "Limits"}, Name: "overdraw"}
	step := &Step{Keyword: "When ", Text: "I withdraw 10"}

	tests := []struct {
		name   string
		cause  error
		reason string
	}{
		{"undefined step", &MatchError{Kind: NoMatch, StepText: "I withdraw 10"}, "NoMatch"},
		{"ambiguous step", &MatchError{Kind: Ambiguous, Candidates: []string{"a", "b"}}, "Ambiguous"},
		{"assertion", &StepFailure{Kind: AssertionFailed, Cause: errors.New("boom")}, "AssertionFailed"},
		{"wrapped timeout", fmt.Errorf("ctx: %w", &StepFailure{Kind: TimedOut, Cause: errors.New("deadline")}), "TimedOut"},
		{"hook", &HookFailure{Kind: BeforeFailed, Hook: "db", Cause: errors.New("down")}, "BeforeFailed"},
		{"plain", errors.New("plain"), "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFailure(unit, step, 2, tt.cause)
			assert.Equal(t, tt.reason, f.Reason())
			assert.ErrorIs(t, f, tt.cause)
			assert.Contains(t, f.Error(), `feature "Accounts", rule "Limits", scenario "overdraw" (seq 4, attempt 2), step "When I withdraw 10"`)
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{&MatchError{Kind: NoMatch, StepText: "x"}, `undefined step "x"`},
		{&MatchError{Kind: NoMatch, StepText: "I have 3", Suggestion: "I have {int}"}, `undefined step "I have 3" (suggested expression: "I have {int}")`},
		{&MatchError{Kind: Ambiguous, StepText: "x", Candidates: []string{"^x$", "x"}}, `ambiguous step "x" matches 2 patterns: ^x$, x`},
		{&StepFailure{Kind: HandlerFault, Cause: errors.New("nil map")}, "handler panicked: nil map"},
		{&StepFailure{Kind: ArgumentCoercion, Cause: errors.New("not an int")}, "invalid step argument: not an int"},
		{&HookFailure{Kind: WorldFailed, Cause: errors.New("x")}, "failed to create world: x"},
		{&HookFailure{Kind: AfterFailed, Hook: "cleanup", Cause: errors.New("x")}, "after hook cleanup failed: x"},
		{&PlanningError{Kind: MalformedOutline, Feature: "F", Scenario: "S", Line: 7, Detail: "row 1 has 1 cells, header has 2"},
			`planning error (MalformedOutline) in feature "F", scenario "S", line 7: row 1 has 1 cells, header has 2`},
	}
	for _, tt := range tests {
		assert.EqualError(t, tt.err, tt.expected)
	}
}
