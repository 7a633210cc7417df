package reporting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

func TestResultBuilder(t *testing.T) {
	b := NewResultBuilder()
	for _, ev := range sampleStream() {
		b.Add(ev)
	}
	res := b.Result()

	assert.Equal(t, "run-1", res.RunID)
	require.Len(t, res.Features, 2)
	require.NotNil(t, res.Summary)

	alpha := res.Features[0]
	assert.Equal(t, "Alpha", alpha.Name)
	assert.Equal(t, "alpha.feature", alpha.Path)
	assert.Equal(t, types.Counts{Passed: 1, Failed: 1, Skipped: 1}, alpha.Counts)
	assert.Equal(t, types.StatusFailed, alpha.Status())
	require.Len(t, alpha.Scenarios, 3)

	fails := alpha.Scenarios[1]
	assert.Equal(t, 1, fails.Seq)
	assert.Equal(t, "Beta", fails.Rule)
	assert.Equal(t, []string{"flaky", "smoke"}, fails.Tags)
	assert.Equal(t, 2, fails.Attempt)
	assert.Equal(t, 1, fails.RetryCount)
	require.Len(t, fails.Steps, 3)
	assert.Equal(t, "Then", fails.Steps[1].Keyword)
	assert.Equal(t, types.StatusFailed, fails.Steps[1].Status)
	assert.NotNil(t, fails.Steps[1].Failure)
	assert.Equal(t, types.StatusSkipped, fails.Steps[2].Status)

	gamma := res.Features[1]
	assert.Equal(t, types.StatusPassed, gamma.Status())
	assert.NotNil(t, gamma.Scenarios[0].AfterFailure)

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "Alpha: fails", failed[0].ID)
}

func TestResultBuilderResetsOnSuiteStarted(t *testing.T) {
	b := NewResultBuilder()
	for range 2 {
		for _, ev := range sampleStream() {
			b.Add(ev)
		}
	}
	assert.Len(t, b.Result().Features, 2)
}

func TestFeatureStatus(t *testing.T) {
	tests := []struct {
		name   string
		counts types.Counts
		want   types.Status
	}{
		{name: "empty", want: types.StatusPassed},
		{name: "all passed", counts: types.Counts{Passed: 2}, want: types.StatusPassed},
		{name: "passed and skipped", counts: types.Counts{Passed: 1, Skipped: 1}, want: types.StatusPassed},
		{name: "only skipped", counts: types.Counts{Skipped: 3}, want: types.StatusSkipped},
		{name: "any failed", counts: types.Counts{Passed: 4, Failed: 1}, want: types.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &FeatureResult{Counts: tt.counts}
			assert.Equal(t, tt.want, f.Status())
		})
	}
}
