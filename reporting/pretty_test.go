package reporting

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

func TestPrettySink(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, feed(NewPrettySink(&buf, false, false), sampleStream()))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "@smoke\nFeature: Alpha\n"))
	assert.Contains(t, out, "\n  @smoke\n  Scenario: passes\n")
	assert.Contains(t, out, "    ✓ Given a\n")
	assert.Contains(t, out, "\n  Rule: Beta\n")
	assert.Contains(t, out, "    @flaky @smoke\n    Scenario: fails\n")
	assert.Contains(t, out, "      ✗ Then b\n        AssertionFailed: expected 1, got 2\n")
	assert.Contains(t, out, "      ⊝ Then c\n")
	assert.Contains(t, out, "      failed after 1 retries\n")
	assert.Contains(t, out, "Feature: Gamma\n\n  Scenario: after hook\n")
	assert.Contains(t, out, "    AfterFailed: after hook cleanup failed: boom\n")
	assert.True(t, strings.HasSuffix(out, "4 scenarios (2 passed, 1 failed, 1 skipped)\n"+
		"7 steps (4 passed, 1 failed, 2 skipped)\n1 retried\n1 after hook failures\n"))
}

func TestPrettySinkVerbose(t *testing.T) {
	f := &types.Feature{Name: "Docs"}
	u := unit(0, f, nil, "doc string", nil, "a payload")
	u.Steps[0].DocString = "line one\nline two"
	u.Steps[0].Table = [][]string{{"k", "v"}}

	b := &streamBuilder{runID: "run-1"}
	b.add(&types.Event{Kind: types.EventFeatureStarted, Feature: f})
	b.scenario(u, 1, 0, types.StatusPassed, []types.EventKind{types.EventStepPassed}, nil, nil)

	var quiet, verbose bytes.Buffer
	require.NoError(t, feed(NewPrettySink(&quiet, false, false), b.events))
	require.NoError(t, feed(NewPrettySink(&verbose, false, true), b.events))

	assert.NotContains(t, quiet.String(), "line one")
	assert.Contains(t, verbose.String(), "        line one\n        line two\n")
	assert.Contains(t, verbose.String(), "        | k | v |\n")
}
