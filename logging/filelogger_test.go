package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func testUnit(seq int, f *types.Feature, name string, steps ...string) *types.Unit {
	u := &types.Unit{
		Seq: seq, Feature: f, Name: name, Tags: types.NewTagSet([]string{"@smoke"}),
		ExampleIndex: -1,
	}
	for _, s := range steps {
		u.Steps = append(u.Steps, &types.Step{Keyword: "Given ", Type: types.StepTypeGiven, Text: s})
	}
	return u
}

// runEvents is one feature with a passing, a panicking and a skipped
// scenario.
func runEvents(runID string) []*types.Event {
	f := &types.Feature{Name: "Logs"}
	pass := testUnit(0, f, "passes", "a")
	fault := testUnit(1, f, "panics: badly", "b")
	skipped := testUnit(2, f, "never runs", "c")

	failure := types.NewFailure(fault, fault.Steps[0], 1, &types.StepFailure{
		Kind:  types.HandlerFault,
		Cause: errors.New("\x1b[31mindex out of range\x1b[0m"),
		Stack: "goroutine 7 [running]:\nmain.handler()",
	})

	var events []*types.Event
	add := func(ev *types.Event) { events = append(events, ev) }
	scenario := func(u *types.Unit, attempt int, outcome types.Status, stepKind types.EventKind, fail *types.Failure) {
		add(&types.Event{Kind: types.EventScenarioStarted, Seq: u.Seq, Feature: f, Unit: u, Attempt: attempt})
		add(&types.Event{Kind: types.EventStepStarted, Seq: u.Seq, Feature: f, Unit: u, Step: u.Steps[0], Attempt: attempt})
		add(&types.Event{Kind: stepKind, Seq: u.Seq, Feature: f, Unit: u, Step: u.Steps[0], Attempt: attempt, Failure: fail, Duration: time.Millisecond})
		add(&types.Event{Kind: types.EventScenarioFinished, Seq: u.Seq, Feature: f, Unit: u, Attempt: attempt, Outcome: outcome, Failure: fail})
	}

	add(&types.Event{Kind: types.EventSuiteStarted, Seq: types.SuiteSeq, RunID: runID})
	add(&types.Event{Kind: types.EventFeatureStarted, Feature: f})
	scenario(pass, 1, types.StatusPassed, types.EventStepPassed, nil)
	scenario(fault, 1, types.StatusFailed, types.EventStepFailed, failure)
	scenario(skipped, 0, types.StatusSkipped, types.EventStepSkipped, nil)
	add(&types.Event{Kind: types.EventFeatureFinished, Seq: 2, Feature: f})
	add(&types.Event{Kind: types.EventSuiteFinished, Seq: types.SuiteSeq, RunID: runID, Summary: &types.Summary{
		RunID:     runID,
		Features:  1,
		Scenarios: types.Counts{Passed: 1, Failed: 1, Skipped: 1},
		Steps:     types.Counts{Passed: 1, Failed: 1, Skipped: 1},
	}})
	return events
}

func logRun(t *testing.T, logger *FileLogger, runID string) {
	t.Helper()
	for _, ev := range runEvents(runID) {
		require.NoError(t, logger.Consume(ev))
	}
	require.NoError(t, logger.Complete(runID))
}

func TestFileLogger(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(dir, testLogger())
	require.NoError(t, err)

	logRun(t, logger, "run-1")
	assert.Equal(t, "run-1", logger.GetRunID())

	runDir := logger.GetDirectoryForRunID("run-1")
	assert.Equal(t, filepath.Join(dir, "testrun-run-1"), runDir)

	allLogs, err := os.ReadFile(filepath.Join(runDir, AllLogsFilename))
	require.NoError(t, err)
	all := string(allLogs)
	assert.Contains(t, all, "SCENARIO: passes")
	assert.Contains(t, all, "SCENARIO: panics: badly")
	assert.Contains(t, all, "SCENARIO: never runs")
	assert.Contains(t, all, "Tags:     @smoke")
	assert.Contains(t, all, "3 scenarios (1 passed, 1 failed, 1 skipped)")
	assert.NotContains(t, all, "\x1b[")
	// transcripts keep plan order
	assert.Less(t, strings.Index(all, "SCENARIO: passes"), strings.Index(all, "SCENARIO: panics"))

	passed, err := os.ReadFile(filepath.Join(runDir, PassedDirName, "0000_Logs_passes.log"))
	require.NoError(t, err)
	assert.Contains(t, string(passed), "✓ Given a")

	failed, err := os.ReadFile(filepath.Join(runDir, FailedDirName, "0001_Logs_panics__badly.log"))
	require.NoError(t, err)
	assert.Contains(t, string(failed), "HandlerFault")
	assert.Contains(t, string(failed), "index out of range")
	assert.Contains(t, string(failed), "STACK:")
	assert.Contains(t, string(failed), "  goroutine 7 [running]:")

	entries, err := os.ReadDir(filepath.Join(runDir, PassedDirName))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "skipped scenarios only appear in all.log")

	assert.FileExists(t, filepath.Join(runDir, "summary.log"))
	events, err := os.ReadFile(filepath.Join(runDir, EventsFilename))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(events)), "\n"), len(runEvents("run-1")))
}

func TestFileLoggerConsecutiveRuns(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(dir, testLogger())
	require.NoError(t, err)

	logRun(t, logger, "first")
	logRun(t, logger, "second")

	for _, id := range []string{"first", "second"} {
		assert.FileExists(t, filepath.Join(logger.GetDirectoryForRunID(id), AllLogsFilename))
	}
	assert.Equal(t, "second", logger.GetRunID())
}

func TestFileLoggerValidation(t *testing.T) {
	_, err := NewFileLogger("", testLogger())
	require.Error(t, err)

	logger, err := NewFileLogger(t.TempDir(), testLogger())
	require.NoError(t, err)

	err = logger.Consume(&types.Event{Kind: types.EventFeatureStarted, Feature: &types.Feature{Name: "f"}})
	require.Error(t, err)

	err = logger.Consume(&types.Event{Kind: types.EventSuiteStarted, Seq: types.SuiteSeq})
	require.Error(t, err)

	require.Error(t, logger.Complete(""))
}

func TestAsyncFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	af, err := NewAsyncFile(path)
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		n, err := af.Write([]byte("line\n"))
		require.NoError(t, err)
		require.Equal(t, 5, n)
	}
	require.NoError(t, af.Close())

	_, err = af.Write([]byte("late"))
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("line\n", 500), string(data))
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", "simple"},
		{"with space", "with_space"},
		{"a/b\\c:d*e?f\"g<h>i|j", "a_b_c_d_e_f_g_h_i_j"},
		{"wait...", "wait"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, safeFilename(tt.input))
		})
	}
}

func TestStripANSIEscapeSequences(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "No ANSI sequences", input: "Simple text without colors", expected: "Simple text without colors"},
		{name: "Basic color sequence", input: "\x1b[32mGreen text\x1b[0m", expected: "Green text"},
		{name: "Bold and color sequences", input: "\x1b[1m\x1b[32mBold Green\x1b[0m normal text", expected: "Bold Green normal text"},
		{name: "Multiple parameters in escape sequence", input: "\x1b[1;32mBold Green\x1b[0m text", expected: "Bold Green text"},
		{name: "Empty string", input: "", expected: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, stripANSIEscapeSequences(tc.input))
		})
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abcdefg...", truncateString("abcdefghijklmnop", 10))
}
