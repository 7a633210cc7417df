package reporting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

func TestRepeatSink(t *testing.T) {
	tests := []struct {
		name     string
		mode     RepeatMode
		repeated []types.EventKind
		units    []string
	}{
		{
			name: "failed",
			mode: RepeatFailed,
			repeated: []types.EventKind{
				types.EventScenarioStarted, types.EventStepFailed, types.EventScenarioFinished,
				types.EventScenarioStarted, types.EventScenarioFinished,
			},
			units: []string{"fails", "fails", "fails", "after hook", "after hook"},
		},
		{
			name: "skipped",
			mode: RepeatSkipped,
			repeated: []types.EventKind{
				types.EventScenarioStarted, types.EventStepSkipped, types.EventScenarioFinished,
			},
			units: []string{"skipped", "skipped", "skipped"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := sampleStream()
			inner := &recordingSink{}
			require.NoError(t, feed(NewRepeatSink(inner, tt.mode), events))

			// the original stream passes through untouched, the repeats
			// are inserted before SuiteFinished
			n := len(events) - 1
			require.Len(t, inner.events, n+len(tt.repeated)+1)
			assert.Equal(t, events[:n], inner.events[:n])

			repeated := inner.events[n : n+len(tt.repeated)]
			for i, ev := range repeated {
				assert.Equal(t, tt.repeated[i], ev.Kind)
				assert.Equal(t, tt.units[i], ev.Unit.Name)
			}
			assert.Equal(t, types.EventSuiteFinished, inner.events[len(inner.events)-1].Kind)
			assert.Equal(t, []string{"run-1"}, inner.completed)
		})
	}
}

func TestRepeatSinkResetsBetweenRuns(t *testing.T) {
	inner := &recordingSink{}
	sink := NewRepeatSink(inner, RepeatFailed)
	require.NoError(t, feed(sink, sampleStream()))
	assert.Equal(t, 0, sink.Repeated())

	inner.events = nil
	require.NoError(t, feed(sink, sampleStream()))
	assert.Len(t, inner.events, len(sampleStream())+5)
}
