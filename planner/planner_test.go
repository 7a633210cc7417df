package planner

import (
	"regexp"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-behave/tagexpr"
	"github.com/ethereum-optimism/infra/op-behave/types"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func st(keyword, text string) *types.Step {
	return &types.Step{Keyword: keyword + " ", Type: types.StepTypeFromKeyword(keyword), Text: text}
}

func scenario(name string, tags []string, steps ...*types.Step) *types.Scenario {
	return &types.Scenario{Keyword: "Scenario", Name: name, Tags: tags, Steps: steps}
}

func outlineFeature() *types.Feature {
	return &types.Feature{
		Name: "Eating",
		Children: []types.FeatureChild{{
			Scenario: &types.Scenario{
				Keyword: "Scenario Outline",
				Name:    "eating <eat> of <start>",
				Steps: []*types.Step{
					st("Given", "there are <start> cucumbers"),
					st("When", "I eat <eat> cucumbers"),
					st("Then", "I should have <left> cucumbers"),
				},
				Examples: []*types.Examples{{
					Name:   "basics",
					Header: []string{"start", "eat", "left"},
					Rows: []types.ExampleRow{
						{Line: 10, Cells: []string{"12", "5", "7"}},
						{Line: 11, Cells: []string{"20", "5", "15"}},
						{Line: 12, Cells: []string{"5", "5", "0"}},
					},
				}},
			},
		}},
	}
}

func TestOutlineExpansion(t *testing.T) {
	plan, err := New(Config{Log: testLogger()}).Plan([]*types.Feature{outlineFeature()})
	require.NoError(t, err)
	require.Equal(t, 3, plan.Len())

	for i, u := range plan.Units {
		assert.Equal(t, i, u.Seq)
		assert.Equal(t, i, u.ExampleIndex)
		assert.Equal(t, "basics", u.ExamplesName)
	}

	u := plan.Units[1]
	assert.Equal(t, "eating 5 of 20", u.Name)
	assert.Equal(t, 11, u.Line)
	require.Len(t, u.Steps, 3)
	assert.Equal(t, "there are 20 cucumbers", u.Steps[0].Text)
	assert.Equal(t, "I eat 5 cucumbers", u.Steps[1].Text)
	assert.Equal(t, "I should have 15 cucumbers", u.Steps[2].Text)
	assert.Equal(t, map[string]string{"start": "20", "eat": "5", "left": "15"}, u.ExampleRow)

	// the source scenario is left untouched
	assert.Equal(t, "there are <start> cucumbers", plan.Units[0].Scenario.Steps[0].Text)
}

func TestOutlineSubstitutesDocStringAndTable(t *testing.T) {
	feature := outlineFeature()
	sc := feature.Children[0].Scenario
	sc.Steps[0].DocString = "start=<start>"
	sc.Steps[0].Table = [][]string{{"eat"}, {"<eat>"}}

	plan, err := New(Config{Log: testLogger()}).Plan([]*types.Feature{feature})
	require.NoError(t, err)
	assert.Equal(t, "start=12", plan.Units[0].Steps[0].DocString)
	assert.Equal(t, [][]string{{"eat"}, {"5"}}, plan.Units[0].Steps[0].Table)
}

func TestSubstitutionIsSinglePass(t *testing.T) {
	feature := &types.Feature{
		Name: "Values",
		Children: []types.FeatureChild{{
			Scenario: &types.Scenario{
				Keyword: "Scenario Outline",
				Name:    "value <a>",
				Steps:   []*types.Step{st("Given", "value <a>")},
				Examples: []*types.Examples{{
					Header: []string{"a", "b"},
					Rows:   []types.ExampleRow{{Line: 5, Cells: []string{"<b>", "x"}}},
				}},
			},
		}},
	}

	p := New(Config{Log: testLogger()})
	for i := 0; i < 100; i++ {
		plan, err := p.Plan([]*types.Feature{feature})
		require.NoError(t, err)
		require.Equal(t, "value <b>", plan.Units[0].Steps[0].Text)
		require.Equal(t, "value <b>", plan.Units[0].Name)
	}
}

func TestSubstitute(t *testing.T) {
	values := map[string]string{"a": "<b>", "b": "x", "empty": ""}
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "no placeholders", in: "plain text", want: "plain text"},
		{name: "inserted text is not rescanned", in: "<a> and <b>", want: "<b> and x"},
		{name: "unknown name kept", in: "<c> <b>", want: "<c> x"},
		{name: "empty value", in: "[<empty>]", want: "[]"},
		{name: "stray angle brackets", in: "1 < 2 <b> > 0", want: "1 < 2 x > 0"},
		{name: "unterminated", in: "<b> <a", want: "x <a"},
		{name: "adjacent", in: "<b><b>", want: "xx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, substitute(tt.in, values))
		})
	}
}

func TestRaggedExamplesIsFatal(t *testing.T) {
	feature := outlineFeature()
	sc := feature.Children[0].Scenario
	sc.Tags = []string{"@wip"}
	sc.Examples[0].Rows[2].Cells = []string{"5", "5"}

	// filtered out scenarios are still validated
	p := New(Config{Log: testLogger(), TagFilter: tagexpr.MustParse("not @wip")})
	plan, err := p.Plan([]*types.Feature{feature})
	require.Nil(t, plan)

	var planErr *types.PlanningError
	require.ErrorAs(t, err, &planErr)
	assert.Equal(t, types.MalformedOutline, planErr.Kind)
	assert.Equal(t, "Eating", planErr.Feature)
	assert.Equal(t, 12, planErr.Line)
}

func TestDenseSequenceAcrossFeaturesAndFilters(t *testing.T) {
	features := []*types.Feature{
		{
			Name: "first",
			Children: []types.FeatureChild{
				{Scenario: scenario("a", []string{"@keep"})},
				{Scenario: scenario("b", nil)},
				{Scenario: scenario("c", []string{"@keep"})},
			},
		},
		{
			Name:     "dropped entirely",
			Children: []types.FeatureChild{{Scenario: scenario("d", nil)}},
		},
		{
			Name: "second",
			Tags: []string{"@keep"},
			Children: []types.FeatureChild{
				{Scenario: scenario("e", nil)},
			},
		},
	}

	plan, err := New(Config{Log: testLogger(), TagFilter: tagexpr.MustParse("@keep")}).Plan(features)
	require.NoError(t, err)

	var names []string
	for i, u := range plan.Units {
		assert.Equal(t, i, u.Seq)
		names = append(names, u.Name)
	}
	assert.Equal(t, []string{"a", "c", "e"}, names)
	require.Len(t, plan.Features, 2)
	assert.Equal(t, "first", plan.Features[0].Name)
	assert.Equal(t, "second", plan.Features[1].Name)
}

func TestNameFilter(t *testing.T) {
	feature := &types.Feature{
		Name: "f",
		Children: []types.FeatureChild{
			{Scenario: scenario("login works", nil)},
			{Scenario: scenario("logout works", nil)},
		},
	}
	plan, err := New(Config{Log: testLogger(), NameFilter: regexp.MustCompile("^login")}).Plan([]*types.Feature{feature})
	require.NoError(t, err)
	require.Equal(t, 1, plan.Len())
	assert.Equal(t, "login works", plan.Units[0].Name)
}

func TestSerialLaneAndTagInheritance(t *testing.T) {
	rule := &types.Rule{
		Name:      "exclusive",
		Tags:      []string{"@serial"},
		Scenarios: []*types.Scenario{scenario("in rule", nil)},
	}
	feature := &types.Feature{
		Name: "f",
		Tags: []string{"@api"},
		Children: []types.FeatureChild{
			{Scenario: scenario("A", []string{"@serial"})},
			{Scenario: scenario("B", nil)},
			{Rule: rule},
		},
	}

	plan, err := New(Config{Log: testLogger()}).Plan([]*types.Feature{feature})
	require.NoError(t, err)
	require.Equal(t, 3, plan.Len())

	assert.Equal(t, types.LaneSerial, plan.Units[0].Lane)
	assert.Equal(t, types.LaneConcurrent, plan.Units[1].Lane)
	assert.Equal(t, types.LaneSerial, plan.Units[2].Lane)
	assert.True(t, plan.Units[2].Tags.Has("api"))
	assert.True(t, plan.Units[2].Tags.Has("serial"))

	serial := plan.Lane(types.LaneSerial)
	require.Len(t, serial, 2)
	assert.Equal(t, 0, serial[0].Seq)
	assert.Equal(t, 2, serial[1].Seq)
}

func TestCustomSerialTag(t *testing.T) {
	feature := &types.Feature{
		Name:     "f",
		Children: []types.FeatureChild{{Scenario: scenario("A", []string{"@exclusive"})}},
	}
	plan, err := New(Config{Log: testLogger(), SerialTag: "@exclusive"}).Plan([]*types.Feature{feature})
	require.NoError(t, err)
	assert.True(t, plan.Units[0].IsSerial())
}

func TestBackgroundAndKeywordNormalization(t *testing.T) {
	rule := &types.Rule{
		Name:       "r",
		Background: []*types.Step{st("And", "rule setup")},
		Scenarios: []*types.Scenario{
			scenario("in rule", nil, st("When", "act"), st("But", "not twice"), st("*", "wildcard")),
		},
	}
	feature := &types.Feature{
		Name:       "f",
		Background: []*types.Step{st("Given", "feature setup")},
		Children: []types.FeatureChild{
			{Scenario: scenario("plain", nil, st("And", "leading conjunction"))},
			{Rule: rule},
		},
	}

	plan, err := New(Config{Log: testLogger()}).Plan([]*types.Feature{feature})
	require.NoError(t, err)
	require.Equal(t, 2, plan.Len())

	plain := plan.Units[0]
	require.Len(t, plain.Steps, 2)
	assert.Equal(t, "feature setup", plain.Steps[0].Text)
	assert.Equal(t, types.StepTypeGiven, plain.Steps[1].Type)

	inRule := plan.Units[1]
	var texts []string
	var kinds []types.StepType
	for _, s := range inRule.Steps {
		texts = append(texts, s.Text)
		kinds = append(kinds, s.Type)
	}
	assert.Equal(t, []string{"feature setup", "rule setup", "act", "not twice", "wildcard"}, texts)
	assert.Equal(t, []types.StepType{
		types.StepTypeGiven, types.StepTypeGiven, types.StepTypeWhen, types.StepTypeWhen, types.StepTypeWhen,
	}, kinds)
	assert.Equal(t, "But ", inRule.Steps[3].Keyword)
}

func TestFramingHints(t *testing.T) {
	rule := &types.Rule{
		Name:      "r",
		Scenarios: []*types.Scenario{scenario("r1", nil), scenario("r2", nil)},
	}
	feature := &types.Feature{
		Name: "f",
		Children: []types.FeatureChild{
			{Scenario: scenario("s1", nil)},
			{Rule: rule},
			{Scenario: scenario("s2", nil)},
		},
	}

	plan, err := New(Config{Log: testLogger()}).Plan([]*types.Feature{feature})
	require.NoError(t, err)
	require.Equal(t, 4, plan.Len())

	u := plan.Units
	assert.False(t, u[0].LastInFeature)
	assert.False(t, u[0].LastInRule)
	assert.False(t, u[1].LastInRule)
	assert.True(t, u[2].LastInRule)
	assert.Same(t, rule, u[2].Rule)
	assert.Nil(t, u[3].Rule)
	assert.True(t, u[3].LastInFeature)
}

func TestEmptyExamplesProduceNoUnits(t *testing.T) {
	feature := outlineFeature()
	feature.Children[0].Scenario.Examples[0].Rows = nil

	plan, err := New(Config{Log: testLogger()}).Plan([]*types.Feature{feature})
	require.NoError(t, err)
	assert.Equal(t, 0, plan.Len())
	assert.Empty(t, plan.Features)
}
