// Package featurefile reads Gherkin .feature files into the feature tree
// consumed by the planner.
package featurefile

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	gherkin "github.com/cucumber/gherkin/go/v26"
	messages "github.com/cucumber/messages/go/v21"
	"github.com/pkg/errors"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// Extension is the file extension of feature files.
const Extension = ".feature"

// Load reads every feature below the given files or directories.
// Directories are walked recursively and their feature files read in
// lexical path order. Files without a Feature are skipped.
func Load(paths ...string) ([]*types.Feature, error) {
	var features []*types.Feature
	for _, path := range paths {
		files, err := collect(path)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			feature, err := ParseFile(file)
			if err != nil {
				return nil, err
			}
			if feature != nil {
				features = append(features, feature)
			}
		}
	}
	return features, nil
}

func collect(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read features from %s", path)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), Extension) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to walk %s", path)
	}
	slices.Sort(files)
	return files, nil
}

// ParseFile parses a single feature file. It returns nil when the file
// holds no Feature.
func ParseFile(path string) (*types.Feature, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer func() { _ = f.Close() }()
	return Parse(f, path)
}

// Parse parses Gherkin source. path is recorded on the feature.
func Parse(r io.Reader, path string) (*types.Feature, error) {
	doc, err := gherkin.ParseGherkinDocument(r, (&messages.Incrementing{}).NewId)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	if doc.Feature == nil {
		return nil, nil
	}
	return convertFeature(doc.Feature, path), nil
}

func convertFeature(f *messages.Feature, path string) *types.Feature {
	feature := &types.Feature{
		Name:        f.Name,
		Description: strings.TrimSpace(f.Description),
		Path:        path,
		Line:        line(f.Location),
		Tags:        tags(f.Tags),
	}
	for _, child := range f.Children {
		switch {
		case child.Background != nil:
			feature.Background = steps(child.Background.Steps)
		case child.Scenario != nil:
			feature.Children = append(feature.Children, types.FeatureChild{Scenario: convertScenario(child.Scenario)})
		case child.Rule != nil:
			feature.Children = append(feature.Children, types.FeatureChild{Rule: convertRule(child.Rule)})
		}
	}
	return feature
}

func convertRule(r *messages.Rule) *types.Rule {
	rule := &types.Rule{
		Name: r.Name,
		Tags: tags(r.Tags),
		Line: line(r.Location),
	}
	for _, child := range r.Children {
		switch {
		case child.Background != nil:
			rule.Background = steps(child.Background.Steps)
		case child.Scenario != nil:
			rule.Scenarios = append(rule.Scenarios, convertScenario(child.Scenario))
		}
	}
	return rule
}

func convertScenario(s *messages.Scenario) *types.Scenario {
	sc := &types.Scenario{
		Keyword: s.Keyword,
		Name:    s.Name,
		Tags:    tags(s.Tags),
		Line:    line(s.Location),
		Steps:   steps(s.Steps),
	}
	for _, ex := range s.Examples {
		examples := &types.Examples{
			Name: ex.Name,
			Tags: tags(ex.Tags),
			Line: line(ex.Location),
		}
		if ex.TableHeader != nil {
			examples.Header = cells(ex.TableHeader)
		}
		for _, row := range ex.TableBody {
			examples.Rows = append(examples.Rows, types.ExampleRow{Line: line(row.Location), Cells: cells(row)})
		}
		sc.Examples = append(sc.Examples, examples)
	}
	return sc
}

func steps(in []*messages.Step) []*types.Step {
	out := make([]*types.Step, 0, len(in))
	for _, s := range in {
		step := &types.Step{
			Keyword: s.Keyword,
			Type:    stepType(s.KeywordType),
			Text:    s.Text,
			Line:    line(s.Location),
		}
		if s.DocString != nil {
			step.DocString = s.DocString.Content
		}
		if s.DataTable != nil {
			for _, row := range s.DataTable.Rows {
				step.Table = append(step.Table, cells(row))
			}
		}
		out = append(out, step)
	}
	return out
}

// stepType maps the dialect independent keyword type to a StepType, so
// features written in any Gherkin language resolve the same way.
func stepType(t messages.StepKeywordType) types.StepType {
	switch t {
	case messages.StepKeywordType_CONTEXT:
		return types.StepTypeGiven
	case messages.StepKeywordType_ACTION:
		return types.StepTypeWhen
	case messages.StepKeywordType_OUTCOME:
		return types.StepTypeThen
	case messages.StepKeywordType_CONJUNCTION:
		return types.StepTypeConjunction
	default:
		return types.StepTypeUnknown
	}
}

func tags(in []*messages.Tag) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		out = append(out, t.Name)
	}
	return out
}

func cells(row *messages.TableRow) []string {
	out := make([]string, 0, len(row.Cells))
	for _, c := range row.Cells {
		out = append(out, c.Value)
	}
	return out
}

func line(loc *messages.Location) int {
	if loc == nil {
		return 0
	}
	return int(loc.Line)
}
