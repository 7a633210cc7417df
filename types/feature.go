package types

import (
	"slices"
	"strings"
)

// StepType is the semantic kind of a step keyword.
type StepType string

const (
	StepTypeGiven       StepType = "Given"
	StepTypeWhen        StepType = "When"
	StepTypeThen        StepType = "Then"
	StepTypeConjunction StepType = "Conjunction" // And, But
	StepTypeUnknown     StepType = "Unknown"     // '*' bullet
)

// IsExplicit reports whether the step type names a phase on its own.
func (t StepType) IsExplicit() bool {
	return t == StepTypeGiven || t == StepTypeWhen || t == StepTypeThen
}

// StepTypeFromKeyword maps an English keyword to its StepType.
func StepTypeFromKeyword(keyword string) StepType {
	switch strings.TrimSpace(keyword) {
	case "Given":
		return StepTypeGiven
	case "When":
		return StepTypeWhen
	case "Then":
		return StepTypeThen
	case "And", "But":
		return StepTypeConjunction
	default:
		return StepTypeUnknown
	}
}

// Step is one Given/When/Then line as supplied by the parser.
type Step struct {
	Keyword   string // keyword as written, e.g. "And "
	Type      StepType
	Text      string
	Line      int
	DocString string
	Table     [][]string
}

// Examples is one Examples table attached to a scenario outline.
type Examples struct {
	Name   string
	Tags   []string
	Line   int
	Header []string
	Rows   []ExampleRow
}

// ExampleRow is one body row of an Examples table.
type ExampleRow struct {
	Line  int
	Cells []string
}

// Scenario is a scenario or, when Examples is non-empty, a scenario outline.
type Scenario struct {
	Keyword  string
	Name     string
	Tags     []string
	Line     int
	Steps    []*Step
	Examples []*Examples
}

// IsOutline reports whether the scenario is expanded from Examples tables.
func (s *Scenario) IsOutline() bool {
	return len(s.Examples) > 0
}

// Rule groups scenarios under a shared name, tags and background.
type Rule struct {
	Name       string
	Tags       []string
	Line       int
	Background []*Step
	Scenarios  []*Scenario
}

// FeatureChild is either a Rule or a Scenario, kept in source order.
type FeatureChild struct {
	Rule     *Rule
	Scenario *Scenario
}

// Feature is the top-level container of one feature file.
type Feature struct {
	Name        string
	Description string
	Path        string
	Line        int
	Tags        []string
	Background  []*Step
	Children    []FeatureChild
}

// NormalizeTag strips the leading '@' so tags compare equal regardless of
// how they were written.
func NormalizeTag(tag string) string {
	return strings.TrimPrefix(strings.TrimSpace(tag), "@")
}

// TagSet is a set of normalized tag names.
type TagSet map[string]struct{}

// NewTagSet builds a TagSet from the union of the given tag lists.
func NewTagSet(lists ...[]string) TagSet {
	set := make(TagSet)
	for _, list := range lists {
		for _, tag := range list {
			if t := NormalizeTag(tag); t != "" {
				set[t] = struct{}{}
			}
		}
	}
	return set
}

// Has reports whether the set contains tag.
func (s TagSet) Has(tag string) bool {
	_, ok := s[NormalizeTag(tag)]
	return ok
}

// Sorted returns the tags in lexical order.
func (s TagSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
