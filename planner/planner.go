// Package planner flattens a feature tree into the ordered list of units
// the runner executes.
package planner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-behave/tagexpr"
	"github.com/ethereum-optimism/infra/op-behave/types"
)

// DefaultSerialTag routes scenarios to the serial lane.
const DefaultSerialTag = "serial"

// Config contains planner configuration
type Config struct {
	Log        log.Logger
	TagFilter  tagexpr.Expr   // nil admits every scenario
	NameFilter *regexp.Regexp // nil admits every scenario
	SerialTag  string
}

// Planner expands outlines, applies filters and assigns sequence indexes.
type Planner struct {
	log        log.Logger
	tagFilter  tagexpr.Expr
	nameFilter *regexp.Regexp
	serialTag  string
}

// New creates a planner.
func New(cfg Config) *Planner {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.SerialTag == "" {
		cfg.SerialTag = DefaultSerialTag
	}
	return &Planner{
		log:        cfg.Log.New("component", "planner"),
		tagFilter:  cfg.TagFilter,
		nameFilter: cfg.NameFilter,
		serialTag:  types.NormalizeTag(cfg.SerialTag),
	}
}

// Plan builds the execution plan. Every outline is validated before any
// filter is applied, so a malformed Examples table fails the whole run
// even if its scenario would have been filtered out.
func (p *Planner) Plan(features []*types.Feature) (*types.Plan, error) {
	plan := &types.Plan{}

	for _, feature := range features {
		if feature == nil {
			continue
		}
		var units []*types.Unit
		for _, child := range feature.Children {
			switch {
			case child.Scenario != nil:
				expanded, err := p.expand(feature, nil, child.Scenario)
				if err != nil {
					return nil, err
				}
				units = append(units, expanded...)
			case child.Rule != nil:
				for _, sc := range child.Rule.Scenarios {
					expanded, err := p.expand(feature, child.Rule, sc)
					if err != nil {
						return nil, err
					}
					units = append(units, expanded...)
				}
			}
		}

		units = p.filter(units)
		if len(units) == 0 {
			continue
		}
		for _, u := range units {
			u.Seq = len(plan.Units)
			plan.Units = append(plan.Units, u)
		}
		markFraming(units)
		plan.Features = append(plan.Features, feature)
	}

	p.log.Info("Execution plan created",
		"features", len(plan.Features),
		"units", len(plan.Units),
		"serial", len(plan.Lane(types.LaneSerial)))
	return plan, nil
}

func (p *Planner) filter(units []*types.Unit) []*types.Unit {
	out := units[:0]
	for _, u := range units {
		if !tagexpr.Match(p.tagFilter, u.Tags) {
			continue
		}
		if p.nameFilter != nil && !p.nameFilter.MatchString(u.Name) {
			continue
		}
		out = append(out, u)
	}
	return out
}

// markFraming sets the hints the normalizer uses to close Feature and
// Rule frames. Units of one rule are contiguous.
func markFraming(units []*types.Unit) {
	units[len(units)-1].LastInFeature = true
	for i, u := range units {
		if u.Rule != nil && (i == len(units)-1 || units[i+1].Rule != u.Rule) {
			u.LastInRule = true
		}
	}
}

func (p *Planner) expand(feature *types.Feature, rule *types.Rule, sc *types.Scenario) ([]*types.Unit, error) {
	background := feature.Background
	ruleTags := []string(nil)
	if rule != nil {
		background = append(append([]*types.Step(nil), feature.Background...), rule.Background...)
		ruleTags = rule.Tags
	}
	steps := append(append([]*types.Step(nil), background...), sc.Steps...)

	if !sc.IsOutline() {
		return []*types.Unit{p.newUnit(feature, rule, sc, types.NewTagSet(feature.Tags, ruleTags, sc.Tags), sc.Name, steps, nil)}, nil
	}

	var units []*types.Unit
	index := 0
	for _, ex := range sc.Examples {
		for _, row := range ex.Rows {
			if len(row.Cells) != len(ex.Header) {
				return nil, &types.PlanningError{
					Kind:     types.MalformedOutline,
					Feature:  feature.Name,
					Scenario: sc.Name,
					Line:     row.Line,
					Detail: fmt.Sprintf("examples %q row has %d cells but the header has %d",
						ex.Name, len(row.Cells), len(ex.Header)),
				}
			}
			values := make(map[string]string, len(ex.Header))
			for i, h := range ex.Header {
				values[h] = row.Cells[i]
			}
			u := p.newUnit(feature, rule, sc,
				types.NewTagSet(feature.Tags, ruleTags, sc.Tags, ex.Tags),
				substitute(sc.Name, values), substituteSteps(steps, values), values)
			u.ExamplesName = ex.Name
			u.ExampleIndex = index
			u.Line = row.Line
			units = append(units, u)
			index++
		}
	}
	return units, nil
}

func (p *Planner) newUnit(feature *types.Feature, rule *types.Rule, sc *types.Scenario, tags types.TagSet, name string, steps []*types.Step, row map[string]string) *types.Unit {
	lane := types.LaneConcurrent
	if tags.Has(p.serialTag) {
		lane = types.LaneSerial
	}
	return &types.Unit{
		Feature:      feature,
		Rule:         rule,
		Scenario:     sc,
		Name:         name,
		Tags:         tags,
		Steps:        normalizeKeywords(steps),
		Lane:         lane,
		Line:         sc.Line,
		ExampleIndex: -1,
		ExampleRow:   row,
	}
}

// normalizeKeywords copies steps, resolving And/But/* to the previous
// explicit keyword. A leading conjunction is treated as Given.
func normalizeKeywords(steps []*types.Step) []*types.Step {
	out := make([]*types.Step, len(steps))
	prev := types.StepTypeGiven
	for i, s := range steps {
		c := *s
		if c.Type == "" {
			c.Type = types.StepTypeFromKeyword(c.Keyword)
		}
		if c.Type.IsExplicit() {
			prev = c.Type
		} else {
			c.Type = prev
		}
		out[i] = &c
	}
	return out
}

func substituteSteps(steps []*types.Step, values map[string]string) []*types.Step {
	out := make([]*types.Step, len(steps))
	for i, s := range steps {
		c := *s
		c.Text = substitute(s.Text, values)
		c.DocString = substitute(s.DocString, values)
		if s.Table != nil {
			c.Table = make([][]string, len(s.Table))
			for r, row := range s.Table {
				c.Table[r] = make([]string, len(row))
				for j, cell := range row {
					c.Table[r][j] = substitute(cell, values)
				}
			}
		}
		out[i] = &c
	}
	return out
}

// substitute replaces each <name> placeholder with its value in a single
// left-to-right pass. Inserted values are not scanned again, and unknown
// names are left as written.
func substitute(s string, values map[string]string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var b strings.Builder
	for {
		open := strings.IndexByte(s, '<')
		if open < 0 {
			break
		}
		end := strings.IndexByte(s[open+1:], '>')
		if end < 0 {
			break
		}
		end += open + 1
		b.WriteString(s[:open])
		if value, ok := values[s[open+1:end]]; ok {
			b.WriteString(value)
			s = s[end+1:]
			continue
		}
		// not a placeholder; keep '<' and resume after it
		b.WriteByte('<')
		s = s[open+1:]
	}
	b.WriteString(s)
	return b.String()
}
