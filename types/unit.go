package types

import "fmt"

// Lane identifies the admission path of a unit.
type Lane string

const (
	LaneConcurrent Lane = "concurrent"
	LaneSerial     Lane = "serial"
)

// Unit is one concrete scenario execution: a plain scenario, or one
// Examples row of an outline with placeholders already substituted.
type Unit struct {
	Seq      int
	Feature  *Feature
	Rule     *Rule // nil for scenarios directly under the feature
	Scenario *Scenario

	Name  string
	Tags  TagSet
	Steps []*Step // background steps first, keywords normalized
	Lane  Lane
	Line  int

	// Outline expansion, ExampleIndex is -1 for plain scenarios.
	ExamplesName string
	ExampleIndex int
	ExampleRow   map[string]string

	// Framing hints for the normalizer.
	LastInFeature bool
	LastInRule    bool
}

// IsSerial reports whether the unit runs in the serial lane.
func (u *Unit) IsSerial() bool {
	return u.Lane == LaneSerial
}

// FeatureName returns the owning feature's name.
func (u *Unit) FeatureName() string {
	if u.Feature == nil {
		return ""
	}
	return u.Feature.Name
}

// RuleName returns the owning rule's name, or "" when there is none.
func (u *Unit) RuleName() string {
	if u.Rule == nil {
		return ""
	}
	return u.Rule.Name
}

// ID returns a stable human readable identifier.
func (u *Unit) ID() string {
	if u.ExampleIndex >= 0 {
		return fmt.Sprintf("%s: %s #%d", u.FeatureName(), u.Name, u.ExampleIndex+1)
	}
	return fmt.Sprintf("%s: %s", u.FeatureName(), u.Name)
}

// Plan is the ordered output of the planner. Units[i].Seq == i.
type Plan struct {
	Features []*Feature
	Units    []*Unit
}

// Len returns the number of units.
func (p *Plan) Len() int {
	return len(p.Units)
}

// Lane returns the units of one lane in sequence order.
func (p *Plan) Lane(lane Lane) []*Unit {
	var out []*Unit
	for _, u := range p.Units {
		if u.Lane == lane {
			out = append(out, u)
		}
	}
	return out
}
