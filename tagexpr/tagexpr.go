// Package tagexpr evaluates boolean tag expressions against a scenario's
// tag set. Expressions are small trees built directly or parsed from the
// conventional textual form, e.g. "@smoke and not (@wip or @slow)".
package tagexpr

import (
	"strings"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// Expr is a predicate over a tag set.
type Expr interface {
	Eval(tags types.TagSet) bool
	String() string
}

// Tag matches when the set contains the tag.
type Tag string

func (t Tag) Eval(tags types.TagSet) bool { return tags.Has(string(t)) }
func (t Tag) String() string              { return "@" + types.NormalizeTag(string(t)) }

// Not negates its operand.
type Not struct{ X Expr }

func (n Not) Eval(tags types.TagSet) bool { return !n.X.Eval(tags) }
func (n Not) String() string              { return "not " + wrap(n.X) }

// And matches when every operand matches.
type And []Expr

func (a And) Eval(tags types.TagSet) bool {
	for _, x := range a {
		if !x.Eval(tags) {
			return false
		}
	}
	return true
}

func (a And) String() string { return join(a, " and ") }

// Or matches when any operand matches.
type Or []Expr

func (o Or) Eval(tags types.TagSet) bool {
	for _, x := range o {
		if x.Eval(tags) {
			return true
		}
	}
	return false
}

func (o Or) String() string { return join(o, " or ") }

// Any matches every tag set. It is the zero filter.
type Any struct{}

func (Any) Eval(types.TagSet) bool { return true }
func (Any) String() string         { return "" }

// Match evaluates e against tags, treating a nil expression as Any.
func Match(e Expr, tags types.TagSet) bool {
	if e == nil {
		return true
	}
	return e.Eval(tags)
}

func join(xs []Expr, sep string) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = wrap(x)
	}
	return strings.Join(parts, sep)
}

func wrap(x Expr) string {
	switch x.(type) {
	case And, Or:
		return "(" + x.String() + ")"
	}
	return x.String()
}
