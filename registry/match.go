package registry

import (
	"fmt"

	cucumberexpressions "github.com/cucumber/cucumber-expressions/go/v16"
	"github.com/sourcegraph/conc/panics"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

type matchKey struct {
	keyword types.StepType
	text    string
}

type candidate struct {
	def  *StepDefinition
	args []*cucumberexpressions.Argument
}

// StepMatch is the single definition a step resolved to, with its
// captured arguments already coerced.
type StepMatch struct {
	Definition *StepDefinition
	Args       *Args
}

// Match resolves step against the registered definitions. Zero or several
// matching definitions yield a *types.MatchError; an argument that cannot
// be coerced yields a *types.StepFailure of kind ArgumentCoercion.
func (r *Registry) Match(step *types.Step) (*StepMatch, error) {
	key := matchKey{keyword: step.Type, text: step.Text}

	candidates, ok := r.cache.Get(key)
	if !ok {
		var err error
		candidates, err = r.resolve(key)
		if err != nil {
			return nil, err
		}
		r.cache.Add(key, candidates)
	}

	switch len(candidates) {
	case 0:
		return nil, &types.MatchError{
			Kind:       types.NoMatch,
			StepText:   step.Text,
			Suggestion: r.suggest(step.Text),
		}
	case 1:
	default:
		patterns := make([]string, len(candidates))
		for i, c := range candidates {
			patterns[i] = c.def.String()
		}
		return nil, &types.MatchError{
			Kind:       types.Ambiguous,
			StepText:   step.Text,
			Candidates: patterns,
		}
	}

	c := candidates[0]
	values, err := coerce(c.def, c.args)
	if err != nil {
		return nil, &types.StepFailure{Kind: types.ArgumentCoercion, Cause: err}
	}
	return &StepMatch{
		Definition: c.def,
		Args:       newArgs(values, step),
	}, nil
}

func (r *Registry) resolve(key matchKey) ([]candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []candidate
	for _, def := range r.steps {
		if def.Keyword != "" && key.keyword.IsExplicit() && def.Keyword != key.keyword {
			continue
		}
		args, err := def.expr.Match(key.text)
		if err != nil {
			return nil, fmt.Errorf("failed to match step %q against %s: %w", key.text, def, err)
		}
		if args != nil {
			out = append(out, candidate{def: def, args: args})
		}
	}
	return out, nil
}

// coerce evaluates each argument's parameter transform and applies the
// declared argument types. Transforms signal bad input by panicking.
func coerce(def *StepDefinition, args []*cucumberexpressions.Argument) ([]any, error) {
	values := make([]any, len(args))
	for i, arg := range args {
		var (
			pc    panics.Catcher
			value any
		)
		pc.Try(func() { value = arg.GetValue() })
		if rec := pc.Recovered(); rec != nil {
			return nil, fmt.Errorf("argument %d: %v", i, rec.Value)
		}
		if i < len(def.argTypes) {
			converted, err := def.argTypes[i].convert(value)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			value = converted
		}
		values[i] = value
	}
	return values, nil
}

func (r *Registry) suggest(text string) string {
	var (
		pc     panics.Catcher
		source string
	)
	pc.Try(func() {
		generated := cucumberexpressions.NewCucumberExpressionGenerator(r.params).GenerateExpressions(text)
		if len(generated) > 0 {
			source = generated[0].Source()
		}
	})
	return source
}
