package tagexpr

import (
	"fmt"
	"strings"

	tagexpressions "github.com/cucumber/tag-expressions/go/v6"
	"github.com/sourcegraph/conc/panics"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// Compiled is an expression parsed from its textual form, e.g.
// "@smoke and not (@wip or @slow)". Operators are and, or, not and
// parentheses; a backslash escapes them inside tag names.
type Compiled struct {
	source string
	eval   tagexpressions.Evaluatable
}

// Eval reports whether tags satisfy the expression. Tags are offered both
// with and without the leading '@' so either spelling in the expression
// matches.
func (c *Compiled) Eval(tags types.TagSet) bool {
	vars := make([]string, 0, 2*len(tags))
	for t := range tags {
		vars = append(vars, "@"+t, t)
	}
	return c.eval.Evaluate(vars)
}

func (c *Compiled) String() string { return c.source }

// Parse compiles a textual tag expression. An empty string parses to Any.
func Parse(input string) (Expr, error) {
	source := strings.TrimSpace(input)
	if source == "" {
		return Any{}, nil
	}

	var (
		eval tagexpressions.Evaluatable
		err  error
	)
	// malformed input can panic inside the library's operand stack
	if r := panics.Try(func() { eval, err = tagexpressions.Parse(source) }); r != nil {
		return nil, fmt.Errorf("invalid tag expression %q: %v", source, r.Value)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid tag expression %q: %w", source, err)
	}
	return &Compiled{source: source, eval: eval}, nil
}

// MustParse is like Parse but panics on error. Intended for literals.
func MustParse(input string) Expr {
	expr, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return expr
}
