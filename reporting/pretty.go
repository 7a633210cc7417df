package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ethereum-optimism/infra/op-behave/types"
	"github.com/ethereum-optimism/infra/op-behave/ui"
)

// PrettySink writes a human readable transcript of the run as events
// arrive.
type PrettySink struct {
	mu      sync.Mutex
	w       io.Writer
	color   bool
	verbose bool
	inRule  bool
}

// NewPrettySink creates a console writer. Verbose adds doc strings and data
// tables under their steps.
func NewPrettySink(w io.Writer, color, verbose bool) *PrettySink {
	return &PrettySink{w: w, color: color, verbose: verbose}
}

func (s *PrettySink) Consume(ev *types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch ev.Kind {
	case types.EventFeatureStarted:
		err = s.printf("%sFeature: %s\n", s.tagLine(ev.Feature.Tags, ""), ev.Feature.Name)
	case types.EventRuleStarted:
		s.inRule = true
		err = s.printf("\n  Rule: %s\n", ev.Rule.Name)
	case types.EventRuleFinished:
		s.inRule = false
	case types.EventScenarioStarted:
		indent := s.indent(1)
		err = s.printf("\n%s%s%s: %s\n", s.tagLine(ev.Unit.Tags.Sorted(), indent), indent,
			scenarioKeyword(ev.Unit), ev.Unit.Name)
	case types.EventStepPassed, types.EventStepFailed, types.EventStepSkipped:
		err = s.printStep(ev)
	case types.EventScenarioFinished:
		err = s.printScenarioEnd(ev)
	case types.EventFeatureFinished:
		err = s.printf("\n")
	case types.EventSuiteFinished:
		if ev.Summary != nil {
			err = s.printf("%s\n", ui.Colorize(ev.Summary.Status(), ev.Summary.String(), s.color))
		}
	}
	return err
}

func (s *PrettySink) Complete(string) error { return nil }

func (s *PrettySink) printStep(ev *types.Event) error {
	status := ev.Kind.StepStatus()
	indent := s.indent(2)
	line := fmt.Sprintf("%s %s%s", ui.StatusGlyph(status), ev.Step.Keyword, ev.Step.Text)
	if err := s.printf("%s%s\n", indent, ui.Colorize(status, line, s.color)); err != nil {
		return err
	}
	if s.verbose {
		if ev.Step.DocString != "" {
			for _, l := range strings.Split(ev.Step.DocString, "\n") {
				if err := s.printf("%s    %s\n", indent, l); err != nil {
					return err
				}
			}
		}
		for _, row := range ev.Step.Table {
			if err := s.printf("%s    | %s |\n", indent, strings.Join(row, " | ")); err != nil {
				return err
			}
		}
	}
	if ev.Failure != nil {
		return s.printFailure(indent+"  ", ev.Failure)
	}
	return nil
}

func (s *PrettySink) printScenarioEnd(ev *types.Event) error {
	indent := s.indent(2)
	// step failures were already printed with their step
	if ev.Failure != nil && ev.Failure.Step == "" {
		if err := s.printFailure(indent, ev.Failure); err != nil {
			return err
		}
	}
	if ev.AfterFailure != nil {
		if err := s.printFailure(indent, ev.AfterFailure); err != nil {
			return err
		}
	}
	if ev.RetryCount > 0 {
		return s.printf("%s%s\n", indent, ui.Colorize(ev.Outcome,
			fmt.Sprintf("%s after %d retries", ev.Outcome, ev.RetryCount), s.color))
	}
	return nil
}

func (s *PrettySink) printFailure(indent string, f *types.Failure) error {
	msg := fmt.Sprintf("%s%s: %v", indent, f.Reason(), f.Cause)
	return s.printf("%s\n", ui.Colorize(types.StatusFailed, msg, s.color))
}

func (s *PrettySink) indent(level int) string {
	if s.inRule {
		level++
	}
	return strings.Repeat("  ", level)
}

func (s *PrettySink) tagLine(tags []string, indent string) string {
	if len(tags) == 0 {
		return ""
	}
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = "@" + types.NormalizeTag(t)
	}
	return indent + strings.Join(out, " ") + "\n"
}

func (s *PrettySink) printf(format string, args ...any) error {
	_, err := fmt.Fprintf(s.w, format, args...)
	return err
}

func scenarioKeyword(u *types.Unit) string {
	if u.Scenario != nil && u.Scenario.Keyword != "" {
		return u.Scenario.Keyword
	}
	return "Scenario"
}
