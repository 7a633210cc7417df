package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// SummaryFileName is the name of the text summary inside a run directory.
const SummaryFileName = "summary.log"

// TextSummarySink writes a plain text summary to
// <baseDir>/testrun-<runID>/summary.log when the run completes.
type TextSummarySink struct {
	baseDir        string
	includeDetails bool
	formatter      *TableFormatter
	builder        *ResultBuilder
}

// NewTextSummarySink creates a text summary sink. includeDetails appends
// the diagnostics of every failed scenario.
func NewTextSummarySink(baseDir string, includeDetails bool) *TextSummarySink {
	return &TextSummarySink{
		baseDir:        baseDir,
		includeDetails: includeDetails,
		formatter:      NewTableFormatter("Scenario Results", true, false),
		builder:        NewResultBuilder(),
	}
}

func (s *TextSummarySink) Consume(ev *types.Event) error {
	s.builder.Add(ev)
	return nil
}

// Complete generates the summary file
func (s *TextSummarySink) Complete(runID string) error {
	outputDir := RunDir(s.baseDir, runID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	summaryFile := filepath.Join(outputDir, SummaryFileName)
	if err := os.WriteFile(summaryFile, []byte(s.Format()), 0644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}

// Format renders the summary without writing it.
func (s *TextSummarySink) Format() string {
	res := s.builder.Result()

	var b strings.Builder
	fmt.Fprintf(&b, "RUN ID: %s\n", res.RunID)
	if res.Summary != nil {
		fmt.Fprintf(&b, "STARTED: %s\n", res.Summary.StartedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&b, "%s\n\n", res.Summary)
	}
	b.WriteString(s.formatter.Format(res))

	if s.includeDetails {
		failed := res.Failed()
		if len(failed) > 0 {
			b.WriteString("\nFAILURES:\n")
		}
		for _, sc := range failed {
			fmt.Fprintf(&b, "\n[%d] %s\n", sc.Seq, sc.ID)
			if sc.Failure != nil {
				fmt.Fprintf(&b, "  %s: %v\n", sc.Failure.Reason(), sc.Failure)
			}
			if sc.AfterFailure != nil {
				fmt.Fprintf(&b, "  %s: %v\n", sc.AfterFailure.Reason(), sc.AfterFailure)
			}
		}
	}
	return b.String()
}

// RunDir returns the output directory of a run.
func RunDir(baseDir, runID string) string {
	return filepath.Join(baseDir, "testrun-"+runID)
}
