package reporting

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-behave/types"
	"github.com/ethereum-optimism/infra/op-behave/ui"
)

// TableFormatter renders a run result as an ASCII table with one row per
// feature followed by its scenarios.
type TableFormatter struct {
	title    string
	showSeq  bool
	colorful bool
}

// NewTableFormatter creates a table formatter. showSeq adds the sequence
// index column; colorful picks the table style from the run status.
func NewTableFormatter(title string, showSeq, colorful bool) *TableFormatter {
	return &TableFormatter{title: title, showSeq: showSeq, colorful: colorful}
}

// Format renders the result.
func (f *TableFormatter) Format(res *RunResult) string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(f.title)

	headers := table.Row{"TYPE", "NAME", "DURATION", "SCENARIOS", "PASSED", "FAILED", "SKIPPED", "RETRIES", "STATUS"}
	if f.showSeq {
		headers = append(table.Row{"SEQ"}, headers...)
	}
	t.AppendHeader(headers)

	configs := []table.ColumnConfig{
		{Name: "TYPE", AutoMerge: true},
		{Name: "NAME", WidthMax: 120, WidthMaxEnforcer: text.WrapSoft},
		{Name: "DURATION", Align: text.AlignRight},
		{Name: "SCENARIOS", Align: text.AlignRight},
		{Name: "PASSED", Align: text.AlignRight},
		{Name: "FAILED", Align: text.AlignRight},
		{Name: "SKIPPED", Align: text.AlignRight},
		{Name: "RETRIES", Align: text.AlignRight},
	}
	if f.showSeq {
		configs = append([]table.ColumnConfig{{Name: "SEQ", Align: text.AlignRight}}, configs...)
	}
	t.SetColumnConfigs(configs)

	var (
		total   types.Counts
		retries int
	)
	for _, feature := range res.Features {
		f.appendRow(t, "", table.Row{
			"feature", feature.Name, formatDuration(feature.Duration),
			feature.Counts.Total(), feature.Counts.Passed, feature.Counts.Failed, feature.Counts.Skipped,
			"", statusText(feature.Status()),
		})
		for i, sc := range feature.Scenarios {
			var c types.Counts
			c.Add(sc.Status)
			name := sc.Name
			if sc.Rule != "" {
				name = sc.Rule + " › " + name
			}
			prefix := ui.BuildTreePrefix(1, i == len(feature.Scenarios)-1, nil)
			f.appendRow(t, fmt.Sprintf("%d", sc.Seq), table.Row{
				"scenario", prefix + name, formatDuration(sc.Duration),
				1, c.Passed, c.Failed, c.Skipped, sc.RetryCount, statusText(sc.Status),
			})
			total.Add(sc.Status)
			if sc.RetryCount > 0 {
				retries++
			}
		}
	}

	status := types.StatusPassed
	var duration string
	if res.Summary != nil {
		total = res.Summary.Scenarios
		retries = res.Summary.Retried
		status = res.Summary.Status()
		duration = formatDuration(res.Summary.Duration)
	} else if total.Failed > 0 {
		status = types.StatusFailed
	}

	if f.colorful {
		switch status {
		case types.StatusFailed:
			t.SetStyle(table.StyleColoredBlackOnRedWhite)
		case types.StatusSkipped:
			t.SetStyle(table.StyleColoredBlackOnYellowWhite)
		default:
			t.SetStyle(table.StyleColoredBlackOnGreenWhite)
		}
	}

	f.appendFooter(t, table.Row{
		"TOTAL", "", duration, total.Total(), total.Passed, total.Failed, total.Skipped, retries, statusText(status),
	})

	t.Render()
	return buf.String()
}

func (f *TableFormatter) appendRow(t table.Writer, seq string, row table.Row) {
	if f.showSeq {
		row = append(table.Row{seq}, row...)
	}
	t.AppendRow(row)
}

func (f *TableFormatter) appendFooter(t table.Writer, row table.Row) {
	if f.showSeq {
		row = append(table.Row{""}, row...)
	}
	t.AppendFooter(row)
}

func statusText(s types.Status) string {
	return strings.ToUpper(string(s))
}

// SummaryTableSink prints the result table once the run completes.
type SummaryTableSink struct {
	mu        sync.Mutex
	w         io.Writer
	formatter *TableFormatter
	builder   *ResultBuilder
}

// NewSummaryTableSink creates a sink writing the table to w.
func NewSummaryTableSink(w io.Writer, colorful bool) *SummaryTableSink {
	return &SummaryTableSink{
		w:         w,
		formatter: NewTableFormatter("Scenario Results", true, colorful),
		builder:   NewResultBuilder(),
	}
}

func (s *SummaryTableSink) Consume(ev *types.Event) error {
	s.builder.Add(ev)
	return nil
}

func (s *SummaryTableSink) Complete(string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, s.formatter.Format(s.builder.Result()))
	return err
}
