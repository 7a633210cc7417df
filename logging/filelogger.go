package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-behave/reporting"
	"github.com/ethereum-optimism/infra/op-behave/types"
	"github.com/ethereum-optimism/infra/op-behave/ui"
)

const (
	RunDirectoryPrefix = "testrun-"
	AllLogsFilename    = "all.log"
	EventsFilename     = "events.jsonl"
	PassedDirName      = "passed"
	FailedDirName      = "failed"

	boxWidth = 74
)

// FileLogger is an event sink writing a per-run directory:
//
//	testrun-<id>/all.log       every scenario transcript in report order
//	testrun-<id>/passed/*.log  one file per passed scenario
//	testrun-<id>/failed/*.log  one file per failed scenario
//	testrun-<id>/summary.log   result table and failure details
//	testrun-<id>/events.jsonl  the raw event stream
//
// The run directory is created when SuiteStarted arrives, so one logger
// serves consecutive runs.
type FileLogger struct {
	log     log.Logger
	baseDir string

	mu           sync.Mutex
	runID        string
	logDir       string
	sinks        []types.EventSink
	asyncWriters map[string]*AsyncFile
	scenario     *scenarioLog
}

// NewFileLogger creates a FileLogger writing below baseDir.
func NewFileLogger(baseDir string, logger log.Logger) (*FileLogger, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}
	if logger == nil {
		logger = log.New()
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", baseDir, err)
	}
	return &FileLogger{
		log:          logger.New("component", "file-logger"),
		baseDir:      baseDir,
		asyncWriters: make(map[string]*AsyncFile),
	}, nil
}

// Consume processes one event. Events before the first SuiteStarted are
// rejected.
func (l *FileLogger) Consume(ev *types.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.Kind == types.EventSuiteStarted {
		if err := l.startRun(ev.RunID); err != nil {
			return err
		}
	}
	if l.runID == "" {
		return fmt.Errorf("no run started, dropping %s event", ev.Kind)
	}

	var errs []error
	for _, sink := range l.sinks {
		if err := sink.Consume(ev); err != nil {
			errs = append(errs, fmt.Errorf("error in sink: %w", err))
		}
	}

	switch ev.Kind {
	case types.EventScenarioStarted:
		l.scenario = newScenarioLog(ev)
	case types.EventStepPassed, types.EventStepFailed, types.EventStepSkipped:
		if l.scenario != nil {
			l.scenario.addStep(ev)
		}
	case types.EventScenarioFinished:
		if l.scenario != nil {
			l.scenario.finish(ev)
			errs = append(errs, l.writeScenario(l.scenario))
			l.scenario = nil
		}
	case types.EventSuiteFinished:
		if ev.Summary != nil {
			errs = append(errs, l.write(l.allLogsFile(), "\n"+ev.Summary.String()+"\n"))
		}
	}
	return errors.Join(errs...)
}

// Complete finalizes the inner sinks and closes every file of the run.
func (l *FileLogger) Complete(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, sink := range l.sinks {
		if err := sink.Complete(runID); err != nil {
			errs = append(errs, fmt.Errorf("error completing sink: %w", err))
		}
	}
	errs = append(errs, l.closeAllWriters())
	if err := errors.Join(errs...); err != nil {
		return err
	}
	l.log.Info("Wrote run logs", "dir", l.logDir)
	return nil
}

func (l *FileLogger) startRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	if err := l.closeAllWriters(); err != nil {
		l.log.Warn("Failed to close logs of previous run", "runID", l.runID, "err", err)
	}

	logDir := l.GetDirectoryForRunID(runID)
	for _, dir := range []string{logDir, filepath.Join(logDir, PassedDirName), filepath.Join(logDir, FailedDirName)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	events, err := l.getAsyncWriter(filepath.Join(logDir, EventsFilename))
	if err != nil {
		return err
	}

	l.runID = runID
	l.logDir = logDir
	l.scenario = nil
	l.sinks = []types.EventSink{
		reporting.NewJSONSink(events),
		reporting.NewTextSummarySink(l.baseDir, true),
	}
	return nil
}

func (l *FileLogger) writeScenario(s *scenarioLog) error {
	content := s.render()
	if err := l.write(l.allLogsFile(), content); err != nil {
		return err
	}
	if s.status == types.StatusSkipped {
		return nil
	}

	dir := PassedDirName
	if s.status == types.StatusFailed {
		dir = FailedDirName
	}
	return l.write(filepath.Join(l.logDir, dir, s.filename()), content)
}

func (l *FileLogger) write(path, content string) error {
	writer, err := l.getAsyncWriter(path)
	if err != nil {
		return err
	}
	_, err = writer.Write([]byte(stripANSIEscapeSequences(content)))
	return err
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}
	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = writer
	return writer, nil
}

func (l *FileLogger) closeAllWriters() error {
	var errs []error
	for _, writer := range l.asyncWriters {
		errs = append(errs, writer.Close())
	}
	l.asyncWriters = make(map[string]*AsyncFile)
	return errors.Join(errs...)
}

func (l *FileLogger) allLogsFile() string {
	return filepath.Join(l.logDir, AllLogsFilename)
}

// GetDirectoryForRunID returns the directory of a run.
func (l *FileLogger) GetDirectoryForRunID(runID string) string {
	return filepath.Join(l.baseDir, RunDirectoryPrefix+runID)
}

// GetRunID returns the current runID
func (l *FileLogger) GetRunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runID
}

// scenarioLog accumulates the transcript of the scenario being reported.
type scenarioLog struct {
	unit         *types.Unit
	attempt      int
	retries      int
	status       types.Status
	duration     time.Duration
	steps        strings.Builder
	failure      *types.Failure
	afterFailure *types.Failure
}

func newScenarioLog(ev *types.Event) *scenarioLog {
	return &scenarioLog{unit: ev.Unit, attempt: ev.Attempt}
}

func (s *scenarioLog) addStep(ev *types.Event) {
	status := ev.Kind.StepStatus()
	fmt.Fprintf(&s.steps, "  %s %s%s (%s)\n", ui.StatusGlyph(status), ev.Step.Keyword, ev.Step.Text, ev.Duration)
	if ev.Failure != nil {
		fmt.Fprintf(&s.steps, "%s\n", indentText(fmt.Sprint(ev.Failure.Cause), "      "))
	}
}

func (s *scenarioLog) finish(ev *types.Event) {
	s.status = ev.Outcome
	s.retries = ev.RetryCount
	s.duration = ev.Duration
	s.failure = ev.Failure
	s.afterFailure = ev.AfterFailure
}

func (s *scenarioLog) render() string {
	var content strings.Builder

	content.WriteString("\n")
	content.WriteString(ui.BuildBoxHeader("SCENARIO: "+truncateString(s.unit.Name, boxWidth-16), boxWidth))
	content.WriteString(ui.BuildBoxLine(fmt.Sprintf("Feature:  %s", s.unit.FeatureName()), boxWidth))
	if rule := s.unit.RuleName(); rule != "" {
		content.WriteString(ui.BuildBoxLine(fmt.Sprintf("Rule:     %s", rule), boxWidth))
	}
	content.WriteString(ui.BuildBoxLine(fmt.Sprintf("Status:   %s", s.status), boxWidth))
	content.WriteString(ui.BuildBoxLine(fmt.Sprintf("Seq:      %d", s.unit.Seq), boxWidth))
	content.WriteString(ui.BuildBoxLine(fmt.Sprintf("Attempt:  %d (retries %d)", s.attempt, s.retries), boxWidth))
	content.WriteString(ui.BuildBoxLine(fmt.Sprintf("Duration: %s", s.duration), boxWidth))
	if tags := s.unit.Tags.Sorted(); len(tags) > 0 {
		content.WriteString(ui.BuildBoxLine(fmt.Sprintf("Tags:     @%s", strings.Join(tags, " @")), boxWidth))
	}
	content.WriteString(ui.BuildBoxFooter(boxWidth))
	content.WriteString("\n")

	if s.steps.Len() > 0 {
		content.WriteString("STEPS:\n~~~~~~\n")
		content.WriteString(s.steps.String())
		content.WriteString("\n")
	}
	if s.failure != nil {
		writeFailure(&content, "ERROR", s.failure)
	}
	if s.afterFailure != nil {
		writeFailure(&content, "AFTER HOOK", s.afterFailure)
	}
	return content.String()
}

func (s *scenarioLog) filename() string {
	return safeFilename(fmt.Sprintf("%04d_%s_%s", s.unit.Seq, s.unit.FeatureName(), s.unit.Name)) + ".log"
}

func writeFailure(b *strings.Builder, title string, f *types.Failure) {
	fmt.Fprintf(b, "%s:\n%s\n", title, strings.Repeat("~", len(title)+1))
	fmt.Fprintf(b, "%s: %s\n", f.Reason(), f.Error())

	var (
		stepErr *types.StepFailure
		hookErr *types.HookFailure
		stack   string
	)
	switch {
	case errors.As(f.Cause, &stepErr):
		stack = stepErr.Stack
	case errors.As(f.Cause, &hookErr):
		stack = hookErr.Stack
	}
	if stack != "" {
		fmt.Fprintf(b, "\nSTACK:\n%s\n", indentText(stack, "  "))
	}
	b.WriteString("\n")
}

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	s = strings.ReplaceAll(s, "...", "")
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}

// indentText adds indentation to each non-empty line
func indentText(text, indent string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

// truncateString truncates a string to the specified max length
// and adds an ellipsis if needed
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

func stripANSIEscapeSequences(s string) string {
	return stripansi.Strip(s)
}
