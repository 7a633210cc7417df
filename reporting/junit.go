package reporting

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// JUnitFileName is the name of the JUnit report inside a run directory.
const JUnitFileName = "junit.xml"

type junitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Skipped  int              `xml:"skipped,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Time     string          `xml:"time,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitFailure struct {
	Type    string `xml:"type,attr"`
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// WriteJUnit writes res as a JUnit XML document.
func WriteJUnit(w io.Writer, res *RunResult) error {
	doc := junitTestSuites{Name: "op-behave " + res.RunID}
	for _, f := range res.Features {
		suite := junitTestSuite{
			Name:     f.Name,
			Tests:    f.Counts.Total(),
			Failures: f.Counts.Failed,
			Skipped:  f.Counts.Skipped,
			Time:     seconds(f.Duration.Seconds()),
		}
		for _, sc := range f.Scenarios {
			suite.Cases = append(suite.Cases, junitCase(f, sc))
		}
		doc.Suites = append(doc.Suites, suite)
		doc.Tests += suite.Tests
		doc.Failures += suite.Failures
		doc.Skipped += suite.Skipped
	}
	if res.Summary != nil {
		doc.Time = seconds(res.Summary.Duration.Seconds())
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode junit report: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func junitCase(f *FeatureResult, sc *ScenarioResult) junitTestCase {
	tc := junitTestCase{
		Name:      sc.ID,
		Classname: f.Name,
		Time:      seconds(sc.Duration.Seconds()),
	}
	if sc.Rule != "" {
		tc.Classname = f.Name + "." + sc.Rule
	}

	var out strings.Builder
	for _, st := range sc.Steps {
		fmt.Fprintf(&out, "%s %s %s\n", st.Status, st.Keyword, st.Text)
	}
	if sc.RetryCount > 0 {
		fmt.Fprintf(&out, "retried %d times\n", sc.RetryCount)
	}
	if sc.AfterFailure != nil {
		fmt.Fprintf(&out, "%v\n", sc.AfterFailure)
	}
	tc.SystemOut = out.String()

	switch sc.Status {
	case types.StatusFailed:
		tc.Failure = &junitFailure{Type: "failure", Message: "scenario failed"}
		if sc.Failure != nil {
			tc.Failure.Type = sc.Failure.Reason()
			tc.Failure.Message = fmt.Sprint(sc.Failure.Cause)
			tc.Failure.Body = sc.Failure.Error()
		}
	case types.StatusSkipped:
		tc.Skipped = &junitSkipped{}
	}
	return tc
}

func seconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}

// JUnitSink writes <baseDir>/testrun-<runID>/junit.xml when the run
// completes.
type JUnitSink struct {
	baseDir string
	builder *ResultBuilder
}

// NewJUnitSink creates a JUnit writer.
func NewJUnitSink(baseDir string) *JUnitSink {
	return &JUnitSink{baseDir: baseDir, builder: NewResultBuilder()}
}

func (s *JUnitSink) Consume(ev *types.Event) error {
	s.builder.Add(ev)
	return nil
}

func (s *JUnitSink) Complete(runID string) error {
	outputDir := RunDir(s.baseDir, runID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}
	file, err := os.Create(filepath.Join(outputDir, JUnitFileName))
	if err != nil {
		return fmt.Errorf("failed to create junit file: %w", err)
	}
	defer func() { _ = file.Close() }()
	return WriteJUnit(file, s.builder.Result())
}
