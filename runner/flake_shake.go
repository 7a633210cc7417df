package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-behave/templates"
	"github.com/ethereum-optimism/infra/op-behave/types"
)

// FlakeShakeResult represents aggregated results for a scenario across multiple runs
type FlakeShakeResult struct {
	Scenario       string        `json:"scenario"`
	Feature        string        `json:"feature"`
	TotalRuns      int           `json:"total_runs"`
	Passes         int           `json:"passes"`
	Failures       int           `json:"failures"`
	Skipped        int           `json:"skipped"`
	Retried        int           `json:"retried"`
	PassRate       float64       `json:"pass_rate"`
	AvgDuration    time.Duration `json:"avg_duration"`
	MinDuration    time.Duration `json:"min_duration"`
	MaxDuration    time.Duration `json:"max_duration"`
	FailureLogs    []string      `json:"failure_logs,omitempty"`
	Recommendation string        `json:"recommendation"`
}

// FlakeShakeReport contains the complete flake-shake analysis
type FlakeShakeReport struct {
	Date        string             `json:"date"`
	TotalRuns   int                `json:"total_runs"`
	Iterations  int                `json:"iterations"`
	Scenarios   []FlakeShakeResult `json:"scenarios"`
	GeneratedAt time.Time          `json:"generated_at"`
	RunID       string             `json:"run_id"`
}

// Unstable returns the scenarios that did not pass every iteration.
func (r *FlakeShakeReport) Unstable() []FlakeShakeResult {
	var out []FlakeShakeResult
	for _, s := range r.Scenarios {
		if s.Recommendation != "STABLE" {
			out = append(out, s)
		}
	}
	return out
}

// FlakeShakeRunner repeats a plan to find scenarios that do not pass
// consistently.
type FlakeShakeRunner struct {
	runner     *Runner
	iterations int
	log        log.Logger
}

// NewFlakeShakeRunner creates a new flake-shake runner
func NewFlakeShakeRunner(runner *Runner, iterations int, log log.Logger) *FlakeShakeRunner {
	return &FlakeShakeRunner{
		runner:     runner,
		iterations: iterations,
		log:        log,
	}
}

// RunFlakeShake runs the plan repeatedly and generates a stability report
func (f *FlakeShakeRunner) RunFlakeShake(ctx context.Context, plan *types.Plan) (*FlakeShakeReport, error) {
	if f.iterations < 1 {
		return nil, fmt.Errorf("flake-shake iterations must be at least 1")
	}
	f.log.Info("Starting flake-shake analysis", "scenarios", plan.Len(), "iterations", f.iterations)

	collector := newOutcomeCollector()
	runID := uuid.New().String()

	for i := 1; i <= f.iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f.log.Info("Running iteration", "iteration", i, "total", f.iterations)

		summary, err := f.runner.RunWithID(ctx, fmt.Sprintf("%s-%d", runID, i), plan, collector)
		if err != nil {
			f.log.Error("Iteration completed with errors", "iteration", i, "error", err)
		}
		if summary != nil {
			f.log.Info("Iteration finished", "iteration", i, "status", summary.Status(),
				"failed", summary.Scenarios.Failed)
		}
	}

	report := collector.report(f.iterations)
	report.RunID = runID
	return report, nil
}

type scenarioOutcome struct {
	feature  string
	status   types.Status
	retries  int
	duration time.Duration
	failure  string
}

// outcomeCollector is an event sink recording the final outcome of every
// executed scenario across runs.
type outcomeCollector struct {
	mu       sync.Mutex
	outcomes map[string][]scenarioOutcome
}

func newOutcomeCollector() *outcomeCollector {
	return &outcomeCollector{outcomes: make(map[string][]scenarioOutcome)}
}

func (c *outcomeCollector) Consume(ev *types.Event) error {
	if ev.Kind != types.EventScenarioFinished || ev.Attempt == 0 {
		return nil
	}
	o := scenarioOutcome{
		feature:  ev.Unit.FeatureName(),
		status:   ev.Outcome,
		retries:  ev.RetryCount,
		duration: ev.Duration,
	}
	if ev.Failure != nil {
		o.failure = ev.Failure.Error()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := ev.Unit.ID()
	c.outcomes[key] = append(c.outcomes[key], o)
	return nil
}

func (c *outcomeCollector) Complete(string) error { return nil }

func (c *outcomeCollector) report(iterations int) *FlakeShakeReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	report := &FlakeShakeReport{
		Date:        now.Format("2006-01-02"),
		Iterations:  iterations,
		GeneratedAt: now,
	}

	for id, outcomes := range c.outcomes {
		result := FlakeShakeResult{
			Scenario:    id,
			Feature:     outcomes[0].feature,
			TotalRuns:   len(outcomes),
			MinDuration: outcomes[0].duration,
		}

		var total time.Duration
		for _, o := range outcomes {
			switch o.status {
			case types.StatusPassed:
				result.Passes++
			case types.StatusFailed:
				result.Failures++
				if len(result.FailureLogs) < maxFailureLogs {
					result.FailureLogs = append(result.FailureLogs, o.failure)
				}
			case types.StatusSkipped:
				result.Skipped++
			}
			if o.retries > 0 {
				result.Retried++
			}
			total += o.duration
			result.MinDuration = min(result.MinDuration, o.duration)
			result.MaxDuration = max(result.MaxDuration, o.duration)
		}

		result.AvgDuration = total / time.Duration(result.TotalRuns)
		result.PassRate = float64(result.Passes) / float64(result.TotalRuns) * 100

		// a scenario that needed a retry to pass is not stable either
		if result.PassRate == 100 && result.Retried == 0 {
			result.Recommendation = "STABLE"
		} else {
			result.Recommendation = "UNSTABLE"
		}

		report.Scenarios = append(report.Scenarios, result)
		report.TotalRuns += result.TotalRuns
	}

	sort.Slice(report.Scenarios, func(i, j int) bool {
		return report.Scenarios[i].Scenario < report.Scenarios[j].Scenario
	})
	return report
}

// SaveFlakeShakeReport saves the report in both JSON and HTML formats
func SaveFlakeShakeReport(report *FlakeShakeReport, outputDir string) ([]string, error) {
	var savedFiles []string
	var errs []error

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	jsonFilename := filepath.Join(outputDir, "flake-shake-report.json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to marshal JSON: %w", err))
	} else if err := os.WriteFile(jsonFilename, data, 0644); err != nil {
		errs = append(errs, fmt.Errorf("failed to write JSON file: %w", err))
	} else {
		savedFiles = append(savedFiles, jsonFilename)
	}

	htmlFilename := filepath.Join(outputDir, "flake-shake-report.html")
	if err := saveHTMLReport(report, htmlFilename); err != nil {
		errs = append(errs, fmt.Errorf("failed to save HTML report: %w", err))
	} else {
		savedFiles = append(savedFiles, htmlFilename)
	}

	return savedFiles, errors.Join(errs...)
}

const flakeShakeHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Flake-Shake Report - {{.Date}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .summary { background: #f5f5f5; padding: 15px; border-radius: 5px; margin: 20px 0; }
        table { border-collapse: collapse; width: 100%; }
        th, td { border: 1px solid #ddd; padding: 12px; text-align: left; }
        th { background: #4CAF50; color: white; }
        .recommendation-stable { color: #4CAF50; font-weight: bold; }
        .recommendation-unstable { color: #f44336; font-weight: bold; }
        .failure-log { background: #ffebee; padding: 10px; margin: 5px 0; font-family: monospace; font-size: 12px; white-space: pre-wrap; }
    </style>
</head>
<body>
    <h1>Flake-Shake Report</h1>
    <div class="summary">
        <p><strong>Date:</strong> {{.Date}}</p>
        <p><strong>Iterations:</strong> {{.Iterations}}</p>
        <p><strong>Run ID:</strong> {{.RunID}}</p>
    </div>
    <table>
        <tr>
            <th>Scenario</th>
            <th>Runs</th>
            <th>Pass Rate</th>
            <th>Retried</th>
            <th>Avg Duration</th>
            <th>Recommendation</th>
            <th>Details</th>
        </tr>
        {{range .Scenarios}}
        <tr>
            <td>{{.Scenario}}</td>
            <td>{{.TotalRuns}}</td>
            <td>{{formatPercent .PassRate}}</td>
            <td>{{.Retried}}</td>
            <td>{{formatDuration .AvgDuration}}</td>
            <td class="recommendation-{{lower .Recommendation}}">{{.Recommendation}}</td>
            <td>
                {{if gt .Failures 0}}
                <details>
                    <summary>{{.Failures}} failure(s)</summary>
                    {{range .FailureLogs}}<div class="failure-log">{{.}}</div>{{end}}
                </details>
                {{else}}all passed{{end}}
            </td>
        </tr>
        {{end}}
    </table>
</body>
</html>`

func saveHTMLReport(report *FlakeShakeReport, filename string) error {
	tmpl, err := template.New("report").Funcs(templates.GetTemplateFunc()).Parse(flakeShakeHTML)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return tmpl.Execute(file, report)
}
