package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

const (
	MetricsNamespace = "behave"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	scenariosTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "scenarios_total",
		Help:      "Count of reported scenarios by final outcome",
	}, []string{
		"feature",
		"outcome",
	})

	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "steps_total",
		Help:      "Count of reported steps by status",
	}, []string{
		"status",
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "retries_total",
		Help:      "Count of scenario retries",
	})

	afterHookFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "after_hook_failures_total",
		Help:      "Count of scenarios with a failed After hook",
	})

	scenarioDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "scenario_duration_seconds",
		Help:      "Duration of the reported attempt of each scenario",
		Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
	}, []string{
		"feature",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Scenario counts of the most recent run",
	}, []string{
		"result",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of completed runs by overall status",
	}, []string{
		"status",
	})

	runDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the most recent run",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordScenario(feature string, outcome types.Status, retries int, afterHookFailed bool, duration time.Duration) {
	if !outcome.IsTerminal() {
		log.Error("RecordScenario - invalid outcome", "outcome", outcome)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "scenarios_total",
			"feature", feature,
			"outcome", outcome,
			"retries", retries)
	}
	scenariosTotal.WithLabelValues(feature, string(outcome)).Inc()
	scenarioDuration.WithLabelValues(feature).Observe(duration.Seconds())
	if retries > 0 {
		retriesTotal.Add(float64(retries))
	}
	if afterHookFailed {
		afterHookFailuresTotal.Inc()
	}
}

func RecordStep(status types.Status) {
	if !status.IsTerminal() {
		log.Error("RecordStep - invalid status", "status", status)
		return
	}
	stepsTotal.WithLabelValues(string(status)).Inc()
}

func RecordRun(summary *types.Summary) {
	runResults.WithLabelValues(string(types.StatusPassed)).Set(float64(summary.Scenarios.Passed))
	runResults.WithLabelValues(string(types.StatusFailed)).Set(float64(summary.Scenarios.Failed))
	runResults.WithLabelValues(string(types.StatusSkipped)).Set(float64(summary.Scenarios.Skipped))
	runsTotal.WithLabelValues(string(summary.Status())).Inc()
	runDuration.Set(summary.Duration.Seconds())
}

// Sink records every reported scenario, step and run.
type Sink struct{}

// NewSink creates a metrics sink.
func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Consume(ev *types.Event) error {
	switch {
	case ev.Kind.IsStepTerminal():
		RecordStep(ev.Kind.StepStatus())
	case ev.Kind == types.EventScenarioFinished:
		RecordScenario(ev.Unit.FeatureName(), ev.Outcome, ev.RetryCount, ev.AfterFailure != nil, ev.Duration)
	case ev.Kind == types.EventSuiteFinished && ev.Summary != nil:
		RecordRun(ev.Summary)
	}
	return nil
}

func (s *Sink) Complete(string) error { return nil }
