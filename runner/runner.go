package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-behave/normalizer"
	"github.com/ethereum-optimism/infra/op-behave/registry"
	"github.com/ethereum-optimism/infra/op-behave/types"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("a run is already in progress")

// Config holds configuration for creating a new runner
type Config struct {
	Log      log.Logger
	Registry *registry.Registry

	// MaxConcurrency bounds the number of units running at once.
	MaxConcurrency int
	// FailFast stops admitting units after the first failed scenario.
	FailFast bool
	Retry    RetryPolicy
	// StepTimeout bounds every step and hook invocation. Zero disables it.
	StepTimeout time.Duration
	// AfterFailureFailsScenario turns a passed scenario with a failed After
	// hook into a failed one.
	AfterFailureFailsScenario bool
	// MaxBufferedBatches caps completed batches awaiting earlier units.
	// Zero means unbounded.
	MaxBufferedBatches int

	Sinks    []types.EventSink
	Progress ProgressIndicator
}

// Runner executes plans. A Runner may be reused for several runs, one at a
// time.
type Runner struct {
	log                       log.Logger
	registry                  *registry.Registry
	maxConcurrency            int
	failFast                  bool
	retry                     RetryPolicy
	stepTimeout               time.Duration
	afterFailureFailsScenario bool
	maxBuffered               int
	sinks                     []types.EventSink
	progress                  ProgressIndicator
	tracer                    trace.Tracer

	running atomic.Bool
	aborted atomic.Bool
}

// New creates a runner
func New(cfg Config) (*Runner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.MaxConcurrency < 0 {
		return nil, fmt.Errorf("max concurrency must not be negative")
	}
	if cfg.Retry.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative")
	}
	if cfg.StepTimeout < 0 {
		return nil, fmt.Errorf("step timeout must not be negative")
	}
	if cfg.MaxBufferedBatches < 0 {
		return nil, fmt.Errorf("max buffered batches must not be negative")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.MaxConcurrency > MaxReasonableConcurrency {
		cfg.Log.Warn("Very high concurrency requested", "concurrency", cfg.MaxConcurrency,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}
	if cfg.Progress == nil {
		cfg.Progress = NewNoOpProgressIndicator()
	}

	return &Runner{
		log:                       cfg.Log.New("component", "runner"),
		registry:                  cfg.Registry,
		maxConcurrency:            cfg.MaxConcurrency,
		failFast:                  cfg.FailFast,
		retry:                     cfg.Retry,
		stepTimeout:               cfg.StepTimeout,
		afterFailureFailsScenario: cfg.AfterFailureFailsScenario,
		maxBuffered:               cfg.MaxBufferedBatches,
		sinks:                     cfg.Sinks,
		progress:                  cfg.Progress,
		tracer:                    otel.Tracer("scenario runner"),
	}, nil
}

// Run executes the plan under a fresh run ID.
func (r *Runner) Run(ctx context.Context, plan *types.Plan) (*types.Summary, error) {
	return r.RunWithID(ctx, uuid.New().String(), plan)
}

// RunWithID executes every unit of the plan and returns the run summary.
// Scenario failures are reported through the summary; the error covers
// problems with the run itself, such as a failing sink. Once ctx is done no
// further units are admitted, while units already running finish normally.
// Extra sinks receive this run's events in addition to the configured ones.
func (r *Runner) RunWithID(ctx context.Context, runID string, plan *types.Plan, extra ...types.EventSink) (*types.Summary, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan is required")
	}
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)
	r.aborted.Store(false)

	r.registry.Freeze()

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("run %s", runID))
	defer span.End()

	norm, err := normalizer.New(normalizer.Config{
		Log:         r.log,
		Plan:        plan,
		Sinks:       append(slices.Clone(r.sinks), extra...),
		RunID:       runID,
		MaxBuffered: r.maxBuffered,
	})
	if err != nil {
		return nil, err
	}
	if err := norm.Start(); err != nil {
		return nil, err
	}

	r.log.Info("Starting run", "runID", runID, "scenarios", plan.Len(),
		"concurrency", r.maxConcurrency, "failFast", r.failFast, "maxRetries", r.retry.MaxRetries)
	r.progress.StartRun(runID, plan.Len())

	newScheduler(r, plan, norm).run(ctx)

	summary, err := norm.Finish(r.Aborted())
	r.progress.CompleteRun(runID)
	if err != nil {
		r.log.Error("Run completed with errors", "runID", runID, "error", err)
		span.RecordError(err)
	}
	if summary == nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("scenarios.passed", summary.Scenarios.Passed),
		attribute.Int("scenarios.failed", summary.Scenarios.Failed),
		attribute.Int("scenarios.skipped", summary.Scenarios.Skipped),
		attribute.Bool("aborted", summary.Aborted),
	)
	if summary.Failed() {
		span.SetStatus(codes.Error, "scenarios failed")
	}

	r.log.Info("Run finished", "runID", runID, "status", summary.Status(),
		"passed", summary.Scenarios.Passed, "failed", summary.Scenarios.Failed,
		"skipped", summary.Scenarios.Skipped, "retried", summary.Retried,
		"aborted", summary.Aborted, "duration", summary.Duration)
	return summary, err
}

// Abort stops admission of further units in the current run. Pending units
// are reported as skipped; running units finish normally.
func (r *Runner) Abort() {
	r.abort("requested")
}

// Aborted reports whether the current or most recent run was aborted.
func (r *Runner) Aborted() bool {
	return r.aborted.Load()
}

func (r *Runner) abort(reason string) {
	if r.aborted.CompareAndSwap(false, true) {
		r.log.Warn("Aborting run, no further scenarios will be started", "reason", reason)
	}
}
