package behave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/ethereum-optimism/infra/op-behave/builtin"
	"github.com/ethereum-optimism/infra/op-behave/featurefile"
	"github.com/ethereum-optimism/infra/op-behave/flags"
	"github.com/ethereum-optimism/infra/op-behave/logging"
	"github.com/ethereum-optimism/infra/op-behave/metrics"
	"github.com/ethereum-optimism/infra/op-behave/planner"
	"github.com/ethereum-optimism/infra/op-behave/registry"
	"github.com/ethereum-optimism/infra/op-behave/reporting"
	"github.com/ethereum-optimism/infra/op-behave/runner"
	"github.com/ethereum-optimism/infra/op-behave/service"
	"github.com/ethereum-optimism/infra/op-behave/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

const (
	// EffectiveConfigFilename is written into every run directory.
	EffectiveConfigFilename = "effective-config.json"
	// FlakeShakeDirName holds flake-shake reports below the output directory.
	FlakeShakeDirName = "flake-shake"
)

// Behave implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &Behave{}

// StepDefinitions registers additional steps and hooks on a registry.
type StepDefinitions func(reg *registry.Registry) error

type options struct {
	out    io.Writer
	status *service.RunStatus
	steps  []StepDefinitions
}

// Option customises a Behave service.
type Option func(*options)

// WithOutput sets where console reports are written. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithStatus records every run on status, typically the one served by the
// healthz server.
func WithStatus(status *service.RunStatus) Option {
	return func(o *options) { o.status = status }
}

// WithStepDefinitions registers steps in addition to the builtin ones.
func WithStepDefinitions(defs ...StepDefinitions) Option {
	return func(o *options) { o.steps = append(o.steps, defs...) }
}

// Behave loads feature files and runs them, once or periodically.
type Behave struct {
	config   *Config
	version  string
	registry *registry.Registry
	planner  *planner.Planner
	runner   *runner.Runner

	out        io.Writer
	status     *service.RunStatus
	fileLogger *logging.FileLogger
	redis      *reporting.RedisStreamSink
	progress   *runner.ConsoleProgressIndicator
	scheduler  *IntervalScheduler

	mu          sync.Mutex
	lastSummary *types.Summary
	unstable    int

	running          atomic.Bool
	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(config *Config, version string, shutdownCallback func(error), opts ...Option) (*Behave, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	o := &options{out: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}

	config.Log.Debug("Creating op-behave with config",
		"features", config.Features,
		"concurrency", config.Concurrency,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"formats", config.Formats)

	reg, err := registry.NewRegistry(registry.Config{Log: config.Log})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	if err := builtin.Register(reg, config.Log); err != nil {
		return nil, fmt.Errorf("failed to register builtin steps: %w", err)
	}
	for _, defs := range o.steps {
		if err := defs(reg); err != nil {
			return nil, fmt.Errorf("failed to register step definitions: %w", err)
		}
	}

	b := &Behave{
		config:           config,
		version:          version,
		registry:         reg,
		out:              o.out,
		status:           o.status,
		shutdownCallback: shutdownCallback,
		planner: planner.New(planner.Config{
			Log:        config.Log,
			TagFilter:  config.TagFilter,
			NameFilter: config.NameFilter,
			SerialTag:  config.SerialTag,
		}),
	}

	sinks, err := b.buildSinks()
	if err != nil {
		b.closeSinks()
		return nil, err
	}

	var progress runner.ProgressIndicator
	if config.ShowProgress {
		b.progress = runner.NewConsoleProgressIndicator(config.Log, config.ProgressInterval)
		progress = b.progress
	}

	b.runner, err = runner.New(runner.Config{
		Log:            config.Log,
		Registry:       reg,
		MaxConcurrency: config.Concurrency,
		FailFast:       config.FailFast,
		Retry: runner.RetryPolicy{
			MaxRetries:    config.MaxRetries,
			Filter:        config.RetryFilter,
			Backoff:       config.RetryAfter,
			BackoffFactor: runner.DefaultRetryBackoffFactor,
			MaxBackoff:    runner.DefaultRetryBackoffMax,
		},
		StepTimeout:               config.StepTimeout,
		AfterFailureFailsScenario: config.AfterFailureFailsScenario,
		MaxBufferedBatches:        config.MaxBufferedBatches,
		Sinks:                     sinks,
		Progress:                  progress,
	})
	if err != nil {
		b.closeSinks()
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	b.scheduler = NewIntervalScheduler(config.RunInterval, config.Log)
	b.scheduler.RegisterCallback(b.runSuite)

	config.Log.Info("Created op-behave", "steps", reg.Len())
	return b, nil
}

// buildSinks creates the event sinks for the configured outputs. The file
// logger always runs; it also writes the text summary of each run.
func (b *Behave) buildSinks() ([]types.EventSink, error) {
	cfg := b.config
	var sinks []types.EventSink

	if b.status != nil {
		sinks = append(sinks, b.status)
	}
	sinks = append(sinks, metrics.NewSink())

	fileLogger, err := logging.NewFileLogger(cfg.OutputDir, cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create file logger: %w", err)
	}
	b.fileLogger = fileLogger
	sinks = append(sinks, fileLogger)

	color := isTerminal(b.out)
	if cfg.HasFormat(flags.FormatPretty) {
		var pretty types.EventSink = reporting.NewPrettySink(b.out, color, true)
		if cfg.RepeatSkipped {
			pretty = reporting.NewRepeatSink(pretty, reporting.RepeatSkipped)
		}
		if cfg.RepeatFailed {
			pretty = reporting.NewRepeatSink(pretty, reporting.RepeatFailed)
		}
		sinks = append(sinks, pretty)
	}
	if cfg.HasFormat(flags.FormatSummary) {
		sinks = append(sinks, reporting.NewSummaryTableSink(b.out, color))
	}
	if cfg.HasFormat(flags.FormatJSON) {
		sinks = append(sinks, reporting.NewJSONSink(b.out))
	}
	if cfg.HasFormat(flags.FormatJUnit) {
		sinks = append(sinks, reporting.NewJUnitSink(cfg.OutputDir))
	}

	if cfg.RedisURL != "" {
		client, err := reporting.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.redis, err = reporting.NewRedisStreamSink(reporting.RedisStreamConfig{
			Log:    cfg.Log,
			Client: client,
			Stream: cfg.RedisStream,
		})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to create redis sink: %w", err)
		}
		sinks = append(sinks, b.redis)
	}
	return sinks, nil
}

// Start runs the suite immediately, then at the configured interval.
// Start implements the cliapp.Lifecycle interface.
func (b *Behave) Start(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.config.Log.Error("Runtime error occurred", "error", r)
			err = NewRuntimeError(fmt.Errorf("panic: %v", r))
		}
	}()

	b.running.Store(true)
	if b.config.RunOnce {
		b.config.Log.Info("Starting op-behave in run-once mode", "version", b.version)
	} else {
		b.config.Log.Info("Starting op-behave in continuous mode", "version", b.version, "interval", b.config.RunInterval)
	}

	if err := b.scheduler.Start(ctx); err != nil {
		b.config.Log.Error("Runtime error running suite", "error", err)
		return err
	}

	if !b.config.RunOnce {
		b.config.Log.Debug("op-behave started successfully")
		return nil
	}

	b.config.Log.Info("Suite completed, exiting (run-once mode)")
	if err := b.result(); err != nil {
		b.config.Log.Warn("Run-once suite completed with failures, returning exit code 1")
		return err
	}
	if b.shutdownCallback != nil {
		go b.shutdownCallback(nil)
	}
	return nil
}

// result converts the outcome of the latest run into an error.
func (b *Behave) result() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unstable > 0 {
		return &TestFailureError{Message: fmt.Sprintf("%d unstable scenarios", b.unstable)}
	}
	if b.lastSummary != nil && b.lastSummary.Failed() {
		return NewTestFailureError(b.lastSummary)
	}
	return nil
}

// runSuite loads and plans the feature files and runs them. Failed
// scenarios are not an error here; they are reported through the summary.
func (b *Behave) runSuite(ctx context.Context) error {
	features, err := featurefile.Load(b.config.Features)
	if err != nil {
		metrics.RecordErrorDetails("load features", err)
		return NewRuntimeError(err)
	}
	plan, err := b.planner.Plan(features)
	if err != nil {
		metrics.RecordErrorDetails("plan", err)
		return NewRuntimeError(err)
	}

	if b.config.FlakeShake {
		return b.runFlakeShake(ctx, plan)
	}

	runID := uuid.New().String()
	b.config.Log.Info("Running suite", "runID", runID, "features", len(features), "scenarios", plan.Len())
	summary, err := b.runner.RunWithID(ctx, runID, plan)
	if summary != nil {
		b.mu.Lock()
		b.lastSummary = summary
		b.mu.Unlock()
		b.writeSnapshot(runID)
	}
	if err != nil {
		metrics.RecordErrorDetails("run", err)
		return NewRuntimeError(err)
	}
	b.config.Log.Info("Suite run completed", "runID", runID, "status", summary.Status())
	return nil
}

func (b *Behave) runFlakeShake(ctx context.Context, plan *types.Plan) error {
	shaker := runner.NewFlakeShakeRunner(b.runner, b.config.FlakeShakeIterations, b.config.Log)
	report, err := shaker.RunFlakeShake(ctx, plan)
	if err != nil {
		return NewRuntimeError(err)
	}

	dir := filepath.Join(b.config.OutputDir, FlakeShakeDirName, report.RunID)
	files, err := runner.SaveFlakeShakeReport(report, dir)
	if err != nil {
		return NewRuntimeError(err)
	}

	unstable := report.Unstable()
	for _, s := range unstable {
		b.config.Log.Warn("Unstable scenario", "scenario", s.Scenario, "passRate", s.PassRate, "retried", s.Retried)
	}
	b.config.Log.Info("Flake-shake completed", "scenarios", len(report.Scenarios), "unstable", len(unstable), "files", files)

	b.mu.Lock()
	b.unstable = len(unstable)
	b.mu.Unlock()
	return nil
}

// writeSnapshot stores the effective configuration next to the run logs.
func (b *Behave) writeSnapshot(runID string) {
	snap := b.config.Snapshot(runID)
	if b.status != nil {
		b.status.SetConfig(snap)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		b.config.Log.Error("Failed to marshal effective config", "error", err)
		return
	}
	path := filepath.Join(b.fileLogger.GetDirectoryForRunID(runID), EffectiveConfigFilename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		b.config.Log.Error("Failed to write effective config", "path", path, "error", err)
	}
}

// LastSummary returns the summary of the most recent run, or nil.
func (b *Behave) LastSummary() *types.Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSummary
}

// Stop stops scheduling runs. A run in progress stops admitting scenarios.
// Stop implements the cliapp.Lifecycle interface.
func (b *Behave) Stop(ctx context.Context) error {
	b.config.Log.Info("Stopping op-behave")
	if !b.running.CompareAndSwap(true, false) {
		b.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	b.runner.Abort()
	err := errors.Join(b.scheduler.Stop(), b.scheduler.WaitForShutdown(ctx))
	b.closeSinks()
	b.config.Log.Info("op-behave stopped")
	return err
}

func (b *Behave) closeSinks() {
	if b.progress != nil {
		b.progress.Stop()
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			b.config.Log.Warn("Failed to close redis client", "error", err)
		}
	}
}

// Stopped returns true if the op-behave service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (b *Behave) Stopped() bool {
	return !b.running.Load()
}

// WaitForShutdown blocks until the periodic runner has exited.
func (b *Behave) WaitForShutdown(ctx context.Context) error {
	return b.scheduler.WaitForShutdown(ctx)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
