package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	behave "github.com/ethereum-optimism/infra/op-behave"
	"github.com/ethereum-optimism/infra/op-behave/flags"
	"github.com/ethereum-optimism/infra/op-behave/service"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-behave"
	app.Usage = "Behaviour-driven scenario runner"
	app.Description = "op-behave runs Gherkin feature files concurrently and reports them in file order"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
			return
		}
		cli.HandleExitCoder(cli.Exit(err.Error(), behave.ExitCode(err)))
	}
	return app
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := behave.NewConfig(ctx, log)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, behave.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg.Snapshot(""))

	status := service.NewRunStatus()
	svc := service.New(service.Config{
		Log:         log,
		HealthzPort: cfg.HealthzPort,
		MetricsHost: cfg.MetricsConfig.ListenAddr,
		MetricsPort: metricsPort(cfg),
		Status:      status,
	})

	b, err := behave.New(cfg, Version, closeApp, behave.WithOutput(ctx.App.Writer), behave.WithStatus(status))
	if err != nil {
		return nil, behave.NewRuntimeError(fmt.Errorf("failed to create op-behave: %w", err))
	}
	return &lifecycle{behave: b, service: svc}, nil
}

func metricsPort(cfg *behave.Config) int {
	if !cfg.MetricsConfig.Enabled {
		return -1
	}
	return cfg.MetricsConfig.ListenPort
}

// lifecycle runs the healthz and metrics servers alongside the suite.
type lifecycle struct {
	behave  *behave.Behave
	service *service.Service
}

func (l *lifecycle) Start(ctx context.Context) error {
	if err := l.service.Start(ctx); err != nil {
		return behave.NewRuntimeError(err)
	}
	if err := l.behave.Start(ctx); err != nil {
		l.service.Shutdown(ctx)
		return err
	}
	return nil
}

func (l *lifecycle) Stop(ctx context.Context) error {
	err := l.behave.Stop(ctx)
	l.service.Shutdown(ctx)
	return err
}

func (l *lifecycle) Stopped() bool {
	return l.behave.Stopped()
}
