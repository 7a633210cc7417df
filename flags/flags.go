package flags

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_BEHAVE"

// Format selects a report writer.
type Format string

const (
	FormatPretty  Format = "pretty"
	FormatSummary Format = "summary"
	FormatJSON    Format = "json"
	FormatJUnit   Format = "junit"
)

func (f Format) String() string {
	return string(f)
}

// IsValid checks if the format is one of the supported values
func (f Format) IsValid() bool {
	return slices.Contains(ValidFormats(), f)
}

// ValidFormats returns all supported report formats
func ValidFormats() []Format {
	return []Format{FormatPretty, FormatSummary, FormatJSON, FormatJUnit}
}

func validateFormats(values []string) error {
	for _, v := range values {
		if !Format(v).IsValid() {
			valid := make([]string, 0, len(ValidFormats()))
			for _, f := range ValidFormats() {
				valid = append(valid, f.String())
			}
			return fmt.Errorf("format must be one of: %s, got %q", strings.Join(valid, ", "), v)
		}
	}
	return nil
}

var (
	Features = &cli.StringFlag{
		Name:     "features",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "FEATURES"),
		Usage:    "Path to a feature file or a directory of .feature files",
	}
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Optional YAML or TOML file with run settings. Flags set explicitly take precedence.",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Maximum number of scenarios running at once (0 = number of CPUs)",
	}
	FailFast = &cli.BoolFlag{
		Name:    "fail-fast",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FAIL_FAST"),
		Usage:   "Stop starting new scenarios after the first failure. Remaining scenarios are reported as skipped.",
	}
	Retries = &cli.IntFlag{
		Name:    "retries",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RETRIES"),
		Usage:   "Number of times a failed scenario is retried",
	}
	RetryTags = &cli.StringFlag{
		Name:    "retry-tags",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RETRY_TAGS"),
		Usage:   "Tag expression restricting which scenarios may be retried (e.g. '@flaky and not @slow'). Empty retries all.",
	}
	RetryAfter = &cli.DurationFlag{
		Name:    "retry-after",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RETRY_AFTER"),
		Usage:   "Delay before the first retry, doubled for every further retry",
	}
	StepTimeout = &cli.DurationFlag{
		Name:    "step-timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STEP_TIMEOUT"),
		Usage:   "Timeout for each step and hook (e.g. '30s'). 0 disables it.",
	}
	Tags = &cli.StringFlag{
		Name:    "tags",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TAGS"),
		Usage:   "Tag expression selecting the scenarios to run (e.g. '@smoke and not @wip')",
	}
	Name = &cli.StringFlag{
		Name:    "name",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "NAME"),
		Usage:   "Regular expression selecting scenarios by name",
	}
	SerialTag = &cli.StringFlag{
		Name:    "serial-tag",
		Value:   "@serial",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERIAL_TAG"),
		Usage:   "Tag marking scenarios that must run alone, in file order",
	}
	AfterFailureFails = &cli.BoolFlag{
		Name:    "after-failure-fails",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "AFTER_FAILURE_FAILS"),
		Usage:   "Fail a passed scenario when one of its After hooks fails",
	}
	MaxBuffered = &cli.IntFlag{
		Name:    "max-buffered",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAX_BUFFERED"),
		Usage:   "Maximum completed scenarios held back waiting for an earlier one (0 = unbounded)",
	}
	Formats = &cli.StringSliceFlag{
		Name:    "format",
		Value:   cli.NewStringSlice(FormatPretty.String()),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FORMAT"),
		Usage:   fmt.Sprintf("Report writers to enable, may be repeated (%s, %s, %s, %s)", FormatPretty, FormatSummary, FormatJSON, FormatJUnit),
		Action: func(ctx *cli.Context, v []string) error {
			return validateFormats(v)
		},
	}
	OutputDir = &cli.StringFlag{
		Name:    "output-dir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OUTPUT_DIR"),
		Usage:   "Directory for per-run logs and reports",
	}
	RepeatFailed = &cli.BoolFlag{
		Name:    "repeat-failed",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPEAT_FAILED"),
		Usage:   "Repeat failed steps at the end of the console output",
	}
	RepeatSkipped = &cli.BoolFlag{
		Name:    "repeat-skipped",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPEAT_SKIPPED"),
		Usage:   "Repeat skipped steps at the end of the console output",
	}
	RedisURL = &cli.StringFlag{
		Name:    "redis-url",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REDIS_URL"),
		Usage:   "Publish events to a redis stream at this URL (e.g. 'redis://localhost:6379/0')",
	}
	RedisStream = &cli.StringFlag{
		Name:    "redis-stream",
		Value:   "op-behave:events",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REDIS_STREAM"),
		Usage:   "Redis stream key events are published to",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	FlakeShake = &cli.BoolFlag{
		Name:    "flake-shake",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FLAKE_SHAKE"),
		Usage:   "Run the suite repeatedly and report scenarios that do not pass every time",
	}
	FlakeShakeIterations = &cli.IntFlag{
		Name:    "flake-shake-iterations",
		Value:   10,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FLAKE_SHAKE_ITERATIONS"),
		Usage:   "Number of runs in flake-shake mode",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Log periodic progress updates during a run",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when show-progress is enabled",
	}
	HealthzPort = &cli.IntFlag{
		Name:    "healthz.port",
		Value:   8080,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_PORT"),
		Usage:   "Port of the healthz and status server. -1 disables it.",
	}
)

var requiredFlags = []cli.Flag{
	Features,
}

var optionalFlags = []cli.Flag{
	ConfigFile,
	Concurrency,
	FailFast,
	Retries,
	RetryTags,
	RetryAfter,
	StepTimeout,
	Tags,
	Name,
	SerialTag,
	AfterFailureFails,
	MaxBuffered,
	Formats,
	OutputDir,
	RepeatFailed,
	RepeatSkipped,
	RedisURL,
	RedisStream,
	RunInterval,
	FlakeShake,
	FlakeShakeIterations,
	ShowProgress,
	ProgressInterval,
	HealthzPort,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
