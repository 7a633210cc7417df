package behave

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
	"github.com/mitchellh/mapstructure"
	pkgerrors "github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-behave/flags"
	"github.com/ethereum-optimism/infra/op-behave/tagexpr"
	"github.com/ethereum-optimism/infra/op-behave/types"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

// Config holds the application configuration
type Config struct {
	Features   string // Feature file or directory
	ConfigFile string // Optional settings file the values below were merged from

	Concurrency               int           // Maximum concurrent scenarios (0 = auto-determine)
	FailFast                  bool          // Stop admitting scenarios after the first failure
	MaxRetries                int           // Retries allowed for a failed scenario
	RetryTags                 string        // Tag expression restricting retries
	RetryFilter               tagexpr.Expr  // Parsed RetryTags, nil retries all
	RetryAfter                time.Duration // Delay before the first retry
	StepTimeout               time.Duration // Timeout for each step and hook
	AfterFailureFailsScenario bool
	MaxBufferedBatches        int

	Tags       string         // Tag expression selecting scenarios
	TagFilter  tagexpr.Expr   // Parsed Tags, nil selects all
	Name       string         // Scenario name pattern
	NameFilter *regexp.Regexp // Compiled Name, nil selects all
	SerialTag  string

	Formats       []flags.Format
	OutputDir     string // Directory for per-run logs and reports
	RepeatFailed  bool
	RepeatSkipped bool
	RedisURL      string
	RedisStream   string

	RunInterval          time.Duration // Interval between runs
	RunOnce              bool          // Exit after one run
	FlakeShake           bool          // Run the suite repeatedly to find unstable scenarios
	FlakeShakeIterations int
	ShowProgress         bool          // Log periodic progress updates during a run
	ProgressInterval     time.Duration // Interval between progress updates

	HealthzPort   int
	MetricsConfig opmetrics.CLIConfig

	Log log.Logger
}

// FileConfig is the layout of the optional --config file. Every key is
// optional; flags that are set explicitly take precedence over it.
type FileConfig struct {
	Concurrency          int           `mapstructure:"concurrency"`
	FailFast             bool          `mapstructure:"fail_fast"`
	Retries              int           `mapstructure:"retries"`
	RetryTags            string        `mapstructure:"retry_tags"`
	RetryAfter           time.Duration `mapstructure:"retry_after"`
	StepTimeout          time.Duration `mapstructure:"step_timeout"`
	Tags                 string        `mapstructure:"tags"`
	Name                 string        `mapstructure:"name"`
	SerialTag            string        `mapstructure:"serial_tag"`
	AfterFailureFails    bool          `mapstructure:"after_failure_fails"`
	MaxBuffered          int           `mapstructure:"max_buffered"`
	Formats              []string      `mapstructure:"formats"`
	OutputDir            string        `mapstructure:"output_dir"`
	RepeatFailed         bool          `mapstructure:"repeat_failed"`
	RepeatSkipped        bool          `mapstructure:"repeat_skipped"`
	RedisURL             string        `mapstructure:"redis_url"`
	RedisStream          string        `mapstructure:"redis_stream"`
	RunInterval          time.Duration `mapstructure:"run_interval"`
	FlakeShakeIterations int           `mapstructure:"flake_shake_iterations"`
	ProgressInterval     time.Duration `mapstructure:"progress_interval"`

	// keys present in the file
	keys map[string]bool
}

// Has reports whether key was present in the file.
func (f *FileConfig) Has(key string) bool {
	return f != nil && f.keys[key]
}

// LoadFileConfig reads a YAML (.yaml, .yml) or TOML (.toml) settings file.
func LoadFileConfig(path string) (*FileConfig, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "reading config file %s", path)
	}

	raw := make(map[string]any)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(contents, &raw); err != nil {
			return nil, pkgerrors.Wrapf(err, "unmarshalling yaml config %s", path)
		}
	case ".toml":
		if _, err := toml.Decode(string(contents), &raw); err != nil {
			return nil, pkgerrors.Wrapf(err, "unmarshalling toml config %s", path)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q, expected .yaml, .yml or .toml", ext)
	}

	fc := &FileConfig{}
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Metadata:         &md,
		Result:           fc,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "creating config decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, pkgerrors.Wrapf(err, "decoding config file %s", path)
	}

	fc.keys = make(map[string]bool, len(md.Keys))
	for _, k := range md.Keys {
		fc.keys[k] = true
	}
	return fc, nil
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	features := ctx.String(flags.Features.Name)
	if features == "" {
		return nil, errors.New("features path is required")
	}

	cfg := &Config{
		Features:                  features,
		Concurrency:               ctx.Int(flags.Concurrency.Name),
		FailFast:                  ctx.Bool(flags.FailFast.Name),
		MaxRetries:                ctx.Int(flags.Retries.Name),
		RetryTags:                 ctx.String(flags.RetryTags.Name),
		RetryAfter:                ctx.Duration(flags.RetryAfter.Name),
		StepTimeout:               ctx.Duration(flags.StepTimeout.Name),
		AfterFailureFailsScenario: ctx.Bool(flags.AfterFailureFails.Name),
		MaxBufferedBatches:        ctx.Int(flags.MaxBuffered.Name),
		Tags:                      ctx.String(flags.Tags.Name),
		Name:                      ctx.String(flags.Name.Name),
		SerialTag:                 ctx.String(flags.SerialTag.Name),
		OutputDir:                 ctx.String(flags.OutputDir.Name),
		RepeatFailed:              ctx.Bool(flags.RepeatFailed.Name),
		RepeatSkipped:             ctx.Bool(flags.RepeatSkipped.Name),
		RedisURL:                  ctx.String(flags.RedisURL.Name),
		RedisStream:               ctx.String(flags.RedisStream.Name),
		RunInterval:               ctx.Duration(flags.RunInterval.Name),
		FlakeShake:                ctx.Bool(flags.FlakeShake.Name),
		FlakeShakeIterations:      ctx.Int(flags.FlakeShakeIterations.Name),
		ShowProgress:              ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval:          ctx.Duration(flags.ProgressInterval.Name),
		HealthzPort:               ctx.Int(flags.HealthzPort.Name),
		MetricsConfig:             opmetrics.ReadCLIConfig(ctx),
		Log:                       log,
	}
	formats := ctx.StringSlice(flags.Formats.Name)

	if path := ctx.String(flags.ConfigFile.Name); path != "" {
		fc, err := LoadFileConfig(path)
		if err != nil {
			return nil, err
		}
		if cfg.ConfigFile, err = filepath.Abs(path); err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for config file '%s': %w", path, err)
		}
		cfg.applyFile(ctx, fc)
		if fc.Has("formats") && !ctx.IsSet(flags.Formats.Name) {
			formats = fc.Formats
		}
	}
	for _, f := range formats {
		cfg.Formats = append(cfg.Formats, flags.Format(f))
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile copies the values present in fc over those of flags that were
// not set explicitly.
func (c *Config) applyFile(ctx *cli.Context, fc *FileConfig) {
	use := func(key string, flag cli.Flag) bool {
		return fc.Has(key) && !ctx.IsSet(flag.Names()[0])
	}
	if use("concurrency", flags.Concurrency) {
		c.Concurrency = fc.Concurrency
	}
	if use("fail_fast", flags.FailFast) {
		c.FailFast = fc.FailFast
	}
	if use("retries", flags.Retries) {
		c.MaxRetries = fc.Retries
	}
	if use("retry_tags", flags.RetryTags) {
		c.RetryTags = fc.RetryTags
	}
	if use("retry_after", flags.RetryAfter) {
		c.RetryAfter = fc.RetryAfter
	}
	if use("step_timeout", flags.StepTimeout) {
		c.StepTimeout = fc.StepTimeout
	}
	if use("after_failure_fails", flags.AfterFailureFails) {
		c.AfterFailureFailsScenario = fc.AfterFailureFails
	}
	if use("max_buffered", flags.MaxBuffered) {
		c.MaxBufferedBatches = fc.MaxBuffered
	}
	if use("tags", flags.Tags) {
		c.Tags = fc.Tags
	}
	if use("name", flags.Name) {
		c.Name = fc.Name
	}
	if use("serial_tag", flags.SerialTag) {
		c.SerialTag = fc.SerialTag
	}
	if use("output_dir", flags.OutputDir) {
		c.OutputDir = fc.OutputDir
	}
	if use("repeat_failed", flags.RepeatFailed) {
		c.RepeatFailed = fc.RepeatFailed
	}
	if use("repeat_skipped", flags.RepeatSkipped) {
		c.RepeatSkipped = fc.RepeatSkipped
	}
	if use("redis_url", flags.RedisURL) {
		c.RedisURL = fc.RedisURL
	}
	if use("redis_stream", flags.RedisStream) {
		c.RedisStream = fc.RedisStream
	}
	if use("run_interval", flags.RunInterval) {
		c.RunInterval = fc.RunInterval
	}
	if use("flake_shake_iterations", flags.FlakeShakeIterations) {
		c.FlakeShakeIterations = fc.FlakeShakeIterations
	}
	if use("progress_interval", flags.ProgressInterval) {
		c.ProgressInterval = fc.ProgressInterval
	}
}

// resolve validates the values, parses the filters and makes paths absolute.
func (c *Config) resolve() error {
	if err := c.Check(); err != nil {
		return err
	}

	var err error
	if c.Features, err = filepath.Abs(c.Features); err != nil {
		return fmt.Errorf("failed to resolve absolute path for features '%s': %w", c.Features, err)
	}
	if c.OutputDir == "" {
		c.OutputDir = "logs"
	}
	if c.OutputDir, err = filepath.Abs(c.OutputDir); err != nil {
		return fmt.Errorf("failed to resolve absolute path for output directory '%s': %w", c.OutputDir, err)
	}

	if c.TagFilter, err = parseTagExpr(c.Tags); err != nil {
		return fmt.Errorf("invalid tags: %w", err)
	}
	if c.RetryFilter, err = parseTagExpr(c.RetryTags); err != nil {
		return fmt.Errorf("invalid retry tags: %w", err)
	}
	if c.Name != "" {
		if c.NameFilter, err = regexp.Compile(c.Name); err != nil {
			return fmt.Errorf("invalid name pattern: %w", err)
		}
	}
	c.RunOnce = c.RunInterval == 0
	return nil
}

// Check validates the plain values of the configuration.
func (c *Config) Check() error {
	if c.Features == "" {
		return errors.New("features path is required")
	}
	if c.Concurrency < 0 {
		return errors.New("concurrency must not be negative")
	}
	if c.MaxRetries < 0 {
		return errors.New("retries must not be negative")
	}
	if c.RetryAfter < 0 {
		return errors.New("retry-after must not be negative")
	}
	if c.StepTimeout < 0 {
		return errors.New("step timeout must not be negative")
	}
	if c.MaxBufferedBatches < 0 {
		return errors.New("max buffered must not be negative")
	}
	if c.RunInterval < 0 {
		return errors.New("run interval must not be negative")
	}
	for _, f := range c.Formats {
		if !f.IsValid() {
			return fmt.Errorf("invalid format %q", f)
		}
	}
	if c.FlakeShake {
		if c.FlakeShakeIterations < 1 {
			return errors.New("flake-shake iterations must be at least 1")
		}
		if c.RunInterval > 0 {
			return errors.New("flake-shake cannot be combined with a run interval")
		}
	}
	if c.ShowProgress && c.ProgressInterval <= 0 {
		return errors.New("progress interval must be positive when progress is shown")
	}
	if c.HealthzPort < -1 || c.HealthzPort > 65535 {
		return fmt.Errorf("invalid healthz port %d", c.HealthzPort)
	}
	return c.MetricsConfig.Check()
}

// HasFormat reports whether the report writer f is enabled.
func (c *Config) HasFormat(f flags.Format) bool {
	for _, have := range c.Formats {
		if have == f {
			return true
		}
	}
	return false
}

// Snapshot returns the effective configuration for run artifacts and the
// /config endpoint.
func (c *Config) Snapshot(runID string) *types.EffectiveConfigSnapshot {
	formats := make([]string, 0, len(c.Formats))
	for _, f := range c.Formats {
		formats = append(formats, f.String())
	}
	wd, _ := os.Getwd()
	return &types.EffectiveConfigSnapshot{
		Runner: types.RunnerConfigSnapshot{
			Concurrency:               c.Concurrency,
			FailFast:                  c.FailFast,
			MaxRetries:                c.MaxRetries,
			RetryTags:                 c.RetryTags,
			RetryAfter:                c.RetryAfter,
			StepTimeout:               c.StepTimeout,
			AfterFailureFailsScenario: c.AfterFailureFailsScenario,
			MaxBufferedBatches:        c.MaxBufferedBatches,
			ShowProgress:              c.ShowProgress,
			ProgressInterval:          c.ProgressInterval,
		},
		Selection: types.SelectionConfigSnapshot{
			Tags:      c.Tags,
			Name:      c.Name,
			SerialTag: c.SerialTag,
		},
		Output: types.OutputConfigSnapshot{
			Formats:       formats,
			RepeatFailed:  c.RepeatFailed,
			RepeatSkipped: c.RepeatSkipped,
			RedisStream:   c.redisStreamIfEnabled(),
		},
		Execution: types.ExecutionConfigSnapshot{
			RunInterval:          c.RunInterval,
			RunOnce:              c.RunOnce,
			FlakeShake:           c.FlakeShake,
			FlakeShakeIterations: c.FlakeShakeIterations,
		},
		Paths: types.PathsConfigSnapshot{
			Features:   c.Features,
			ConfigFile: c.ConfigFile,
			OutputDir:  c.OutputDir,
			WorkDir:    wd,
		},
		RunID: runID,
	}
}

func (c *Config) redisStreamIfEnabled() string {
	if c.RedisURL == "" {
		return ""
	}
	return c.RedisStream
}

func parseTagExpr(s string) (tagexpr.Expr, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return tagexpr.Parse(s)
}
