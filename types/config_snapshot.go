package types

import "time"

// EffectiveConfigSnapshot represents the effective runtime configuration grouped by domain.
type EffectiveConfigSnapshot struct {
	Runner    RunnerConfigSnapshot    `json:"runner"`
	Selection SelectionConfigSnapshot `json:"selection"`
	Output    OutputConfigSnapshot    `json:"output"`
	Execution ExecutionConfigSnapshot `json:"execution"`
	Paths     PathsConfigSnapshot     `json:"paths"`

	RunID string `json:"runId,omitempty"`
}

type RunnerConfigSnapshot struct {
	Concurrency               int           `json:"concurrency"`
	FailFast                  bool          `json:"failFast"`
	MaxRetries                int           `json:"maxRetries"`
	RetryTags                 string        `json:"retryTags,omitempty"`
	RetryAfter                time.Duration `json:"retryAfter"`
	StepTimeout               time.Duration `json:"stepTimeout"`
	AfterFailureFailsScenario bool          `json:"afterFailureFailsScenario"`
	MaxBufferedBatches        int           `json:"maxBufferedBatches"`
	ShowProgress              bool          `json:"showProgress"`
	ProgressInterval          time.Duration `json:"progressInterval"`
}

type SelectionConfigSnapshot struct {
	Tags      string `json:"tags,omitempty"`
	Name      string `json:"name,omitempty"`
	SerialTag string `json:"serialTag"`
}

type OutputConfigSnapshot struct {
	Formats       []string `json:"formats"`
	RepeatFailed  bool     `json:"repeatFailed"`
	RepeatSkipped bool     `json:"repeatSkipped"`
	RedisStream   string   `json:"redisStream,omitempty"`
}

type ExecutionConfigSnapshot struct {
	RunInterval          time.Duration `json:"runInterval"`
	RunOnce              bool          `json:"runOnce"`
	FlakeShake           bool          `json:"flakeShake"`
	FlakeShakeIterations int           `json:"flakeShakeIterations,omitempty"`
}

type PathsConfigSnapshot struct {
	Features   string `json:"features"`
	ConfigFile string `json:"configFile,omitempty"`
	OutputDir  string `json:"outputDir"`
	WorkDir    string `json:"workDir"`
}
