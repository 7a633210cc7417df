package runner

import "time"

// Execution defaults
const (
	// DefaultMaxConcurrency is the number of concurrent lane slots when none is configured
	DefaultMaxConcurrency = 8

	// MaxReasonableConcurrency is the level above which a warning is logged
	MaxReasonableConcurrency = 32

	// DefaultRetryBackoff is the delay before the first retry when backoff is enabled
	DefaultRetryBackoff = 100 * time.Millisecond

	// DefaultRetryBackoffFactor multiplies the delay after every retry
	DefaultRetryBackoffFactor = 2.0

	// DefaultRetryBackoffMax caps the delay between retries
	DefaultRetryBackoffMax = 10 * time.Second

	// maxFailureLogs caps the failure messages kept per scenario in a flake-shake report
	maxFailureLogs = 5
)
