package templates

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// GetTemplateFunc returns the template functions shared by the HTML reports.
func GetTemplateFunc() template.FuncMap {
	return template.FuncMap{
		"formatDuration": FormatDuration,
		"getStatusText":  getStatusString,
		"lower":          strings.ToLower,

		"formatPercent": func(pct float64) string {
			return fmt.Sprintf("%.1f%%", pct)
		},
		"getStatusClass": func(status types.Status) string {
			return "status-" + getStatusString(status)
		},
		"getOverallStatus": func(passed, failed, skipped int) types.Status {
			if failed > 0 {
				return types.StatusFailed
			}
			if passed > 0 {
				return types.StatusPassed
			}
			if skipped > 0 {
				return types.StatusSkipped
			}
			return ""
		},
	}
}

// FormatDuration renders sub-second durations in milliseconds and longer
// ones truncated to the millisecond.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

func getStatusString(status types.Status) string {
	switch status {
	case types.StatusPassed:
		return "pass"
	case types.StatusFailed:
		return "fail"
	case types.StatusSkipped:
		return "skip"
	default:
		return "unknown"
	}
}
