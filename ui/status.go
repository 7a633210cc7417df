package ui

import (
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// StatusGlyph returns the single character used for a status.
func StatusGlyph(status types.Status) string {
	switch status {
	case types.StatusPassed:
		return "✓"
	case types.StatusFailed:
		return "✗"
	case types.StatusSkipped:
		return "⊝"
	default:
		return "?"
	}
}

// StatusColors returns the terminal colors for a status.
func StatusColors(status types.Status) text.Colors {
	switch status {
	case types.StatusPassed:
		return text.Colors{text.FgGreen}
	case types.StatusFailed:
		return text.Colors{text.FgRed}
	case types.StatusSkipped:
		return text.Colors{text.FgCyan}
	default:
		return text.Colors{text.FgYellow}
	}
}

// Colorize renders s in the colors of status when color is enabled.
func Colorize(status types.Status, s string, color bool) string {
	if !color {
		return s
	}
	return StatusColors(status).Sprint(s)
}
