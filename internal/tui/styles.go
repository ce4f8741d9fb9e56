// Package tui provides a live terminal dashboard for a supervised child,
// built on Bubble Tea and styled with Lipgloss. It shows the lifecycle
// state against the termination ladder, stream counters, recent output,
// and an input line that is forwarded to the child's stdin.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-managed-exec/internal/supervisor"
)

// Palette.
var (
	colorAccent  = lipgloss.Color("#7C3AED")
	colorHeading = lipgloss.Color("#06B6D4")

	colorSuccess = lipgloss.Color("#10B981")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorInfo    = lipgloss.Color("#3B82F6")

	colorText   = lipgloss.Color("#E5E7EB")
	colorMuted  = lipgloss.Color("#9CA3AF")
	colorDim    = lipgloss.Color("#6B7280")
	colorBorder = lipgloss.Color("#374151")
)

// stateColors maps each step of the lifecycle to its indicator color.
// States not listed render muted.
var stateColors = map[supervisor.State]lipgloss.Color{
	supervisor.StateRunning:     colorSuccess,
	supervisor.StateStdinClosed: colorInfo,
	supervisor.StateSigTermSent: colorWarning,
	supervisor.StateSigKillSent: colorError,
}

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
func strong(c lipgloss.Color) lipgloss.Style { return fg(c).Bold(true) }

var (
	mutedStyle  = fg(colorMuted)
	dimStyle    = fg(colorDim)
	valueStyle  = strong(colorText)
	statusError = strong(colorError)
	promptStyle = strong(colorHeading)
	labelStyle  = fg(colorMuted).Width(20)
	footerStyle = fg(colorMuted).MarginTop(1)

	headerStyle = strong(colorText).
			Background(colorAccent).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = strong(colorHeading).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

// GetStateStyle returns the style for a lifecycle state.
func GetStateStyle(s supervisor.State) lipgloss.Style {
	if c, ok := stateColors[s]; ok {
		return strong(c)
	}
	return mutedStyle
}

// GetStateLabel returns a styled state name with a status dot.
func GetStateLabel(s supervisor.State) string {
	return GetStateStyle(s).Render("● " + s.String())
}

// GetExitStyle colors a clean exit green, a signal amber and anything
// else red.
func GetExitStyle(status supervisor.ExitStatus) lipgloss.Style {
	switch {
	case status.Success():
		return strong(colorSuccess)
	case status.Signaled():
		return strong(colorWarning)
	default:
		return statusError
	}
}

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return labelStyle.Render(label+":") + valueStyle.Render(value)
}
