package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-managed-exec/internal/stats"
	"github.com/randomizedcoder/go-managed-exec/internal/supervisor"
)

// Rows used by everything except the output pane.
const chromeRows = 20

// ladder is the termination sequence shown in the lifecycle box.
var ladder = []supervisor.State{
	supervisor.StateRunning,
	supervisor.StateStdinClosed,
	supervisor.StateSigTermSent,
	supervisor.StateSigKillSent,
	supervisor.StateReaped,
}

// =============================================================================
// Main View Rendering
// =============================================================================

func (m Model) renderView() string {
	sections := []string{
		m.renderHeader(),
		m.renderLifecycle(),
		m.renderStreams(),
		m.renderOutput(),
		m.renderInput(),
		m.renderFooter(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	pid := "-"
	if m.status.Pid > 0 {
		pid = strconv.Itoa(m.status.Pid)
	}
	header := fmt.Sprintf(
		" managed-exec │ %s │ pid %s │ Elapsed: %s ",
		m.status.State,
		pid,
		stats.FormatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Lifecycle
// =============================================================================

func (m Model) renderLifecycle() string {
	rows := []string{
		sectionHeaderStyle.Render("Lifecycle"),
		RenderKeyValue("Command", truncate(m.command, m.width-26)),
		RenderKeyValue("State", GetStateLabel(m.status.State)),
		renderLadder(m.status.State),
	}
	if m.status.Exited {
		exit := GetExitStyle(m.status.Exit).Render(m.status.Exit.String())
		rows = append(rows, RenderKeyValue("Exit", exit))
	}
	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// renderLadder shows every termination step, marking those already taken.
func renderLadder(current supervisor.State) string {
	parts := make([]string, 0, len(ladder))
	for _, s := range ladder {
		switch {
		case s == current:
			parts = append(parts, GetStateStyle(s).Render("["+s.String()+"]"))
		case s < current:
			parts = append(parts, mutedStyle.Render(s.String()))
		default:
			parts = append(parts, dimStyle.Render(s.String()))
		}
	}
	return strings.Join(parts, dimStyle.Render(" → "))
}

// =============================================================================
// Streams
// =============================================================================

func (m Model) renderStreams() string {
	s := m.status.Stats
	rows := []string{
		sectionHeaderStyle.Render("Streams"),
		renderStreamRow("Output", s.BytesOut, s.CurrentOutputRate(), s.Chunks, "chunks"),
		renderStreamRow("Input", s.BytesIn, s.CurrentInputRate(), s.Writes, "writes"),
	}
	if s.ChunkSizes.Count > 0 {
		rows = append(rows, RenderKeyValue("Chunk P50/P99",
			stats.FormatBytes(int64(s.ChunkSizes.P50))+" / "+stats.FormatBytes(int64(s.ChunkSizes.P99))))
	}
	if s.WriteLatency.Count > 0 {
		rows = append(rows, RenderKeyValue("Write P50/P99",
			stats.FormatMs(time.Duration(s.WriteLatency.P50))+" / "+stats.FormatMs(time.Duration(s.WriteLatency.P99))))
	}
	if s.WriteErrors > 0 {
		rows = append(rows, RenderKeyValue("Write errors", statusError.Render(stats.FormatNumber(s.WriteErrors))))
	}
	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func renderStreamRow(label string, bytes int64, rate float64, ops int64, unit string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Width(12).Render(stats.FormatBytes(bytes)),
		mutedStyle.Render(" ("),
		valueStyle.Render(stats.FormatBytes(int64(rate))+"/s"),
		mutedStyle.Render(", "+stats.FormatNumber(ops)+" "+unit+")"),
	)
}

// =============================================================================
// Output
// =============================================================================

// outputRows is how many recent lines fit on screen.
func (m Model) outputRows() int {
	n := m.height - chromeRows
	if n < 3 {
		n = 3
	}
	return n
}

func (m Model) renderOutput() string {
	lines := m.status.RecentLines
	if n := m.outputRows(); len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	rows := []string{sectionHeaderStyle.Render("Recent Output")}
	if len(lines) == 0 {
		rows = append(rows, dimStyle.Render("(no output yet)"))
	}
	for _, l := range lines {
		rows = append(rows, truncate(l, m.width-6))
	}
	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Input
// =============================================================================

func (m Model) renderInput() string {
	if m.stdinClosed {
		return dimStyle.Render("stdin closed")
	}
	line := promptStyle.Render("> ") + string(m.input) + "█"
	if m.notice != "" {
		style := mutedStyle
		if m.noticeBad {
			style = statusError
		}
		line += "  " + style.Render(m.notice)
	}
	return line
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"enter: send line",
		"ctrl+d: close stdin",
		"ctrl+t: terminate",
		"esc: terminate & quit",
	}
	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	if m.metricsAddr == "" {
		return footerStyle.Render(left)
	}

	right := dimStyle.Render("Metrics: http://" + m.metricsAddr + "/metrics")
	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}
	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

// =============================================================================
// Helpers
// =============================================================================

// truncate shortens s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	r := []rune(s)
	if max < 4 || len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// quoteLine renders a sent line for the notice area.
func quoteLine(s string) string {
	return strconv.Quote(truncate(s, 40))
}
