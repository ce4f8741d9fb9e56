package stats

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"syscall"
	"time"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// Command is the display form of the supervised command.
	Command string

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// ExitCodes is a map of exit codes to counts (from metrics.Collector)
	ExitCodes map[int]int64
}

const (
	heavyRule = "═══════════════════════════════════════════════════════════════════════════════\n"
	lightRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// FormatExitSummary formats run stats for display at program exit.
func FormatExitSummary(s Snapshot, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(heavyRule)
	b.WriteString("                          managed-exec Exit Summary\n")
	b.WriteString(heavyRule + "\n")

	if cfg.Command != "" {
		fmt.Fprintf(&b, "Command:                %s\n", cfg.Command)
	}
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(s.Elapsed))

	if s.LaunchErr != nil {
		fmt.Fprintf(&b, "Launch:                 FAILED: %v\n\n", s.LaunchErr)
		b.WriteString(heavyRule)
		return b.String()
	}

	if s.Pid > 0 {
		fmt.Fprintf(&b, "PID:                    %d\n", s.Pid)
	}
	if s.Exited {
		fmt.Fprintf(&b, "Exit:                   %s %s\n", s.Exit, exitCodeLabel(s.Exit.ExitCode()))
		fmt.Fprintf(&b, "Uptime:                 %s\n", FormatMs(s.Uptime))
	} else {
		b.WriteString("Exit:                   (not reaped)\n")
	}
	if s.Stage != 0 {
		fmt.Fprintf(&b, "Shutdown:               %s after %s\n", s.Stage, FormatMs(s.TerminateTime))
	}
	b.WriteString("\n")

	// Streams
	b.WriteString(lightRule)
	b.WriteString("                                   Streams\n")
	b.WriteString(lightRule + "\n")

	fmt.Fprintf(&b, "  %-20s %12s %12s %12s\n", "Direction", "Bytes", "Rate", "Ops")
	b.WriteString("  " + strings.Repeat("─", 58) + "\n")
	fmt.Fprintf(&b, "  %-20s %12s %12s %12s\n",
		"Output (stdout)",
		FormatBytes(s.BytesOut),
		FormatBytes(int64(s.OutputRate()))+"/s",
		FormatNumber(s.Chunks),
	)
	fmt.Fprintf(&b, "  %-20s %12s %12s %12s\n",
		"Input (stdin)",
		FormatBytes(s.BytesIn),
		FormatBytes(int64(s.InputRate()))+"/s",
		FormatNumber(s.Writes),
	)
	if s.FirstOutput > 0 {
		fmt.Fprintf(&b, "\n  First output after:   %s\n", FormatMs(s.FirstOutput))
	}
	b.WriteString("\n")

	if s.ChunkSizes.Count > 0 {
		b.WriteString("  Chunk size:\n")
		fmt.Fprintf(&b, "    P50: %-10s P95: %-10s P99: %-10s Max: %s\n",
			FormatBytes(int64(s.ChunkSizes.P50)),
			FormatBytes(int64(s.ChunkSizes.P95)),
			FormatBytes(int64(s.ChunkSizes.P99)),
			FormatBytes(int64(s.ChunkSizes.Max)),
		)
	}
	if s.WriteLatency.Count > 0 {
		b.WriteString("  Write latency:\n")
		fmt.Fprintf(&b, "    P50: %-10s P95: %-10s P99: %-10s Max: %s\n",
			FormatMs(time.Duration(s.WriteLatency.P50)),
			FormatMs(time.Duration(s.WriteLatency.P95)),
			FormatMs(time.Duration(s.WriteLatency.P99)),
			FormatMs(time.Duration(s.WriteLatency.Max)),
		)
	}
	if s.ChunkSizes.Count > 0 || s.WriteLatency.Count > 0 {
		b.WriteString("\n")
	}

	if fn := renderFootnotes(s, cfg); fn != "" {
		b.WriteString(fn)
	}

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}
	b.WriteString(heavyRule)

	return b.String()
}

// renderFootnotes adds diagnostic info that doesn't belong in main metrics.
func renderFootnotes(s Snapshot, cfg SummaryConfig) string {
	var footnotes []string

	if s.WriteErrors > 0 {
		footnotes = append(footnotes, fmt.Sprintf(
			"[1] Failed writes to stdin: %d (child closed its input or stopped reading)",
			s.WriteErrors))
	}
	if s.EventsDropped > 0 {
		footnotes = append(footnotes, fmt.Sprintf(
			"[2] Output events dropped at shutdown: %d",
			s.EventsDropped))
	}
	if len(cfg.ExitCodes) > 1 {
		var parts []string
		for _, code := range slices.Sorted(maps.Keys(cfg.ExitCodes)) {
			parts = append(parts, fmt.Sprintf("%d×%d", code, cfg.ExitCodes[code]))
		}
		footnotes = append(footnotes, "[3] Exit codes seen: "+strings.Join(parts, ", "))
	}

	if len(footnotes) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(lightRule)
	b.WriteString("                                 Footnotes\n")
	b.WriteString(lightRule + "\n")
	for _, fn := range footnotes {
		fmt.Fprintf(&b, "  %s\n", fn)
	}
	b.WriteString("\n")
	return b.String()
}

// exitCodeLabel returns a human-readable label for an exit code.
// Codes above 128 are named after the signal they encode.
func exitCodeLabel(code int) string {
	switch {
	case code == 0:
		return "(clean)"
	case code == 1:
		return "(error)"
	case code == 128+int(syscall.SIGKILL):
		return "(SIGKILL)"
	case code == 128+int(syscall.SIGTERM):
		return "(SIGTERM)"
	case code == 128+int(syscall.SIGINT):
		return "(SIGINT)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}
