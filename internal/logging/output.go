package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

const (
	// MaxLineLength is the maximum length of a single line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept for the summary.
	MaxBufferedLines = 100

	// DefaultLinesPerSecond bounds how many child lines reach the log.
	DefaultLinesPerSecond = 50
)

// OutputHandler splits a child's raw output into lines, keeps the most
// recent ones, and logs them at a level chosen from their content. Logging
// is rate limited so a chatty child cannot flood the log; lines over the
// limit are still buffered and counted.
type OutputHandler struct {
	logger  *slog.Logger
	verbose bool
	limiter *rate.Limiter

	mu      sync.Mutex
	partial []byte
	buffer  []string
	bufIdx  int
	count   int

	lines     atomic.Int64
	throttled atomic.Int64
}

// NewOutputHandler creates a handler. linesPerSecond <= 0 disables the
// rate limit.
func NewOutputHandler(logger *slog.Logger, verbose bool, linesPerSecond float64) *OutputHandler {
	limit := rate.Inf
	burst := 0
	if linesPerSecond > 0 {
		limit = rate.Limit(linesPerSecond)
		burst = int(linesPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &OutputHandler{
		logger:  logger,
		verbose: verbose,
		limiter: rate.NewLimiter(limit, burst),
		buffer:  make([]string, MaxBufferedLines),
	}
}

// Write accepts a chunk of output. Lines may span chunks; the unterminated
// tail is held until the next Write or Flush. It never fails.
func (h *OutputHandler) Write(p []byte) (int, error) {
	h.mu.Lock()
	data := append(h.partial, p...)
	var complete []string
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		complete = append(complete, strings.TrimSuffix(string(data[:i]), "\r"))
		data = data[i+1:]
	}
	if len(data) > MaxLineLength {
		complete = append(complete, string(data))
		data = nil
	}
	h.partial = append([]byte(nil), data...)
	h.mu.Unlock()

	for _, line := range complete {
		h.HandleLine(line)
	}
	return len(p), nil
}

// Flush handles any unterminated tail as a final line.
func (h *OutputHandler) Flush() {
	h.mu.Lock()
	tail := h.partial
	h.partial = nil
	h.mu.Unlock()
	if len(tail) > 0 {
		h.HandleLine(string(tail))
	}
}

// HandleLine processes a single line of output.
func (h *OutputHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	if h.count < MaxBufferedLines {
		h.count++
	}
	h.mu.Unlock()
	h.lines.Add(1)

	level := classifyLine(line)
	if !h.verbose && level == slog.LevelDebug {
		return
	}
	if !h.limiter.Allow() {
		h.throttled.Add(1)
		return
	}
	h.logger.Log(context.Background(), level, "child_output", "line", line)
}

// classifyLine determines the log level for a line based on content.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	if strings.Contains(lower, "fatal") ||
		strings.Contains(lower, "panic") ||
		strings.Contains(lower, "error") {
		return slog.LevelWarn
	}
	if strings.Contains(lower, "warn") {
		return slog.LevelWarn
	}
	return slog.LevelDebug
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > h.count {
		n = h.count
	}
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		lines = append(lines, h.buffer[idx])
	}
	return lines
}

// Lines returns the number of lines handled.
func (h *OutputHandler) Lines() int64 {
	return h.lines.Load()
}

// Throttled returns the number of lines the rate limit kept out of the log.
func (h *OutputHandler) Throttled() int64 {
	return h.throttled.Load()
}

// ErrorPatterns are matched by CountErrors.
var ErrorPatterns = []string{
	"error",
	"fatal",
	"panic",
	"warn",
	"denied",
	"not found",
	"timeout",
}

// CountErrors counts buffered lines matching each of ErrorPatterns,
// case-insensitively.
func (h *OutputHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)
	for i := 0; i < h.count; i++ {
		lower := strings.ToLower(h.buffer[i])
		for _, pattern := range ErrorPatterns {
			if strings.Contains(lower, pattern) {
				counts[pattern]++
			}
		}
	}
	return counts
}
