package stream

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-managed-exec/internal/retry"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("stdin closed")

// Target is the parent's end of the child's stdin.
type Target interface {
	io.WriteCloser
	SetWriteDeadline(t time.Time) error
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	// AttemptTimeout bounds each write attempt so a child that stops
	// draining stdin surfaces as a retryable timeout (default: 50ms).
	AttemptTimeout time.Duration

	// Retry bounds the pauses between stalled attempts. A zero
	// MaxAttempts means 20.
	Retry retry.Config

	Logger *slog.Logger
}

// DefaultWriterConfig returns the writer defaults.
func DefaultWriterConfig() WriterConfig {
	r := retry.DefaultConfig()
	r.MaxAttempts = 20
	return WriterConfig{
		AttemptTimeout: 50 * time.Millisecond,
		Retry:          r,
	}
}

// Writer serializes writes to a child's stdin. Its lock is shared with the
// termination sequence so no write can race the close of the pipe.
type Writer struct {
	mu     sync.Mutex
	target Target
	config WriterConfig
	logger *slog.Logger
	closed bool

	// noDeadline is set once the target reports it cannot time out writes.
	noDeadline bool

	bytesWritten atomic.Int64
	writes       atomic.Int64
}

// NewWriter creates a Writer over target. The Writer owns target.
func NewWriter(target Target, cfg WriterConfig) *Writer {
	def := DefaultWriterConfig()
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.Retry == (retry.Config{}) {
		cfg.Retry = def.Retry
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Writer{target: target, config: cfg, logger: logger}
}

// Locker exposes the write lock.
func (w *Writer) Locker() sync.Locker {
	return &w.mu
}

// Write writes all of p unless a hard error occurs or the retry budget runs
// out, returning the count written so far. After Close it returns
// (0, ErrClosed).
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.WriteLocked(p)
}

// WriteLocked is Write for callers already holding Locker.
func (w *Writer) WriteLocked(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}

	backoff := retry.NewBackoff(w.config.Retry)
	total := 0
	var err error
	for total < len(p) {
		w.armDeadline()
		var n int
		n, err = w.target.Write(p[total:])
		total += n
		if n > 0 {
			backoff.Reset()
		}
		if err == nil {
			continue
		}
		if retry.IsTransient(err) && backoff.Pause() {
			continue
		}
		break
	}
	w.clearDeadline()
	w.flush()

	w.bytesWritten.Add(int64(total))
	w.writes.Add(1)
	if err != nil {
		w.logger.Debug("stdin_write_failed", "written", total, "requested", len(p), "error", err)
	}
	return total, err
}

func (w *Writer) armDeadline() {
	if w.noDeadline {
		return
	}
	if err := w.target.SetWriteDeadline(time.Now().Add(w.config.AttemptTimeout)); err != nil {
		w.noDeadline = true
	}
}

func (w *Writer) clearDeadline() {
	if !w.noDeadline {
		w.target.SetWriteDeadline(time.Time{})
	}
}

// flush syncs the descriptor where the target supports it. Pipes reject
// fsync, so the result is ignored.
func (w *Writer) flush() {
	if s, ok := w.target.(interface{ Sync() error }); ok {
		s.Sync()
	}
}

// Close closes the target once. Later calls return nil.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.CloseLocked()
}

// CloseLocked is Close for callers already holding Locker.
func (w *Writer) CloseLocked() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.target.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// Closed reports whether Close has been called.
func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// BytesWritten returns the total bytes accepted by the child.
func (w *Writer) BytesWritten() int64 {
	return w.bytesWritten.Load()
}

// Writes returns the number of Write calls that reached the target.
func (w *Writer) Writes() int64 {
	return w.writes.Load()
}
