package supervisor

import (
	"errors"

	"github.com/randomizedcoder/go-managed-exec/internal/platform"
	"github.com/randomizedcoder/go-managed-exec/internal/stream"
)

// Launch failures. Start returns a *LaunchError matching one of
// ErrPipeCreation, ErrFork or ErrExec.
type (
	LaunchError     = platform.LaunchError
	LaunchErrorKind = platform.LaunchErrorKind
)

const (
	PipeCreationFailed = platform.PipeCreationFailed
	ForkFailed         = platform.ForkFailed
	ExecFailed         = platform.ExecFailed
)

var (
	ErrPipeCreation = platform.ErrPipeCreation
	ErrFork         = platform.ErrFork
	ErrExec         = platform.ErrExec
)

var (
	// ErrNotStarted is returned by Wait and Write before a successful Start.
	ErrNotStarted = errors.New("process not started")

	// ErrAlreadyReaped is returned by Wait when another call collected the
	// exit status first. The recorded status is returned alongside it.
	ErrAlreadyReaped = errors.New("process already reaped")

	// ErrStillRunning is returned by a non-blocking Wait on a live child.
	ErrStillRunning = errors.New("process still running")

	// ErrStdinClosed is returned by Write after CloseStdin or Terminate.
	ErrStdinClosed = stream.ErrClosed

	// ErrTerminated is returned by Start once Terminate has run.
	ErrTerminated = errors.New("process terminated")
)
