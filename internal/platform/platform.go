// Package platform spawns a child process wired to byte pipes and exposes
// the operating system primitives the supervisor needs to observe and stop
// it. POSIX and Windows implementations are selected by build tags; callers
// only see the Process interface.
package platform

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Process is a launched child. Implementations are safe for concurrent use;
// Poll never blocks.
type Process interface {
	// Pid returns the OS process identifier.
	Pid() int

	// Stdin is the parent's write end of the child's standard input.
	Stdin() *FD

	// Stdout is the parent's read end of the child's standard output.
	Stdout() *FD

	// Poll reports whether the child has exited, reaping it if so.
	Poll() (status ExitStatus, exited bool, err error)

	// Wait blocks until the child exits and reaps it. Once reaped, Wait and
	// Poll keep returning the recorded status.
	Wait() (ExitStatus, error)

	// Interrupt asks the child to stop (SIGTERM, or WM_CLOSE on Windows).
	// A child that is already gone is not an error.
	Interrupt() error

	// Kill stops the child forcibly (SIGKILL, or TerminateProcess).
	// A child that is already gone is not an error.
	Kill() error

	// SetPriority adjusts the scheduling priority using nice semantics:
	// positive values lower the priority.
	SetPriority(nice int) error

	// Release closes the parent pipe ends and any OS handle. It does not
	// reap the child.
	Release() error
}

// Spec describes a launch.
type Spec struct {
	// Argv is the full argument vector; Argv[0] is the resolved program path.
	Argv []string

	// Env is the KEY=VALUE environment handed to the child.
	Env []string

	// Dir is the working directory. Empty inherits the parent's.
	Dir string

	Stderr StderrMode

	// ProcessGroup starts the child in its own process group and delivers
	// Interrupt and Kill to the whole group.
	ProcessGroup bool
}

// StderrMode selects where the child's standard error goes.
type StderrMode int

const (
	// StderrKeep leaves stderr attached to the parent's own stderr.
	StderrKeep StderrMode = iota
	// StderrDiscard attaches stderr to the null device.
	StderrDiscard
	// StderrMerge sends stderr into the stdout pipe.
	StderrMerge
)

var stderrModeNames = [...]string{"keep", "discard", "merge"}

func (m StderrMode) String() string {
	if m < 0 || int(m) >= len(stderrModeNames) {
		return fmt.Sprintf("StderrMode(%d)", int(m))
	}
	return stderrModeNames[m]
}

// ParseStderrMode parses "keep", "discard" or "merge".
func ParseStderrMode(s string) (StderrMode, error) {
	for i, name := range stderrModeNames {
		if strings.EqualFold(s, name) {
			return StderrMode(i), nil
		}
	}
	return StderrKeep, fmt.Errorf("invalid stderr mode %q (want keep, discard or merge)", s)
}

// ExitStatus is the reaped status of a child.
type ExitStatus struct {
	// Code is the exit code, or -1 when the child was killed by a signal.
	Code int

	// Signal is the terminating signal number, 0 when the child exited.
	Signal int
}

// Signaled reports whether the child was terminated by a signal.
func (s ExitStatus) Signaled() bool {
	return s.Signal != 0
}

// ExitCode returns the shell-style exit code: the child's own code, or
// 128+signal when it was killed.
func (s ExitStatus) ExitCode() int {
	if s.Signal != 0 {
		return 128 + s.Signal
	}
	return s.Code
}

// Success reports a normal exit with code 0.
func (s ExitStatus) Success() bool {
	return s.Signal == 0 && s.Code == 0
}

func (s ExitStatus) String() string {
	if s.Signal != 0 {
		return "signal: " + syscall.Signal(s.Signal).String()
	}
	return fmt.Sprintf("exit status %d", s.Code)
}

// LaunchErrorKind classifies launch failures.
type LaunchErrorKind int

const (
	// PipeCreationFailed means a pipe or the null device could not be opened.
	PipeCreationFailed LaunchErrorKind = iota + 1
	// ForkFailed means the OS refused to create the process.
	ForkFailed
	// ExecFailed means the child was created but could not load the program.
	ExecFailed
)

// Sentinels matched by errors.Is against a *LaunchError.
var (
	ErrPipeCreation = errors.New("pipe creation failed")
	ErrFork         = errors.New("fork failed")
	ErrExec         = errors.New("exec failed")
)

func (k LaunchErrorKind) String() string {
	switch k {
	case PipeCreationFailed:
		return "PipeCreationFailed"
	case ForkFailed:
		return "ForkFailed"
	case ExecFailed:
		return "ExecFailed"
	default:
		return fmt.Sprintf("LaunchErrorKind(%d)", int(k))
	}
}

func (k LaunchErrorKind) sentinel() error {
	switch k {
	case PipeCreationFailed:
		return ErrPipeCreation
	case ForkFailed:
		return ErrFork
	case ExecFailed:
		return ErrExec
	}
	return nil
}

// LaunchError is returned by Launch. Every resource opened for the attempt
// has been released by the time it is returned.
type LaunchError struct {
	Kind    LaunchErrorKind
	Program string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v: %v", e.Program, e.Kind.sentinel(), e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *LaunchError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// ErrEmptyArgv is wrapped in an ExecFailed error when Spec.Argv is empty.
var ErrEmptyArgv = errors.New("empty argument vector")

func launchError(kind LaunchErrorKind, argv []string, err error) *LaunchError {
	program := ""
	if len(argv) > 0 {
		program = argv[0]
	}
	return &LaunchError{Kind: kind, Program: program, Err: err}
}
