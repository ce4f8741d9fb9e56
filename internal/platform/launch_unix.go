//go:build unix

package platform

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// openPipe returns the parent and child ends of a new pipe. The parent end
// is non-blocking so the runtime poller owns it and Close from another
// goroutine unblocks a pending Read.
func openPipe(name string, parentReads bool) (parent, child *os.File, err error) {
	r, w, err := newPipe()
	if err != nil {
		return nil, nil, os.NewSyscallError("pipe", err)
	}
	pfd, cfd := w, r
	if parentReads {
		pfd, cfd = r, w
	}
	if err := unix.SetNonblock(pfd, true); err != nil {
		unix.Close(r)
		unix.Close(w)
		return nil, nil, os.NewSyscallError("setnonblock", err)
	}
	return os.NewFile(uintptr(pfd), "|"+name), os.NewFile(uintptr(cfd), "|"+name+".child"), nil
}

// Launch spawns the child described by spec.
//
// syscall.ForkExec carries its own close-on-exec status pipe: the child
// reports a failed dup2, chdir or execve through it and the parent reads EOF
// only once exec has succeeded. The child inherits exactly fds 0-2; every
// other descriptor the runtime opens is close-on-exec, and the runtime
// restores default signal dispositions (SIGPIPE included) before exec.
func Launch(spec Spec) (Process, error) {
	if len(spec.Argv) == 0 {
		return nil, launchError(ExecFailed, spec.Argv, ErrEmptyArgv)
	}

	pipes, err := NewPipeSet(spec.Stderr)
	if err != nil {
		return nil, launchError(PipeCreationFailed, spec.Argv, err)
	}

	files := pipes.ChildFiles()
	attr := &syscall.ProcAttr{
		Dir:   spec.Dir,
		Env:   spec.Env,
		Files: []uintptr{files[0].Fd(), files[1].Fd(), files[2].Fd()},
		Sys:   &syscall.SysProcAttr{Setpgid: spec.ProcessGroup},
	}

	pid, err := syscall.ForkExec(spec.Argv[0], spec.Argv, attr)
	pipes.CloseChildEnds()
	if err != nil {
		pipes.Close()
		return nil, launchError(classifyStartError(err), spec.Argv, err)
	}

	return &unixProcess{
		pid:    pid,
		group:  spec.ProcessGroup,
		stdin:  pipes.StdinParent,
		stdout: pipes.StdoutParent,
	}, nil
}

// classifyStartError separates failures to create the process from failures
// reported by the child. ForkExec returns clone errors directly; everything
// else comes from the child through the status pipe. Both arrive as a bare
// errno, so the split is a heuristic: execve can also fail with ENOMEM or
// EAGAIN and is then reported as ForkFailed.
func classifyStartError(err error) LaunchErrorKind {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return ExecFailed
	}
	switch errno {
	case unix.EAGAIN, unix.ENOMEM, unix.ENOSYS:
		return ForkFailed
	case unix.EMFILE, unix.ENFILE:
		return PipeCreationFailed
	default:
		return ExecFailed
	}
}

type unixProcess struct {
	pid    int
	group  bool
	stdin  *FD
	stdout *FD

	// reapMu serializes wait4. Poll only try-locks it.
	reapMu sync.Mutex
	status atomic.Pointer[ExitStatus]
}

func (p *unixProcess) Pid() int    { return p.pid }
func (p *unixProcess) Stdin() *FD  { return p.stdin }
func (p *unixProcess) Stdout() *FD { return p.stdout }

func (p *unixProcess) Poll() (ExitStatus, bool, error) {
	if st := p.status.Load(); st != nil {
		return *st, true, nil
	}
	// A blocking Wait is parked in wait4 and will record the status.
	if !p.reapMu.TryLock() {
		return ExitStatus{}, false, nil
	}
	defer p.reapMu.Unlock()
	return p.wait4(unix.WNOHANG)
}

func (p *unixProcess) Wait() (ExitStatus, error) {
	if st := p.status.Load(); st != nil {
		return *st, nil
	}
	p.reapMu.Lock()
	defer p.reapMu.Unlock()
	st, _, err := p.wait4(0)
	return st, err
}

// wait4 must be called with reapMu held.
func (p *unixProcess) wait4(options int) (ExitStatus, bool, error) {
	if st := p.status.Load(); st != nil {
		return *st, true, nil
	}
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(p.pid, &ws, options, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ExitStatus{}, false, os.NewSyscallError("wait4", err)
		}
		if wpid == 0 {
			return ExitStatus{}, false, nil
		}
		break
	}
	st := toExitStatus(ws)
	p.status.Store(&st)
	return st, true, nil
}

func toExitStatus(ws unix.WaitStatus) ExitStatus {
	if ws.Signaled() {
		return ExitStatus{Code: -1, Signal: int(ws.Signal())}
	}
	return ExitStatus{Code: ws.ExitStatus()}
}

func (p *unixProcess) Interrupt() error { return p.signal(unix.SIGTERM) }
func (p *unixProcess) Kill() error      { return p.signal(unix.SIGKILL) }

func (p *unixProcess) signal(sig unix.Signal) error {
	// Once reaped the pid may belong to someone else.
	if p.status.Load() != nil {
		return nil
	}
	target := p.pid
	if p.group {
		target = -p.pid
	}
	err := unix.Kill(target, sig)
	if err == nil || err == unix.ESRCH {
		return nil
	}
	return fmt.Errorf("signal %v to %d: %w", sig, target, err)
}

func (p *unixProcess) SetPriority(nice int) error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, p.pid, nice); err != nil {
		return os.NewSyscallError("setpriority", err)
	}
	return nil
}

func (p *unixProcess) Release() error {
	return errors.Join(p.stdin.Close(), p.stdout.Close())
}
