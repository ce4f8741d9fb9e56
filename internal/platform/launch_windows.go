//go:build windows

package platform

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/windows"
)

const (
	wmClose = 0x0010
	wmQuit  = 0x0012
)

var (
	user32                 = windows.NewLazySystemDLL("user32.dll")
	procPostMessageW       = user32.NewProc("PostMessageW")
	procPostThreadMessageW = user32.NewProc("PostThreadMessageW")
	procEnumWindows        = user32.NewProc("EnumWindows")

	// One callback for the life of the process; the runtime caps how many
	// can be created.
	enumCallback     uintptr
	enumCallbackOnce sync.Once

	// enumStates maps the EnumWindows lparam to its collector.
	enumStates  sync.Map // uintptr -> *enumState
	enumNextKey atomic.Uintptr
)

// openPipe returns the parent and child ends of a new anonymous pipe.
// StartProcess duplicates the child end as inheritable.
func openPipe(name string, parentReads bool) (parent, child *os.File, err error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	if parentReads {
		return r, w, nil
	}
	return w, r, nil
}

// Launch spawns the child described by spec. CreateProcess reports a
// missing or unloadable image synchronously, so no status pipe is needed.
func Launch(spec Spec) (Process, error) {
	if len(spec.Argv) == 0 {
		return nil, launchError(ExecFailed, spec.Argv, ErrEmptyArgv)
	}

	pipes, err := NewPipeSet(spec.Stderr)
	if err != nil {
		return nil, launchError(PipeCreationFailed, spec.Argv, err)
	}

	files := pipes.ChildFiles()
	sys := &syscall.SysProcAttr{}
	if spec.ProcessGroup {
		sys.CreationFlags |= windows.CREATE_NEW_PROCESS_GROUP
	}
	attr := &syscall.ProcAttr{
		Dir:   spec.Dir,
		Env:   spec.Env,
		Files: []uintptr{files[0].Fd(), files[1].Fd(), files[2].Fd()},
		Sys:   sys,
	}

	pid, handle, err := syscall.StartProcess(spec.Argv[0], spec.Argv, attr)
	pipes.CloseChildEnds()
	if err != nil {
		pipes.Close()
		return nil, launchError(classifyStartError(err), spec.Argv, err)
	}

	return &windowsProcess{
		pid:    pid,
		handle: windows.Handle(handle),
		group:  spec.ProcessGroup,
		stdin:  pipes.StdinParent,
		stdout: pipes.StdoutParent,
	}, nil
}

func classifyStartError(err error) LaunchErrorKind {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case windows.ERROR_NOT_ENOUGH_MEMORY, windows.ERROR_OUTOFMEMORY:
			return ForkFailed
		case windows.ERROR_TOO_MANY_OPEN_FILES:
			return PipeCreationFailed
		}
	}
	return ExecFailed
}

type windowsProcess struct {
	pid    int
	handle windows.Handle
	group  bool
	stdin  *FD
	stdout *FD

	status      atomic.Pointer[ExitStatus]
	releaseOnce sync.Once
	releaseErr  error
}

func (p *windowsProcess) Pid() int    { return p.pid }
func (p *windowsProcess) Stdin() *FD  { return p.stdin }
func (p *windowsProcess) Stdout() *FD { return p.stdout }

func (p *windowsProcess) Poll() (ExitStatus, bool, error) {
	return p.wait(0)
}

func (p *windowsProcess) Wait() (ExitStatus, error) {
	st, _, err := p.wait(windows.INFINITE)
	return st, err
}

func (p *windowsProcess) wait(timeout uint32) (ExitStatus, bool, error) {
	if st := p.status.Load(); st != nil {
		return *st, true, nil
	}
	ev, err := windows.WaitForSingleObject(p.handle, timeout)
	switch {
	case err != nil:
		return ExitStatus{}, false, os.NewSyscallError("WaitForSingleObject", err)
	case ev == uint32(windows.WAIT_TIMEOUT):
		return ExitStatus{}, false, nil
	case ev != windows.WAIT_OBJECT_0:
		return ExitStatus{}, false, fmt.Errorf("WaitForSingleObject: unexpected result %d", ev)
	}
	var code uint32
	if err := windows.GetExitCodeProcess(p.handle, &code); err != nil {
		return ExitStatus{}, false, os.NewSyscallError("GetExitCodeProcess", err)
	}
	st := ExitStatus{Code: int(code)}
	p.status.Store(&st)
	return st, true, nil
}

// Interrupt posts WM_CLOSE to every top-level window the child owns and
// WM_QUIT to their threads. Console children in their own group also get
// CTRL_BREAK.
func (p *windowsProcess) Interrupt() error {
	if p.status.Load() != nil {
		return nil
	}
	for _, w := range p.ownedWindows() {
		procPostMessageW.Call(uintptr(w.hwnd), wmClose, 0, 0)
		procPostThreadMessageW.Call(uintptr(w.tid), wmQuit, 0, 0)
	}
	if p.group {
		// The child may have no console; failure is expected then.
		windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(p.pid))
	}
	return nil
}

type ownedWindow struct {
	hwnd windows.HWND
	tid  uint32
}

type enumState struct {
	pid     uint32
	windows []ownedWindow
}

func (p *windowsProcess) ownedWindows() []ownedWindow {
	enumCallbackOnce.Do(func() {
		enumCallback = windows.NewCallback(func(hwnd windows.HWND, key uintptr) uintptr {
			v, ok := enumStates.Load(key)
			if !ok {
				return 0
			}
			state := v.(*enumState)
			var pid uint32
			tid, err := windows.GetWindowThreadProcessId(hwnd, &pid)
			if err == nil && pid == state.pid {
				state.windows = append(state.windows, ownedWindow{hwnd: hwnd, tid: tid})
			}
			return 1
		})
	})

	key := enumNextKey.Add(1)
	state := &enumState{pid: uint32(p.pid)}
	enumStates.Store(key, state)
	defer enumStates.Delete(key)

	procEnumWindows.Call(enumCallback, key)
	return state.windows
}

func (p *windowsProcess) Kill() error {
	if p.status.Load() != nil {
		return nil
	}
	err := windows.TerminateProcess(p.handle, 1)
	if err == nil || errors.Is(err, windows.ERROR_ACCESS_DENIED) {
		// Access is denied once the process has already exited.
		return nil
	}
	return os.NewSyscallError("TerminateProcess", err)
}

func (p *windowsProcess) SetPriority(nice int) error {
	class := uint32(windows.NORMAL_PRIORITY_CLASS)
	switch {
	case nice >= 15:
		class = windows.IDLE_PRIORITY_CLASS
	case nice > 0:
		class = windows.BELOW_NORMAL_PRIORITY_CLASS
	case nice <= -15:
		class = windows.HIGH_PRIORITY_CLASS
	case nice < 0:
		class = windows.ABOVE_NORMAL_PRIORITY_CLASS
	}
	return windows.SetPriorityClass(p.handle, class)
}

func (p *windowsProcess) Release() error {
	p.releaseOnce.Do(func() {
		p.releaseErr = errors.Join(p.stdin.Close(), p.stdout.Close(), windows.CloseHandle(p.handle))
	})
	return p.releaseErr
}
