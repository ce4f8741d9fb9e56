package supervisor

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/randomizedcoder/go-managed-exec/internal/platform"
)

// =============================================================================
// Fake platform.Process for testing
// =============================================================================

// fakeBehavior selects how a fakeProc reacts to the termination steps.
type fakeBehavior struct {
	exitOnEOF  bool // exit 0 when stdin closes
	ignoreTerm bool // survive Interrupt
	echo       bool // copy stdin to stdout
}

// fakeProc is an in-process stand-in for a child. Its stdin and stdout are
// real pipes so the Writer and Pump run unmodified.
type fakeProc struct {
	behavior fakeBehavior

	stdin, stdout *platform.FD
	childIn       *os.File
	childOut      *os.File

	exitOnce sync.Once
	exitCh   chan struct{}
	status   ExitStatus

	interrupts atomic.Int32
	kills      atomic.Int32
	nice       atomic.Int32
	released   atomic.Int32
}

func newFakeProc(b fakeBehavior) (*fakeProc, error) {
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return nil, err
	}
	p := &fakeProc{
		behavior: b,
		stdin:    platform.NewFD(inW),
		stdout:   platform.NewFD(outR),
		childIn:  inR,
		childOut: outW,
		exitCh:   make(chan struct{}),
	}
	go p.child()
	return p, nil
}

// child plays the program: it drains stdin, echoing if asked, and exits on
// EOF if asked.
func (p *fakeProc) child() {
	var dst io.Writer = io.Discard
	if p.behavior.echo {
		dst = p.childOut
	}
	io.Copy(dst, p.childIn)
	if p.behavior.exitOnEOF {
		p.exit(ExitStatus{Code: 0})
	}
}

func (p *fakeProc) exit(st ExitStatus) {
	p.exitOnce.Do(func() {
		p.status = st
		p.childOut.Close()
		p.childIn.Close()
		close(p.exitCh)
	})
}

func (p *fakeProc) exitedNow() bool {
	select {
	case <-p.exitCh:
		return true
	default:
		return false
	}
}

func (p *fakeProc) Pid() int             { return 4242 }
func (p *fakeProc) Stdin() *platform.FD  { return p.stdin }
func (p *fakeProc) Stdout() *platform.FD { return p.stdout }

func (p *fakeProc) Poll() (ExitStatus, bool, error) {
	if p.exitedNow() {
		return p.status, true, nil
	}
	return ExitStatus{}, false, nil
}

func (p *fakeProc) Wait() (ExitStatus, error) {
	<-p.exitCh
	return p.status, nil
}

func (p *fakeProc) Interrupt() error {
	p.interrupts.Add(1)
	if !p.behavior.ignoreTerm {
		p.exit(ExitStatus{Code: -1, Signal: int(syscall.SIGTERM)})
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.kills.Add(1)
	p.exit(ExitStatus{Code: -1, Signal: int(syscall.SIGKILL)})
	return nil
}

func (p *fakeProc) SetPriority(nice int) error {
	p.nice.Store(int32(nice))
	return nil
}

func (p *fakeProc) Release() error {
	p.released.Add(1)
	p.stdin.Close()
	p.stdout.Close()
	return nil
}

// fakeLauncher returns a Launcher producing fakeProcs and records them.
type fakeLauncher struct {
	behavior fakeBehavior
	err      error

	mu    sync.Mutex
	specs []platform.Spec
	procs []*fakeProc
}

func (l *fakeLauncher) launch(spec platform.Spec) (platform.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = append(l.specs, spec)
	if l.err != nil {
		return nil, l.err
	}
	p, err := newFakeProc(l.behavior)
	if err != nil {
		return nil, &platform.LaunchError{Kind: platform.PipeCreationFailed, Err: err}
	}
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) last() *fakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}
