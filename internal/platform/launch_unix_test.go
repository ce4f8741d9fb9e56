//go:build unix

package platform

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func launch(t *testing.T, spec Spec) Process {
	t.Helper()
	if spec.Env == nil {
		spec.Env = os.Environ()
	}
	p, err := Launch(spec)
	if err != nil {
		t.Fatalf("Launch(%v) error = %v", spec.Argv, err)
	}
	t.Cleanup(func() {
		p.Kill()
		p.Wait()
		p.Release()
	})
	return p
}

func readAll(t *testing.T, p Process) string {
	t.Helper()
	out, err := io.ReadAll(p.Stdout())
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	return string(out)
}

// =============================================================================
// Tests: Launch
// =============================================================================

func TestLaunch_ExecFailed(t *testing.T) {
	_, err := Launch(Spec{Argv: []string{"/nonexistent/program-xyz"}})
	if err == nil {
		t.Fatal("Launch() succeeded for a missing program")
	}
	if !errors.Is(err, ErrExec) {
		t.Errorf("error = %v, want ErrExec", err)
	}
	if !errors.Is(err, syscall.ENOENT) {
		t.Errorf("error = %v, want ENOENT cause", err)
	}
}

func TestLaunch_BadDirIsExecFailure(t *testing.T) {
	_, err := Launch(Spec{Argv: []string{"/bin/sh", "-c", "true"}, Dir: "/nonexistent/dir-xyz"})
	if !errors.Is(err, ErrExec) {
		t.Errorf("error = %v, want ErrExec", err)
	}
}

func TestLaunch_CatRoundTrip(t *testing.T) {
	p := launch(t, Spec{Argv: []string{"/bin/cat"}, Stderr: StderrDiscard})

	if p.Pid() <= 0 {
		t.Fatalf("Pid() = %d", p.Pid())
	}
	if _, err := p.Stdin().Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	p.Stdin().Close()

	if got := readAll(t, p); got != "hello\n" {
		t.Errorf("stdout = %q, want %q", got, "hello\n")
	}
	st, err := p.Wait()
	if err != nil || !st.Success() {
		t.Errorf("Wait() = %v, %v", st, err)
	}
}

func TestLaunch_StderrModes(t *testing.T) {
	script := "echo out; echo err >&2"
	tests := []struct {
		mode StderrMode
		want string
	}{
		{StderrDiscard, "out\n"},
		{StderrMerge, "out\nerr\n"},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			p := launch(t, Spec{Argv: []string{"/bin/sh", "-c", script}, Stderr: tt.mode})
			if got := readAll(t, p); got != tt.want {
				t.Errorf("stdout = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLaunch_EnvAndDir(t *testing.T) {
	dir := t.TempDir()
	p := launch(t, Spec{
		Argv: []string{"/bin/sh", "-c", `printf '%s %s' "$MANAGED_EXEC_TEST" "$(pwd -P)"`},
		Env:  []string{"MANAGED_EXEC_TEST=yes", "PATH=/usr/bin:/bin"},
		Dir:  dir,
	})
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := readAll(t, p), "yes "+resolved; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
}

// =============================================================================
// Tests: Poll / Wait
// =============================================================================

func TestPoll_RunningThenExited(t *testing.T) {
	p := launch(t, Spec{Argv: []string{"/bin/cat"}})

	if _, exited, err := p.Poll(); exited || err != nil {
		t.Fatalf("Poll() on live cat = exited %v, err %v", exited, err)
	}

	p.Stdin().Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		st, exited, err := p.Poll()
		if err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
		if exited {
			if !st.Success() {
				t.Errorf("status = %v", st)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cat did not exit after stdin EOF")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Recorded status survives the reap.
	st, err := p.Wait()
	if err != nil || !st.Success() {
		t.Errorf("Wait() after Poll = %v, %v", st, err)
	}
}

func TestPoll_DoesNotBlockBehindWait(t *testing.T) {
	p := launch(t, Spec{Argv: []string{"/bin/cat"}})

	waited := make(chan struct{})
	go func() {
		p.Wait()
		close(waited)
	}()
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Poll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poll blocked behind a parked Wait")
	}

	p.Stdin().Close()
	<-waited
}

// =============================================================================
// Tests: Signals
// =============================================================================

func TestInterruptAndKill(t *testing.T) {
	tests := []struct {
		name   string
		argv   []string
		signal func(Process) error
		want   syscall.Signal
	}{
		{"interrupt", []string{"/bin/cat"}, Process.Interrupt, syscall.SIGTERM},
		{"kill ignores trap", []string{"/bin/sh", "-c", "trap '' TERM; while :; do sleep 1; done"}, Process.Kill, syscall.SIGKILL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := launch(t, Spec{Argv: tt.argv})
			if err := tt.signal(p); err != nil {
				t.Fatalf("signal error = %v", err)
			}
			st, err := p.Wait()
			if err != nil {
				t.Fatal(err)
			}
			if st.Signal != int(tt.want) {
				t.Errorf("status = %v, want signal %v", st, tt.want)
			}
			// Signalling a reaped child is a no-op.
			if err := p.Kill(); err != nil {
				t.Errorf("Kill() after reap = %v", err)
			}
		})
	}
}

func TestProcessGroup(t *testing.T) {
	p := launch(t, Spec{
		Argv:         []string{"/bin/sh", "-c", "sleep 30 & wait"},
		ProcessGroup: true,
	})
	pgid, err := syscall.Getpgid(p.Pid())
	if err != nil {
		t.Fatal(err)
	}
	if pgid != p.Pid() {
		t.Errorf("pgid = %d, want %d", pgid, p.Pid())
	}
	if err := p.Kill(); err != nil {
		t.Fatal(err)
	}
	if st, _ := p.Wait(); st.Signal != int(syscall.SIGKILL) {
		t.Errorf("status = %v", st)
	}
}

func TestSetPriority(t *testing.T) {
	p := launch(t, Spec{Argv: []string{"/bin/cat"}})
	if err := p.SetPriority(5); err != nil {
		t.Fatalf("SetPriority(5) = %v", err)
	}
	p.Stdin().Close()
}

func TestRelease_UnblocksRead(t *testing.T) {
	p := launch(t, Spec{Argv: []string{"/bin/cat"}})

	done := make(chan error, 1)
	go func() {
		var buf bytes.Buffer
		_, err := io.Copy(&buf, p.Stdout())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	if err := p.Release(); err != nil {
		t.Fatalf("Release() = %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Read stayed blocked after Release")
	}
	if err := p.Release(); err != nil {
		t.Errorf("second Release() = %v", err)
	}
}

// =============================================================================
// Table-Driven Tests: classifyStartError
// =============================================================================

func TestClassifyStartError(t *testing.T) {
	tests := []struct {
		err  error
		want LaunchErrorKind
	}{
		{syscall.EAGAIN, ForkFailed},
		{syscall.ENOMEM, ForkFailed},
		{syscall.ENOSYS, ForkFailed},
		{syscall.EMFILE, PipeCreationFailed},
		{syscall.ENOENT, ExecFailed},
		{syscall.EACCES, ExecFailed},
		{syscall.ENOEXEC, ExecFailed},
		{errors.New("other"), ExecFailed},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := classifyStartError(tt.err); got != tt.want {
				t.Errorf("classifyStartError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
