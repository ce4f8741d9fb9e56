package platform

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

// =============================================================================
// Table-Driven Tests: StderrMode
// =============================================================================

func TestParseStderrMode(t *testing.T) {
	tests := []struct {
		in      string
		want    StderrMode
		wantErr bool
	}{
		{"keep", StderrKeep, false},
		{"discard", StderrDiscard, false},
		{"merge", StderrMerge, false},
		{"MERGE", StderrMerge, false},
		{"", StderrKeep, true},
		{"stdout", StderrKeep, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStderrMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStderrMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseStderrMode(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestStderrMode_String(t *testing.T) {
	if got := StderrMerge.String(); got != "merge" {
		t.Errorf("String() = %q", got)
	}
	if got := StderrMode(9).String(); got != "StderrMode(9)" {
		t.Errorf("String() = %q", got)
	}
}

// =============================================================================
// Table-Driven Tests: ExitStatus
// =============================================================================

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   ExitStatus
		wantCode int
		wantOK   bool
		signaled bool
	}{
		{"success", ExitStatus{Code: 0}, 0, true, false},
		{"failure", ExitStatus{Code: 3}, 3, false, false},
		{"SIGTERM", ExitStatus{Code: -1, Signal: 15}, 143, false, true},
		{"SIGKILL", ExitStatus{Code: -1, Signal: 9}, 137, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.ExitCode(); got != tt.wantCode {
				t.Errorf("ExitCode() = %d, want %d", got, tt.wantCode)
			}
			if got := tt.status.Success(); got != tt.wantOK {
				t.Errorf("Success() = %v, want %v", got, tt.wantOK)
			}
			if got := tt.status.Signaled(); got != tt.signaled {
				t.Errorf("Signaled() = %v, want %v", got, tt.signaled)
			}
		})
	}
}

func TestExitStatus_String(t *testing.T) {
	if got := (ExitStatus{Code: 2}).String(); got != "exit status 2" {
		t.Errorf("String() = %q", got)
	}
}

// =============================================================================
// Tests: LaunchError
// =============================================================================

func TestLaunchError_Is(t *testing.T) {
	cause := errors.New("no such file")
	kinds := []struct {
		kind     LaunchErrorKind
		sentinel error
	}{
		{PipeCreationFailed, ErrPipeCreation},
		{ForkFailed, ErrFork},
		{ExecFailed, ErrExec},
	}

	for _, k := range kinds {
		t.Run(k.kind.String(), func(t *testing.T) {
			err := error(&LaunchError{Kind: k.kind, Program: "/x", Err: cause})
			wrapped := fmt.Errorf("start: %w", err)

			if !errors.Is(wrapped, k.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, k.sentinel)
			}
			if !errors.Is(wrapped, cause) {
				t.Error("cause not reachable through Unwrap")
			}
			for _, other := range kinds {
				if other.kind != k.kind && errors.Is(err, other.sentinel) {
					t.Errorf("%v also matches %v", k.kind, other.sentinel)
				}
			}
			var le *LaunchError
			if !errors.As(wrapped, &le) || le.Kind != k.kind {
				t.Errorf("errors.As kind = %v", le)
			}
		})
	}
}

func TestLaunch_EmptyArgv(t *testing.T) {
	_, err := Launch(Spec{})
	if !errors.Is(err, ErrExec) || !errors.Is(err, ErrEmptyArgv) {
		t.Fatalf("Launch(empty) error = %v", err)
	}
}

// =============================================================================
// Tests: FD
// =============================================================================

func TestFD_CloseIdempotent(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	fd := NewFD(w)
	if fd.Closed() {
		t.Fatal("new FD reports closed")
	}
	if err := fd.Close(); err != nil {
		t.Fatalf("first Close() = %v", err)
	}
	if err := fd.Close(); err != nil {
		t.Errorf("second Close() = %v, want first result (nil)", err)
	}
	if !fd.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestFD_Nil(t *testing.T) {
	var fd *FD
	if err := fd.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
	if !fd.Closed() {
		t.Error("nil FD should report closed")
	}
	if fd.Name() != "" {
		t.Error("nil FD should have empty name")
	}

	empty := NewFD(nil)
	if err := empty.Close(); err != nil || !empty.Closed() {
		t.Errorf("NewFD(nil) Close() = %v closed=%v", err, empty.Closed())
	}
}

// =============================================================================
// Tests: PipeSet
// =============================================================================

func TestPipeSet_ChildFiles(t *testing.T) {
	tests := []struct {
		mode       StderrMode
		wantNull   bool
		wantMerged bool
	}{
		{StderrKeep, false, false},
		{StderrDiscard, true, false},
		{StderrMerge, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			ps, err := NewPipeSet(tt.mode)
			if err != nil {
				t.Fatalf("NewPipeSet() error = %v", err)
			}
			defer ps.Close()

			files := ps.ChildFiles()
			if files[0] != ps.StdinChild.File() || files[1] != ps.StdoutChild.File() {
				t.Error("fds 0 and 1 must be the child pipe ends")
			}
			switch {
			case tt.wantNull:
				if files[2] != ps.StderrChild.File() || ps.StderrChild.Name() != os.DevNull {
					t.Errorf("fd 2 = %v, want %s", files[2].Name(), os.DevNull)
				}
			case tt.wantMerged:
				if files[2] != files[1] {
					t.Error("fd 2 should share the stdout pipe")
				}
			default:
				if files[2] != os.Stderr {
					t.Error("fd 2 should be the parent's stderr")
				}
			}
		})
	}
}

func TestPipeSet_EOFAfterChildEndsClosed(t *testing.T) {
	ps, err := NewPipeSet(StderrKeep)
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Close()

	if _, err := ps.StdoutChild.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := ps.CloseChildEnds(); err != nil {
		t.Fatalf("CloseChildEnds() = %v", err)
	}

	buf := make([]byte, 8)
	n, err := ps.StdoutParent.Read(buf)
	if n != 1 || err != nil {
		t.Fatalf("Read() = %d, %v", n, err)
	}
	if n, err := ps.StdoutParent.Read(buf); n != 0 || err == nil {
		t.Errorf("Read() after child close = %d, %v, want EOF", n, err)
	}
	if err := ps.Close(); err != nil {
		t.Errorf("Close() after CloseChildEnds = %v", err)
	}
}
