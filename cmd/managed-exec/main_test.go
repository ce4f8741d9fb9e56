//go:build unix

package main

import (
	"bytes"
	"strings"
	"testing"
)

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Version(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "-version")
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if stdout != "managed-exec dev\n" {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRun_Help(t *testing.T) {
	code, _, stderr := runCLI(t, "", "-h")
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stderr, "-sigterm-grace") {
		t.Errorf("usage missing flags:\n%s", stderr)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown flag", []string{"-no-such-flag", "/bin/cat"}, "Error parsing flags"},
		{"no program", []string{"-log-level", "error"}, "Configuration error"},
		{"bad stderr", []string{"-stderr", "sideways", "/bin/cat"}, "Configuration error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, "", tt.args...)
			if code != 2 {
				t.Errorf("exit code = %d, want 2", code)
			}
			if !strings.Contains(stderr, tt.want) {
				t.Errorf("stderr = %q, want it to contain %q", stderr, tt.want)
			}
		})
	}
}

func TestRun_PrintCmd(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "-print-cmd", "-param", "p=9000", "/bin/echo", "--port", "%p")
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout, "/bin/echo --port 9000") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRun_Cat(t *testing.T) {
	code, stdout, stderr := runCLI(t, "from stdin\n",
		"-log-level", "error", "-skip-preflight", "-input", "-", "/bin/cat")
	if code != 0 {
		t.Errorf("exit code = %d, want 0\n%s", code, stderr)
	}
	if stdout != "from stdin\n" {
		t.Errorf("stdout = %q, want %q", stdout, "from stdin\n")
	}
	if !strings.Contains(stderr, "Exit Summary") {
		t.Errorf("no exit summary:\n%s", stderr)
	}
}

func TestRun_ChildExitCode(t *testing.T) {
	code, _, _ := runCLI(t, "", "-log-level", "error", "-skip-preflight", "/bin/sh", "-c", "exit 7")
	if code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}
}
