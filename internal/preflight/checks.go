// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/randomizedcoder/go-managed-exec/internal/platform"
	"github.com/randomizedcoder/go-managed-exec/internal/process"
)

// Note: syscall.RLIMIT_NPROC is not exported in Go's syscall package,
// so we read process limits from /proc/self/limits instead.

// Descriptors a launch holds at its peak: both ends of the stdin and
// stdout pipes, the exec status pipe and /dev/null.
const launchDescriptors = 7

// descriptorHeadroom covers the metrics listener, log files and the Go
// runtime's own descriptors.
const descriptorHeadroom = 64

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options describes the launch being checked.
type Options struct {
	Program string
	Env     process.Environment
	Dir     string
	Stderr  platform.StderrMode
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 5),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkProgram(opts.Program, opts.Env))
	if opts.Dir != "" {
		add(checkWorkingDir(opts.Dir))
	}
	add(checkFileDescriptors())
	add(checkProcessLimit())
	add(checkNullDevice(opts.Stderr))

	return result
}

// checkProgram verifies the program resolves to an executable file.
func checkProgram(program string, env process.Environment) Check {
	if program == "" {
		return Check{Name: "program", Passed: false, Message: "no program given"}
	}

	path := process.ResolveProgram(program, env)
	fi, err := os.Stat(path)
	if err != nil {
		return Check{
			Name:    "program",
			Passed:  false,
			Message: fmt.Sprintf("%s not found: %v", program, err),
		}
	}
	if !fi.Mode().IsRegular() {
		return Check{
			Name:    "program",
			Passed:  false,
			Message: fmt.Sprintf("%s is not a regular file", path),
		}
	}
	if runtime.GOOS != "windows" && fi.Mode().Perm()&0o111 == 0 {
		return Check{
			Name:    "program",
			Passed:  false,
			Message: fmt.Sprintf("%s is not executable (mode %s)", path, fi.Mode().Perm()),
		}
	}

	return Check{
		Name:    "program",
		Passed:  true,
		Message: fmt.Sprintf("found at %s", path),
	}
}

// checkWorkingDir verifies the child's working directory exists.
func checkWorkingDir(dir string) Check {
	fi, err := os.Stat(dir)
	if err != nil {
		return Check{Name: "working_dir", Passed: false, Message: err.Error()}
	}
	if !fi.IsDir() {
		return Check{Name: "working_dir", Passed: false, Message: fmt.Sprintf("%s is not a directory", dir)}
	}
	return Check{Name: "working_dir", Passed: true, Message: dir}
}

// checkFileDescriptors verifies a launch can open its pipes.
func checkFileDescriptors() Check {
	actual, ok := openFileLimit()
	if !ok {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: "unable to check on this platform",
		}
	}

	required := launchDescriptors + descriptorHeadroom
	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, required),
	}
}

// checkProcessLimit verifies a process slot is available.
func checkProcessLimit() Check {
	const required = 1

	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual, ok := parseMaxProcesses(string(data))
	if !ok {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d", actual),
	}
}

// parseMaxProcesses extracts the soft "Max processes" limit from the
// contents of /proc/self/limits.
func parseMaxProcesses(limits string) (int, bool) {
	for _, line := range strings.Split(limits, "\n") {
		if !strings.HasPrefix(line, "Max processes") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return 0, false
		}
		if fields[2] == "unlimited" {
			return 1_000_000, true
		}
		var n int
		if _, err := fmt.Sscanf(fields[2], "%d", &n); err != nil || n == 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// checkNullDevice verifies the null device opens. Only fatal when stderr
// is discarded, since that is the only mode that needs it.
func checkNullDevice(mode platform.StderrMode) Check {
	f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return Check{
			Name:    "null_device",
			Passed:  mode != platform.StderrDiscard,
			Warning: true,
			Message: fmt.Sprintf("cannot open %s: %v", os.DevNull, err),
		}
	}
	f.Close()
	return Check{Name: "null_device", Passed: true, Message: os.DevNull}
}

// PrintResults prints the preflight check results.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 1024 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "program":
		return "check the path, PATH and the file's execute bit (chmod +x)"
	case "working_dir":
		return "create the directory or fix -dir"
	case "null_device":
		return "use -stderr keep or merge"
	default:
		return "see documentation"
	}
}
