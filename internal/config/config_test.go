package config

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/randomizedcoder/go-managed-exec/internal/platform"
	"github.com/randomizedcoder/go-managed-exec/internal/supervisor"
)

func TestListFlag(t *testing.T) {
	var l listFlag
	if l.String() != "" {
		t.Errorf("empty String() = %q", l.String())
	}
	for _, v := range []string{"A=1", "B=2", ""} {
		if err := l.Set(v); err != nil {
			t.Fatalf("Set(%q): %v", v, err)
		}
	}
	if len(l) != 3 {
		t.Errorf("len = %d, want 3 (empty values are kept)", len(l))
	}
	if got := l.String(); got != "A=1, B=2, " {
		t.Errorf("String() = %q", got)
	}
}

func TestFlagType(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("b", false, "")
	fs.Duration("d", 5*time.Second, "")
	fs.Int("i", 42, "")
	fs.Float64("f", 3.5, "")
	fs.String("s", "hello", "")
	fs.String("empty", "", "")
	fs.Var(&listFlag{}, "l", "")

	testCases := map[string]string{
		"b":     "",
		"d":     "duration",
		"i":     "number",
		"f":     "number",
		"s":     "string",
		"empty": "string",
		"l":     "value",
	}
	for name, want := range testCases {
		t.Run(name, func(t *testing.T) {
			if got := flagType(fs.Lookup(name)); got != want {
				t.Errorf("flagType(-%s) = %q, want %q", name, got, want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	tc := supervisor.DefaultTerminateConfig()

	if cfg.Stderr != "keep" {
		t.Errorf("Stderr = %q, want keep", cfg.Stderr)
	}
	if cfg.StdinCloseGrace != tc.StdinCloseGrace || cfg.SigTermGrace != tc.SigTermGrace {
		t.Errorf("graces = %v/%v, want %v/%v", cfg.StdinCloseGrace, cfg.SigTermGrace, tc.StdinCloseGrace, tc.SigTermGrace)
	}
	if !cfg.Passthrough {
		t.Error("Passthrough should be true by default")
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("MetricsAddr = %q, want disabled", cfg.MetricsAddr)
	}
	if cfg.LogFormat != "json" || cfg.LogLevel != "info" {
		t.Errorf("log = %s/%s, want json/info", cfg.LogFormat, cfg.LogLevel)
	}
}

func TestParseFlags(t *testing.T) {
	testCases := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "program_and_args",
			args: []string{"/bin/echo", "a", "-b"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Program != "/bin/echo" {
					t.Errorf("Program = %q", cfg.Program)
				}
				if diff := cmp.Diff([]string{"a", "-b"}, cfg.Args); diff != "" {
					t.Errorf("Args mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name: "program_only",
			args: []string{"cat"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Args != nil {
					t.Errorf("Args = %v, want nil", cfg.Args)
				}
			},
		},
		{
			name: "repeatable",
			args: []string{"-env", "A=1", "-env", "B=2", "-param", "p=9000", "prog"},
			check: func(t *testing.T, cfg *Config) {
				if diff := cmp.Diff([]string{"A=1", "B=2"}, cfg.Env); diff != "" {
					t.Errorf("Env mismatch (-want +got):\n%s", diff)
				}
				if diff := cmp.Diff([]string{"p=9000"}, cfg.Params); diff != "" {
					t.Errorf("Params mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name: "termination",
			args: []string{"-stdin-close-grace", "1s", "-sigterm-grace", "2s", "-poll-interval", "5ms", "-process-group", "prog"},
			check: func(t *testing.T, cfg *Config) {
				tc := cfg.TerminateConfig()
				if tc.StdinCloseGrace != time.Second || tc.SigTermGrace != 2*time.Second || tc.PollInterval != 5*time.Millisecond {
					t.Errorf("TerminateConfig = %+v", tc)
				}
				if !cfg.ProcessGroup {
					t.Error("ProcessGroup not set")
				}
			},
		},
		{
			name: "child_flags_not_consumed",
			args: []string{"-stderr", "merge", "prog", "-stderr", "discard"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Stderr != "merge" {
					t.Errorf("Stderr = %q, want merge", cfg.Stderr)
				}
				if diff := cmp.Diff([]string{"-stderr", "discard"}, cfg.Args); diff != "" {
					t.Errorf("Args mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name: "double_dash",
			args: []string{"-v", "--", "-weird-name"},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.Verbose || cfg.Program != "-weird-name" {
					t.Errorf("Verbose=%v Program=%q", cfg.Verbose, cfg.Program)
				}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := ParseFlags(tc.args, io.Discard)
			if err != nil {
				t.Fatalf("ParseFlags: %v", err)
			}
			tc.check(t, cfg)
		})
	}
}

func TestParseFlags_Errors(t *testing.T) {
	var out bytes.Buffer
	if _, err := ParseFlags([]string{"-h"}, &out); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("-h err = %v, want flag.ErrHelp", err)
	}
	if !strings.Contains(out.String(), "Termination:") {
		t.Errorf("usage missing categories:\n%s", out.String())
	}

	if _, err := ParseFlags([]string{"-nice", "abc", "prog"}, io.Discard); err == nil {
		t.Error("expected error for non-numeric -nice")
	}

	if _, err := ParseFlags([]string{"-version"}, io.Discard); !errors.Is(err, ErrVersion) {
		t.Errorf("-version err = %v, want ErrVersion", err)
	}
}

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseFlags_ProfilePrecedence(t *testing.T) {
	path := writeProfile(t, `
program: /bin/cat
stderr: discard
sigterm_grace: 3s
env: [FROM_PROFILE=1]
`)

	cfg, err := ParseFlags([]string{"-profile", path, "-stderr", "merge", "-env", "FROM_FLAG=1"}, io.Discard)
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if cfg.Program != "/bin/cat" {
		t.Errorf("Program = %q, want profile value", cfg.Program)
	}
	if cfg.Stderr != "merge" {
		t.Errorf("Stderr = %q, flag should win over profile", cfg.Stderr)
	}
	if cfg.SigTermGrace != 3*time.Second {
		t.Errorf("SigTermGrace = %v, want profile value", cfg.SigTermGrace)
	}
	if diff := cmp.Diff([]string{"FROM_PROFILE=1", "FROM_FLAG=1"}, cfg.Env); diff != "" {
		t.Errorf("Env mismatch (-want +got):\n%s", diff)
	}
	if cfg.Profile != path {
		t.Errorf("Profile = %q", cfg.Profile)
	}
}

func TestLoadProfile_Errors(t *testing.T) {
	if err := LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"), DefaultConfig()); err == nil {
		t.Error("expected error for missing file")
	}
	path := writeProfile(t, "no_such_key: 1\n")
	if err := LoadProfile(path, DefaultConfig()); err == nil {
		t.Error("expected error for unknown key")
	}
	empty := writeProfile(t, "")
	if err := LoadProfile(empty, DefaultConfig()); err != nil {
		t.Errorf("empty profile: %v", err)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Program = "/bin/cat"
	cfg.Env = []string{"A=1"}
	cfg.Nice = 5

	var buf bytes.Buffer
	if err := WriteProfile(&buf, cfg); err != nil {
		t.Fatal(err)
	}
	path := writeProfile(t, buf.String())

	got := DefaultConfig()
	if err := LoadProfile(path, got); err != nil {
		t.Fatal(err)
	}
	got.Profile = ""
	if diff := cmp.Diff(cfg, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigCommand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Program = "/bin/echo"
	cfg.ArgString = "--port %p  %%"
	cfg.Params = []string{"p=9000", "bad", "xy=1"}

	if diff := cmp.Diff(map[rune]string{'p': "9000"}, cfg.Substitutions()); diff != "" {
		t.Errorf("Substitutions mismatch (-want +got):\n%s", diff)
	}

	argv := cfg.Command().Build(cfg.Environment())
	if diff := cmp.Diff([]string{"--port", "9000", "%"}, argv.Args()); diff != "" {
		t.Errorf("Args mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigEnvironment(t *testing.T) {
	t.Setenv("MANAGED_EXEC_TEST_BASE", "base")
	cfg := DefaultConfig()
	cfg.Env = []string{"MANAGED_EXEC_TEST_NEW=new", "MANAGED_EXEC_TEST_BASE=over"}

	env := cfg.Environment()
	if v, _ := env.Lookup("MANAGED_EXEC_TEST_NEW"); v != "new" {
		t.Errorf("NEW = %q", v)
	}
	if v, _ := env.Lookup("MANAGED_EXEC_TEST_BASE"); v != "over" {
		t.Errorf("BASE = %q, want overlay to win", v)
	}
}

func TestConfigStderrMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stderr = "merge"
	if cfg.StderrMode() != platform.StderrMerge {
		t.Errorf("StderrMode = %v", cfg.StderrMode())
	}
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Program = "/bin/cat"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("valid config should not error: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing_program", func(c *Config) { c.Program = " " }, "program"},
		{"args_and_arg_string", func(c *Config) { c.Args = []string{"a"}; c.ArgString = "b" }, "args"},
		{"bad_stderr", func(c *Config) { c.Stderr = "null" }, "stderr"},
		{"env_no_equals", func(c *Config) { c.Env = []string{"FOO"} }, "env"},
		{"env_empty_key", func(c *Config) { c.Env = []string{"=x"} }, "env"},
		{"param_long_key", func(c *Config) { c.Params = []string{"port=1"} }, "param"},
		{"param_percent", func(c *Config) { c.Params = []string{"%=1"} }, "param"},
		{"nice_low", func(c *Config) { c.Nice = -21 }, "nice"},
		{"nice_high", func(c *Config) { c.Nice = 20 }, "nice"},
		{"input_both", func(c *Config) { c.Input = "f"; c.InputText = "t" }, "input"},
		{"tui_stdin", func(c *Config) { c.TUIEnabled = true; c.Input = "-" }, "input"},
		{"negative_duration", func(c *Config) { c.Duration = -time.Second }, "duration"},
		{"negative_stdin_grace", func(c *Config) { c.StdinCloseGrace = -1 }, "stdin_close_grace"},
		{"negative_sigterm_grace", func(c *Config) { c.SigTermGrace = -1 }, "sigterm_grace"},
		{"zero_poll", func(c *Config) { c.PollInterval = 0 }, "poll_interval"},
		{"negative_rate", func(c *Config) { c.OutputLogRate = -1 }, "output_log_rate"},
		{"bad_metrics_addr", func(c *Config) { c.MetricsAddr = "localhost" }, "metrics_addr"},
		{"bad_log_format", func(c *Config) { c.LogFormat = "yaml" }, "log_format"},
		{"bad_log_level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var ve ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error %v is not a ValidationError", err)
			}
			if ve.Field != tc.field {
				t.Errorf("Field = %q, want %q (%v)", ve.Field, tc.field, err)
			}
		})
	}
}

func TestValidate_Boundaries(t *testing.T) {
	cfg := validConfig()
	cfg.Nice = 19
	cfg.StdinCloseGrace = 0
	cfg.SigTermGrace = 0
	cfg.OutputLogRate = 0
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.Params = []string{"é=accent"}
	if err := Validate(cfg); err != nil {
		t.Errorf("boundary config should be valid: %v", err)
	}
}

func TestValidate_CombinesErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Program = ""
	cfg.LogFormat = "xml"
	cfg.Nice = 99

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, field := range []string{"program", "log_format", "nice"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("combined error missing %s: %v", field, err)
		}
	}
}
