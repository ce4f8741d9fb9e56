package config

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"
)

// listFlag is a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ", ")
}

func (l *listFlag) Set(value string) error {
	*l = append(*l, value)
	return nil
}

// ParseFlags parses command-line arguments into a Config.
//
// Precedence is defaults, then the -profile YAML file, then explicit flags.
// The first positional argument is the program; the rest form its argument
// list. Returns flag.ErrHelp for -h.
func ParseFlags(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()

	// First pass only locates -profile so the file can seed flag defaults.
	early := flag.NewFlagSet("managed-exec", flag.ContinueOnError)
	early.SetOutput(io.Discard)
	earlyCfg := DefaultConfig()
	defineFlags(early, earlyCfg, new(listFlag), new(listFlag), new(bool))
	if err := early.Parse(args); err == nil && earlyCfg.Profile != "" {
		if err := LoadProfile(earlyCfg.Profile, cfg); err != nil {
			return nil, err
		}
	}

	fs := flag.NewFlagSet("managed-exec", flag.ContinueOnError)
	fs.SetOutput(output)
	env := listFlag(cfg.Env)
	params := listFlag(cfg.Params)
	var showVersion bool
	defineFlags(fs, cfg, &env, &params, &showVersion)
	fs.Usage = func() { usage(fs, output) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Env = env
	cfg.Params = params

	if rest := fs.Args(); len(rest) > 0 {
		cfg.Program = rest[0]
		if len(rest) > 1 {
			cfg.Args = rest[1:]
		}
	}
	if showVersion {
		return cfg, ErrVersion
	}
	return cfg, nil
}

// ErrVersion is returned by ParseFlags when -version was given.
var ErrVersion = fmt.Errorf("version requested")

func defineFlags(fs *flag.FlagSet, cfg *Config, env, params *listFlag, showVersion *bool) {
	// Command
	fs.StringVar(&cfg.ArgString, "args", cfg.ArgString, "Argument string, split on whitespace (no quoting)")
	fs.Var(params, "param", "Parameter k=value expanding %k in the arguments (can repeat)")
	fs.StringVar(&cfg.Stderr, "stderr", cfg.Stderr, `Child stderr: "keep", "discard" or "merge"`)
	fs.StringVar(&cfg.Dir, "dir", cfg.Dir, "Working directory for the child")
	fs.IntVar(&cfg.Nice, "nice", cfg.Nice, "Scheduling priority adjustment for the child")
	fs.Var(env, "env", "Set KEY=VALUE in the child's environment (can repeat)")
	fs.BoolVar(&cfg.ProcessGroup, "process-group", cfg.ProcessGroup, "Run the child in its own process group")

	// Input / run control
	fs.StringVar(&cfg.Input, "input", cfg.Input, `Feed the child's stdin from a file, or "-" for our stdin`)
	fs.StringVar(&cfg.InputText, "input-text", cfg.InputText, "Write this text to the child's stdin, then close it")
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "Terminate the child after this long (0 = until it exits)")

	// Termination
	fs.DurationVar(&cfg.StdinCloseGrace, "stdin-close-grace", cfg.StdinCloseGrace, "Wait after closing stdin before SIGTERM")
	fs.DurationVar(&cfg.SigTermGrace, "sigterm-grace", cfg.SigTermGrace, "Wait after SIGTERM before SIGKILL")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Exit poll interval during termination")

	// Output
	fs.BoolVar(&cfg.Passthrough, "passthrough", cfg.Passthrough, "Copy child output to stdout")
	fs.Float64Var(&cfg.OutputLogRate, "output-log-rate", cfg.OutputLogRate, "Child output lines logged per second (0 = unlimited)")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.BoolVar(&cfg.MetricsDump, "metrics-dump", cfg.MetricsDump, "Print metrics in text exposition format at exit")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn" or "error"`)

	// Dashboard
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Live terminal dashboard; typed lines go to the child's stdin")

	// Diagnostics
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the resolved command and exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.StringVar(&cfg.Profile, "profile", cfg.Profile, "YAML profile with default settings")
	fs.BoolVar(showVersion, "version", false, "Print version and exit")
}

func usage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, `managed-exec - run one program with piped stdin/stdout and escalating shutdown

Usage:
  managed-exec [flags] <program> [args...]
  managed-exec [flags] -args "a b c" <program>

Command:
`)
	printFlagCategory(fs, w, []string{"args", "param", "stderr", "dir", "nice", "env", "process-group"})

	fmt.Fprintf(w, "\nInput / Run Control:\n")
	printFlagCategory(fs, w, []string{"input", "input-text", "duration"})

	fmt.Fprintf(w, "\nTermination:\n")
	printFlagCategory(fs, w, []string{"stdin-close-grace", "sigterm-grace", "poll-interval"})

	fmt.Fprintf(w, "\nOutput:\n")
	printFlagCategory(fs, w, []string{"passthrough", "output-log-rate"})

	fmt.Fprintf(w, "\nObservability:\n")
	printFlagCategory(fs, w, []string{"metrics", "metrics-dump", "v", "log-format", "log-level"})

	fmt.Fprintf(w, "\nDashboard:\n")
	printFlagCategory(fs, w, []string{"tui"})

	fmt.Fprintf(w, "\nDiagnostics:\n")
	printFlagCategory(fs, w, []string{"print-cmd", "skip-preflight", "profile", "version"})

	fmt.Fprintf(w, `
Termination closes stdin, waits, sends SIGTERM, waits, then sends SIGKILL.
The exit code is the child's (128+signal when killed by a signal).

Examples:
  # Echo through cat, then shut it down
  managed-exec -input-text "hello" /bin/cat

  # Forward our stdin, merge stderr, expose metrics
  managed-exec -input - -stderr merge -metrics 127.0.0.1:17092 ./worker --mode batch

  # Parameter expansion
  managed-exec -param p=9000 -args "--port %%p" ./server

`)
}

// printFlagCategory prints flags matching the given names, in order.
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.Value.(type) {
	case *listFlag:
		return "value"
	}
	if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
		return ""
	}
	if _, err := time.ParseDuration(f.DefValue); err == nil && f.DefValue != "0" {
		return "duration"
	}
	if _, err := fmt.Sscanf(f.DefValue, "%g", new(float64)); err == nil {
		return "number"
	}
	return "string"
}
