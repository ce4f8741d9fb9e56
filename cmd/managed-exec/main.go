// Package main provides the managed-exec CLI entry point.
//
// managed-exec launches one child process with piped stdin and stdout,
// forwards input to it, streams its output, and shuts it down with the
// close-stdin, SIGTERM, SIGKILL ladder when the run ends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-managed-exec/internal/config"
	"github.com/randomizedcoder/go-managed-exec/internal/logging"
	"github.com/randomizedcoder/go-managed-exec/internal/orchestrator"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/managed-exec
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := config.ParseFlags(args, stderr)
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, config.ErrVersion):
		fmt.Fprintf(stdout, "managed-exec %s\n", version)
		return 0
	case err != nil:
		fmt.Fprintf(stderr, "Error parsing flags: %v\n", err)
		return 2
	}

	// The dashboard owns the terminal, so log records are dropped.
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", cfg.LogLevel)
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 2
	}

	if cfg.PrintCmd {
		printCommand(stdout, cfg)
		return 0
	}

	logger.Info("starting",
		"version", version,
		"program", cfg.Program,
		"stderr", cfg.Stderr,
		"duration", cfg.Duration.String(),
		"metrics_addr", cfg.MetricsAddr,
	)
	if !cfg.TUIEnabled {
		printBanner(stderr, cfg)
	}

	orch := orchestrator.New(cfg, logger, orchestrator.Options{
		Version: version,
		Stdin:   stdin,
		Stdout:  stdout,
		Stderr:  stderr,
	})
	code, err := orch.Run(context.Background())
	if err != nil {
		logger.Error("run_failed", "error", err)
		if cfg.TUIEnabled {
			fmt.Fprintf(stderr, "managed-exec: %v\n", err)
		}
	}
	return code
}

// printBanner prints the startup banner.
func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                          managed-exec                             ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Command:     %s\n", cfg.Command().String())
	fmt.Fprintf(w, "  Stderr:      %s\n", cfg.Stderr)
	if cfg.Duration > 0 {
		fmt.Fprintf(w, "  Duration:    %s\n", cfg.Duration)
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(w, "  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Press Ctrl+C to stop.")
	fmt.Fprintln(w)
}

// printCommand prints the argument vector that would be launched.
func printCommand(w io.Writer, cfg *config.Config) {
	argv := cfg.Command().Build(cfg.Environment())
	fmt.Fprintln(w, "# Command that would be run:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, argv.String())
}
