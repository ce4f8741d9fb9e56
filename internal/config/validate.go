package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/randomizedcoder/go-managed-exec/internal/logging"
	"github.com/randomizedcoder/go-managed-exec/internal/platform"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error joining every problem found.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(cfg.Program) == "" {
		add("program", "program is required")
	}

	if len(cfg.Args) > 0 && cfg.ArgString != "" {
		add("args", "positional arguments and -args are mutually exclusive")
	}

	if _, err := platform.ParseStderrMode(cfg.Stderr); err != nil {
		add("stderr", "must be 'keep', 'discard' or 'merge' (got %q)", cfg.Stderr)
	}

	for _, kv := range cfg.Env {
		k, _, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			add("env", "entry %q must have the form KEY=VALUE", kv)
		}
	}

	for _, p := range cfg.Params {
		k, _, ok := strings.Cut(p, "=")
		if !ok || utf8.RuneCountInString(k) != 1 {
			add("param", "entry %q must have the form k=value with a single-character key", p)
			continue
		}
		if k == "%" {
			add("param", "key %q is reserved for a literal percent sign", k)
		}
	}

	if cfg.Nice < -20 || cfg.Nice > 19 {
		add("nice", "must be between -20 and 19 (got %d)", cfg.Nice)
	}

	if cfg.Input != "" && cfg.InputText != "" {
		add("input", "-input and -input-text are mutually exclusive")
	}
	if cfg.TUIEnabled && cfg.Input == "-" {
		add("input", "-input - cannot be combined with -tui (the dashboard owns stdin)")
	}

	if cfg.Duration < 0 {
		add("duration", "must not be negative")
	}
	if cfg.StdinCloseGrace < 0 {
		add("stdin_close_grace", "must not be negative")
	}
	if cfg.SigTermGrace < 0 {
		add("sigterm_grace", "must not be negative")
	}
	if cfg.PollInterval <= 0 {
		add("poll_interval", "must be positive")
	}

	if cfg.OutputLogRate < 0 {
		add("output_log_rate", "must not be negative")
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			add("metrics_addr", "must be host:port (got %q)", cfg.MetricsAddr)
		}
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		add("log_format", "must be 'json' or 'text' (got %q)", cfg.LogFormat)
	}
	if !logging.ValidLevel(cfg.LogLevel) {
		add("log_level", "must be 'debug', 'info', 'warn' or 'error' (got %q)", cfg.LogLevel)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
