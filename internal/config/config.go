// Package config provides configuration management for managed-exec.
package config

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/randomizedcoder/go-managed-exec/internal/platform"
	"github.com/randomizedcoder/go-managed-exec/internal/process"
	"github.com/randomizedcoder/go-managed-exec/internal/supervisor"
)

// Config holds all configuration options for a run.
type Config struct {
	// Command
	Program      string   `yaml:"program"`
	Args         []string `yaml:"args"`       // pre-built list; wins over ArgString
	ArgString    string   `yaml:"arg_string"` // whitespace-split
	Params       []string `yaml:"params"`     // k=value, expands %k
	Stderr       string   `yaml:"stderr"`     // keep, discard, merge
	Dir          string   `yaml:"dir"`
	Nice         int      `yaml:"nice"`
	Env          []string `yaml:"env"` // KEY=VALUE overlaid on the inherited environment
	ProcessGroup bool     `yaml:"process_group"`

	// Input / run control
	Input     string        `yaml:"input"` // "-" forwards our stdin, otherwise a file path
	InputText string        `yaml:"input_text"`
	Duration  time.Duration `yaml:"duration"` // 0 = until the child exits

	// Termination
	StdinCloseGrace time.Duration `yaml:"stdin_close_grace"`
	SigTermGrace    time.Duration `yaml:"sigterm_grace"`
	PollInterval    time.Duration `yaml:"poll_interval"`

	// Output
	Passthrough   bool    `yaml:"passthrough"`     // copy child output to our stdout
	OutputLogRate float64 `yaml:"output_log_rate"` // child lines logged per second, 0 = unlimited

	// Observability
	MetricsAddr string `yaml:"metrics_addr"`
	MetricsDump bool   `yaml:"metrics_dump"`
	Verbose     bool   `yaml:"verbose"`
	LogFormat   string `yaml:"log_format"` // json, text
	LogLevel    string `yaml:"log_level"`

	// Dashboard
	TUIEnabled bool `yaml:"tui"`

	// Diagnostic modes
	PrintCmd      bool   `yaml:"print_cmd"`
	SkipPreflight bool   `yaml:"skip_preflight"`
	Profile       string `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	tc := supervisor.DefaultTerminateConfig()
	return &Config{
		Stderr: "keep",

		StdinCloseGrace: tc.StdinCloseGrace,
		SigTermGrace:    tc.SigTermGrace,
		PollInterval:    tc.PollInterval,

		Passthrough:   true,
		OutputLogRate: 50,

		MetricsAddr: "", // disabled
		LogFormat:   "json",
		LogLevel:    "info",
	}
}

// StderrMode returns the parsed stderr mode. Validate rejects bad values.
func (c *Config) StderrMode() platform.StderrMode {
	mode, _ := platform.ParseStderrMode(c.Stderr)
	return mode
}

// Command returns the command to launch.
func (c *Config) Command() process.Command {
	cmd := process.Command{
		Program:       c.Program,
		ArgString:     c.ArgString,
		Substitutions: c.Substitutions(),
	}
	if len(c.Args) > 0 {
		cmd.Args = append([]string(nil), c.Args...)
	}
	return cmd
}

// Substitutions returns the %k parameters from Params.
func (c *Config) Substitutions() map[rune]string {
	if len(c.Params) == 0 {
		return nil
	}
	subs := make(map[rune]string, len(c.Params))
	for _, p := range c.Params {
		key, value, ok := strings.Cut(p, "=")
		if !ok || utf8.RuneCountInString(key) != 1 {
			continue
		}
		r, _ := utf8.DecodeRuneInString(key)
		subs[r] = value
	}
	return subs
}

// Environment returns the inherited environment with Env overlaid.
func (c *Config) Environment() process.Environment {
	env := process.SnapshotEnvironment()
	if len(c.Env) == 0 {
		return env
	}
	overlay := make(map[string]string, len(c.Env))
	for _, kv := range c.Env {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			overlay[k] = v
		}
	}
	return env.Overlay(overlay)
}

// TerminateConfig returns the termination grace periods.
func (c *Config) TerminateConfig() supervisor.TerminateConfig {
	tc := supervisor.DefaultTerminateConfig()
	tc.StdinCloseGrace = c.StdinCloseGrace
	tc.SigTermGrace = c.SigTermGrace
	tc.PollInterval = c.PollInterval
	return tc
}
