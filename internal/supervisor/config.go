package supervisor

import (
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-managed-exec/internal/platform"
	"github.com/randomizedcoder/go-managed-exec/internal/process"
	"github.com/randomizedcoder/go-managed-exec/internal/stream"
)

// StderrMode selects where the child's stderr goes.
type StderrMode = platform.StderrMode

const (
	StderrKeep    = platform.StderrKeep
	StderrDiscard = platform.StderrDiscard
	StderrMerge   = platform.StderrMerge
)

// ExitStatus is the reaped status of the child.
type ExitStatus = platform.ExitStatus

// Launcher spawns a child. platform.Launch is the default.
type Launcher func(platform.Spec) (platform.Process, error)

// DefaultEventBuffer is the event channel capacity used when Config leaves
// it 0.
const DefaultEventBuffer = 64

// TerminateConfig holds the grace periods of the termination sequence.
type TerminateConfig struct {
	// StdinCloseGrace is how long a child may take to exit after its stdin
	// closes (default: 100ms).
	StdinCloseGrace time.Duration

	// SigTermGrace is how long a child may take to exit after the soft
	// stop request (default: 500ms).
	SigTermGrace time.Duration

	// PollInterval is the pause between exit polls (default: 10ms).
	PollInterval time.Duration

	// EventDrain is how long termination waits for the event subscriber to
	// take the remaining events before dropping them (default: 100ms).
	EventDrain time.Duration
}

// DefaultTerminateConfig returns the default grace periods.
func DefaultTerminateConfig() TerminateConfig {
	return TerminateConfig{
		StdinCloseGrace: 100 * time.Millisecond,
		SigTermGrace:    500 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		EventDrain:      100 * time.Millisecond,
	}
}

// MaxDuration bounds the sequence up to the forceful kill.
func (c TerminateConfig) MaxDuration() time.Duration {
	return c.StdinCloseGrace + c.SigTermGrace + 2*c.PollInterval
}

func (c TerminateConfig) withDefaults() TerminateConfig {
	def := DefaultTerminateConfig()
	if c == (TerminateConfig{}) {
		return def
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.EventDrain <= 0 {
		c.EventDrain = def.EventDrain
	}
	if c.StdinCloseGrace < 0 {
		c.StdinCloseGrace = 0
	}
	if c.SigTermGrace < 0 {
		c.SigTermGrace = 0
	}
	return c
}

// Callbacks contains optional callback functions for lifecycle events.
// They run on the goroutine that caused the event and must not call back
// into the ManagedProcess's Start or Terminate.
type Callbacks struct {
	// OnStateChange is called when the state moves forward.
	OnStateChange func(id string, oldState, newState State)

	// OnStart is called after a successful launch.
	OnStart func(id string, pid int)

	// OnLaunchError is called when Start fails.
	OnLaunchError func(id string, err *LaunchError)

	// OnExit is called once, when the exit status is collected.
	OnExit func(id string, status ExitStatus, uptime time.Duration)

	// OnTerminate is called when Terminate finishes. stage is the last
	// escalation step taken.
	OnTerminate func(id string, stage State, elapsed time.Duration)
}

// Config holds configuration for creating a new ManagedProcess.
type Config struct {
	// ID names the instance in logs and callbacks. Empty generates a UUID.
	ID string

	Command process.Command

	// Env is the environment handed to the child. Nil snapshots the
	// calling process's environment when New runs.
	Env *process.Environment

	// Dir is the child's working directory. Empty inherits ours.
	Dir string

	// Nice adjusts the child's scheduling priority after launch.
	Nice int

	// ProcessGroup starts the child in its own process group and signals
	// the whole group.
	ProcessGroup bool

	Terminate TerminateConfig
	Writer    stream.WriterConfig
	Pump      stream.PumpConfig

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int

	Logger    *slog.Logger
	Callbacks Callbacks

	// Launcher replaces platform.Launch.
	Launcher Launcher
}

// Option customizes a Config built by Command or CommandArgs.
type Option func(*Config)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithCallbacks sets the lifecycle callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(c *Config) { c.Callbacks = cb }
}

// WithEnv sets the environment handed to the child.
func WithEnv(env process.Environment) Option {
	return func(c *Config) { c.Env = &env }
}

// WithDir sets the working directory.
func WithDir(dir string) Option {
	return func(c *Config) { c.Dir = dir }
}

// WithNice sets the scheduling priority adjustment.
func WithNice(nice int) Option {
	return func(c *Config) { c.Nice = nice }
}

// WithProcessGroup places the child in its own process group.
func WithProcessGroup() Option {
	return func(c *Config) { c.ProcessGroup = true }
}

// WithTerminateConfig sets the termination grace periods.
func WithTerminateConfig(tc TerminateConfig) Option {
	return func(c *Config) { c.Terminate = tc }
}

// WithSubstitutions expands %k parameters in the arguments.
func WithSubstitutions(subs map[rune]string) Option {
	return func(c *Config) { c.Command.Substitutions = subs }
}

// WithEventBuffer sets the Events channel capacity.
func WithEventBuffer(n int) Option {
	return func(c *Config) { c.EventBuffer = n }
}

// WithID sets the instance identifier.
func WithID(id string) Option {
	return func(c *Config) { c.ID = id }
}

// WithLauncher replaces the platform launcher.
func WithLauncher(l Launcher) Option {
	return func(c *Config) { c.Launcher = l }
}
