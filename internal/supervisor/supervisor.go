package supervisor

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-managed-exec/internal/platform"
	"github.com/randomizedcoder/go-managed-exec/internal/process"
	"github.com/randomizedcoder/go-managed-exec/internal/stream"
)

// ManagedProcess owns one child process: its pipes, its output pump and the
// lock serializing stdin writes. It launches at most once.
//
// Lifecycle:
//
//  1. m := supervisor.Command("/bin/cat", "")
//  2. m.Start(supervisor.StderrDiscard)
//  3. go consume(m.Events())
//  4. m.Write(...) / m.CloseStdin()
//  5. m.Terminate() (or defer m.Close())
//
// Terminate must run before the ManagedProcess is dropped, otherwise the
// child and its descriptors outlive it.
type ManagedProcess struct {
	id        string
	config    Config
	env       process.Environment
	logger    *slog.Logger
	callbacks Callbacks
	launch    Launcher

	events chan stream.Event

	// lifeMu serializes Start and Terminate.
	lifeMu   sync.Mutex
	closed   bool // Terminate has run
	released bool // OS resources released

	// procMu guards the fields set by a successful Start.
	procMu    sync.RWMutex
	proc      platform.Process
	writer    *stream.Writer
	pump      *stream.Pump
	argv      process.ArgumentVector
	startTime time.Time

	stateMu sync.RWMutex
	state   State

	exited atomic.Bool
	status atomic.Pointer[ExitStatus]
}

// New creates a ManagedProcess. It does not launch anything.
func New(cfg Config) *ManagedProcess {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	cfg.Terminate = cfg.Terminate.withDefaults()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("id", cfg.ID)
	cfg.Pump.Logger = logger
	cfg.Writer.Logger = logger

	env := process.SnapshotEnvironment()
	if cfg.Env != nil {
		env = *cfg.Env
	}

	launch := cfg.Launcher
	if launch == nil {
		launch = platform.Launch
	}

	return &ManagedProcess{
		id:        cfg.ID,
		config:    cfg,
		env:       env,
		logger:    logger,
		callbacks: cfg.Callbacks,
		launch:    launch,
		events:    make(chan stream.Event, cfg.EventBuffer),
		state:     StateUnstarted,
	}
}

// Command creates a ManagedProcess whose arguments are split on whitespace.
// No quoting is interpreted; use CommandArgs for arguments with spaces.
func Command(command, args string, opts ...Option) *ManagedProcess {
	cfg := Config{
		Command:   process.Command{Program: command, ArgString: args},
		Terminate: DefaultTerminateConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg)
}

// CommandArgs creates a ManagedProcess from a pre-built argument list.
func CommandArgs(command string, args ...string) *ManagedProcess {
	list := make([]string, len(args))
	copy(list, args)
	return New(Config{
		Command:   process.Command{Program: command, Args: list},
		Terminate: DefaultTerminateConfig(),
	})
}

// Start launches the child and its output pump. It is a no-op while a
// child is running. A failed Start releases everything it opened and may be
// retried; Start after Terminate returns ErrTerminated.
func (m *ManagedProcess) Start(mode StderrMode) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.closed {
		return ErrTerminated
	}
	if m.process() != nil {
		return nil
	}

	argv := m.config.Command.Build(m.env)
	spec := platform.Spec{
		Argv:         argv.Args(),
		Env:          m.env.Entries(),
		Dir:          m.config.Dir,
		Stderr:       mode,
		ProcessGroup: m.config.ProcessGroup,
	}

	proc, err := m.launch(spec)
	if err != nil {
		m.logger.Error("launch_failed",
			"program", argv.Program(),
			"error", err,
		)
		var le *LaunchError
		if errors.As(err, &le) && m.callbacks.OnLaunchError != nil {
			m.callbacks.OnLaunchError(m.id, le)
		}
		return err
	}

	// Applied after the spawn, so the child starts at normal priority.
	if m.config.Nice != 0 {
		if err := proc.SetPriority(m.config.Nice); err != nil {
			m.logger.Warn("set_priority_failed",
				"pid", proc.Pid(),
				"nice", m.config.Nice,
				"error", err,
			)
		}
	}

	writer := stream.NewWriter(proc.Stdin(), m.config.Writer)
	pump := stream.NewPump(proc.Stdout(), m.events, m.config.Pump)

	m.procMu.Lock()
	m.proc = proc
	m.writer = writer
	m.pump = pump
	m.argv = argv
	m.startTime = time.Now()
	m.procMu.Unlock()

	go pump.Run()
	m.advance(StateRunning)

	m.logger.Info("process_started",
		"pid", proc.Pid(),
		"program", argv.Program(),
		"argc", argv.Len(),
		"stderr", mode.String(),
	)
	if m.callbacks.OnStart != nil {
		m.callbacks.OnStart(m.id, proc.Pid())
	}
	return nil
}

// Write writes p to the child's stdin and returns the number of bytes the
// child accepted. Concurrent calls are serialized; each call's bytes reach
// the child contiguously. After CloseStdin or Terminate it returns
// (0, ErrStdinClosed).
func (m *ManagedProcess) Write(p []byte) (int, error) {
	w := m.stdinWriter()
	if w == nil {
		return 0, ErrNotStarted
	}
	return w.Write(p)
}

// WriteString is Write for a string.
func (m *ManagedProcess) WriteString(s string) (int, error) {
	return m.Write([]byte(s))
}

// CloseStdin closes the child's stdin so it reads EOF. It is idempotent and
// a no-op before Start.
func (m *ManagedProcess) CloseStdin() error {
	w := m.stdinWriter()
	if w == nil {
		return nil
	}
	if err := w.Close(); err != nil {
		return err
	}
	m.logger.Debug("stdin_closed")
	return nil
}

// IsRunning polls the child without blocking. It is safe to call
// concurrently with every other method, Terminate included.
func (m *ManagedProcess) IsRunning() bool {
	proc := m.process()
	if proc == nil || m.exited.Load() {
		return false
	}
	st, exited, err := proc.Poll()
	if err != nil {
		m.logger.Debug("poll_failed", "error", err)
		return false
	}
	if exited {
		m.recordExit(st)
		return false
	}
	return true
}

// Wait collects the child's exit status. A non-blocking Wait on a live
// child returns ErrStillRunning. Wait fails with ErrNotStarted before Start
// and with ErrAlreadyReaped when the status was collected elsewhere.
func (m *ManagedProcess) Wait(blocking bool) (ExitStatus, error) {
	proc := m.process()
	if proc == nil {
		return ExitStatus{}, ErrNotStarted
	}
	if m.exited.Load() {
		st, _ := m.ExitStatus()
		return st, ErrAlreadyReaped
	}

	var (
		st     ExitStatus
		exited = true
		err    error
	)
	if blocking {
		st, err = proc.Wait()
	} else {
		st, exited, err = proc.Poll()
	}
	if err != nil {
		return ExitStatus{}, err
	}
	if !exited {
		return ExitStatus{}, ErrStillRunning
	}
	if !m.recordExit(st) {
		return st, ErrAlreadyReaped
	}
	return st, nil
}

// Close terminates the child. It implements io.Closer.
func (m *ManagedProcess) Close() error {
	m.Terminate()
	return nil
}

// Events returns the output channel. It carries Data events followed by a
// single Terminated event and is then closed. It has exactly one consumer.
func (m *ManagedProcess) Events() <-chan stream.Event {
	return m.events
}

// ID returns the instance identifier.
func (m *ManagedProcess) ID() string {
	return m.id
}

// Pid returns the child's process ID, or 0 before Start.
func (m *ManagedProcess) Pid() int {
	if proc := m.process(); proc != nil {
		return proc.Pid()
	}
	return 0
}

// State returns the current lifecycle state.
func (m *ManagedProcess) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// ExitStatus returns the recorded exit status, if collected.
func (m *ManagedProcess) ExitStatus() (ExitStatus, bool) {
	if st := m.status.Load(); st != nil {
		return *st, true
	}
	return ExitStatus{}, false
}

// Uptime returns the time since launch, or 0 before Start.
func (m *ManagedProcess) Uptime() time.Duration {
	m.procMu.RLock()
	defer m.procMu.RUnlock()
	if m.startTime.IsZero() {
		return 0
	}
	return time.Since(m.startTime)
}

// String returns the command line, for display only.
func (m *ManagedProcess) String() string {
	m.procMu.RLock()
	argv := m.argv
	m.procMu.RUnlock()
	if !argv.IsZero() {
		return argv.String()
	}
	return m.config.Command.String()
}

// IOStats is a snapshot of the byte counters.
type IOStats struct {
	BytesRead    int64
	Chunks       int64
	BytesWritten int64
	Writes       int64
	// Dropped is true when output was discarded because the subscriber
	// stopped reading.
	Dropped bool
}

// IOStats returns the stdout and stdin counters.
func (m *ManagedProcess) IOStats() IOStats {
	m.procMu.RLock()
	defer m.procMu.RUnlock()
	var s IOStats
	if m.pump != nil {
		ps := m.pump.Stats()
		s.BytesRead, s.Chunks, s.Dropped = ps.BytesRead, ps.Chunks, ps.Dropped
	}
	if m.writer != nil {
		s.BytesWritten, s.Writes = m.writer.BytesWritten(), m.writer.Writes()
	}
	return s
}

func (m *ManagedProcess) process() platform.Process {
	m.procMu.RLock()
	defer m.procMu.RUnlock()
	return m.proc
}

func (m *ManagedProcess) stdinWriter() *stream.Writer {
	m.procMu.RLock()
	defer m.procMu.RUnlock()
	return m.writer
}

// advance moves the state forward and reports the change. Backward moves
// are ignored.
func (m *ManagedProcess) advance(newState State) {
	m.stateMu.Lock()
	oldState := m.state
	if newState <= oldState {
		m.stateMu.Unlock()
		return
	}
	m.state = newState
	m.stateMu.Unlock()

	m.logger.Debug("state_change",
		"from", oldState.String(),
		"to", newState.String(),
	)
	if m.callbacks.OnStateChange != nil {
		m.callbacks.OnStateChange(m.id, oldState, newState)
	}
}

// recordExit stores the exit status the first time it is seen and reports
// whether this call stored it.
func (m *ManagedProcess) recordExit(st ExitStatus) bool {
	if !m.exited.CompareAndSwap(false, true) {
		return false
	}
	m.status.Store(&st)
	uptime := m.Uptime()
	m.advance(StateReaped)

	m.logger.Info("process_exited",
		"pid", m.Pid(),
		"exit_code", st.ExitCode(),
		"status", st.String(),
		"uptime", uptime.String(),
	)
	if m.callbacks.OnExit != nil {
		m.callbacks.OnExit(m.id, st, uptime)
	}
	return true
}
