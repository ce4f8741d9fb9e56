package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-managed-exec/internal/stats"
	"github.com/randomizedcoder/go-managed-exec/internal/supervisor"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// ExitedMsg reports that the child has been reaped.
type ExitedMsg struct {
	Status supervisor.ExitStatus
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// writeDoneMsg carries the result of forwarding one input line.
type writeDoneMsg struct {
	line string
	err  error
}

// closeDoneMsg carries the result of closing stdin.
type closeDoneMsg struct{ err error }

// terminatedMsg is sent when Terminate has returned.
type terminatedMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Status is what the dashboard shows about the child.
type Status struct {
	State       supervisor.State
	Pid         int
	Exit        supervisor.ExitStatus
	Exited      bool
	Stats       stats.Snapshot
	RecentLines []string
}

// Process is the dashboard's view of the supervised child.
type Process interface {
	Status(recent int) Status
	WriteLine(line string) error
	CloseStdin() error
	Terminate()
}

// Config holds TUI configuration.
type Config struct {
	Command     string
	MetricsAddr string
	Process     Process

	// TickInterval defaults to 250ms.
	TickInterval time.Duration
}

// Model represents the TUI state.
type Model struct {
	command      string
	metricsAddr  string
	proc         Process
	tickInterval time.Duration

	status      Status
	startTime   time.Time
	input       []rune
	stdinClosed bool
	terminating bool
	notice      string
	noticeBad   bool

	width  int
	height int

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	return Model{
		command:      cfg.Command,
		metricsAddr:  cfg.MetricsAddr,
		proc:         cfg.Process,
		tickInterval: tick,
		startTime:    time.Now(),
		width:        80,
		height:       24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return m.tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.refresh()
		return m, m.tickCmd()

	case writeDoneMsg:
		if msg.err != nil {
			m.setNotice("write failed: "+msg.err.Error(), true)
		} else {
			m.setNotice("sent "+quoteLine(msg.line), false)
		}
		return m, nil

	case closeDoneMsg:
		if msg.err != nil {
			m.setNotice("close stdin failed: "+msg.err.Error(), true)
		} else {
			m.setNotice("stdin closed", false)
		}
		return m, nil

	case terminatedMsg:
		m.terminating = false
		m.refresh()
		m.setNotice("terminated", false)
		return m, nil

	case ExitedMsg:
		m.status.Exited = true
		m.status.Exit = msg.Status
		m.refresh()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.quitting = true
		return m, tea.Sequence(m.terminateCmd(), tea.Quit)

	case tea.KeyCtrlT:
		if m.terminating || m.proc == nil {
			return m, nil
		}
		m.terminating = true
		m.setNotice("terminating...", false)
		return m, m.terminateCmd()

	case tea.KeyCtrlD:
		if m.stdinClosed || m.proc == nil {
			return m, nil
		}
		m.stdinClosed = true
		return m, m.closeCmd()

	case tea.KeyEnter:
		if m.stdinClosed {
			m.setNotice("stdin is closed", true)
			return m, nil
		}
		line := string(m.input)
		m.input = m.input[:0]
		return m, m.writeCmd(line)

	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil

	case tea.KeyCtrlU:
		m.input = m.input[:0]
		return m, nil

	case tea.KeyRunes, tea.KeySpace:
		if !m.stdinClosed {
			m.input = append(m.input, msg.Runes...)
		}
		return m, nil
	}
	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderView()
}

func (m *Model) refresh() {
	if m.proc == nil {
		return
	}
	exited, exit := m.status.Exited, m.status.Exit
	m.status = m.proc.Status(m.outputRows())
	if !m.status.Exited && exited {
		m.status.Exited, m.status.Exit = exited, exit
	}
}

func (m *Model) setNotice(s string, bad bool) {
	m.notice = s
	m.noticeBad = bad
}

// =============================================================================
// Commands
// =============================================================================

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.tickInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) writeCmd(line string) tea.Cmd {
	proc := m.proc
	if proc == nil {
		return nil
	}
	return func() tea.Msg {
		return writeDoneMsg{line: line, err: proc.WriteLine(line)}
	}
}

func (m Model) closeCmd() tea.Cmd {
	proc := m.proc
	return func() tea.Msg {
		return closeDoneMsg{err: proc.CloseStdin()}
	}
}

func (m Model) terminateCmd() tea.Cmd {
	proc := m.proc
	if proc == nil {
		return nil
	}
	return func() tea.Msg {
		proc.Terminate()
		return terminatedMsg{}
	}
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Input returns the pending input line.
func (m Model) Input() string {
	return string(m.input)
}

// StdinClosed reports whether ctrl+d was pressed.
func (m Model) StdinClosed() bool {
	return m.stdinClosed
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendExited tells the TUI the child has been reaped.
func SendExited(p *tea.Program, status supervisor.ExitStatus) {
	if p != nil {
		p.Send(ExitedMsg{Status: status})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}
