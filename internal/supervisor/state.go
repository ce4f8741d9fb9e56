// Package supervisor runs one external program per ManagedProcess: it
// launches the child, feeds its stdin, streams its stdout as events and
// brings it down with an escalating termination sequence.
package supervisor

// State is the lifecycle position of a ManagedProcess. States only move
// forward.
type State int

const (
	// StateUnstarted is the initial state; nothing has been launched.
	StateUnstarted State = iota

	// StateRunning is entered at successful launch.
	StateRunning

	// StateStdinClosed means termination closed the child's stdin and
	// stdout pipes and is waiting for it to exit.
	StateStdinClosed

	// StateSigTermSent means the soft stop request was delivered.
	StateSigTermSent

	// StateSigKillSent means the forceful kill was delivered.
	StateSigKillSent

	// StateReaped means the exit status has been collected.
	StateReaped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateStdinClosed:
		return "stdin_closed"
	case StateSigTermSent:
		return "sigterm_sent"
	case StateSigKillSent:
		return "sigkill_sent"
	case StateReaped:
		return "reaped"
	default:
		return "unknown"
	}
}

// IsActive returns true while a child exists that has not been reaped.
func (s State) IsActive() bool {
	return s >= StateRunning && s < StateReaped
}

// IsTerminating returns true once the termination sequence has begun and
// the child is not yet reaped.
func (s State) IsTerminating() bool {
	return s > StateRunning && s < StateReaped
}

// IsTerminal returns true for StateReaped.
func (s State) IsTerminal() bool {
	return s == StateReaped
}
