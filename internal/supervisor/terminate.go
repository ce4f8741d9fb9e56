package supervisor

import (
	"time"
)

// Terminate stops the child and releases every resource. It drives
// Running → StdinClosed → SigTermSent → SigKillSent → Reaped, skipping the
// remaining steps as soon as the child is seen to exit, and holds the stdin
// write lock throughout. It returns only after the child is reaped and the
// output pump has finished. Terminate is idempotent and safe before Start.
func (m *ManagedProcess) Terminate() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	proc := m.process()
	if proc == nil {
		if !m.closed {
			m.closed = true
			close(m.events)
		}
		return
	}
	m.closed = true
	if m.released {
		return
	}

	lock := m.writer.Locker()
	lock.Lock()
	defer lock.Unlock()

	cfg := m.config.Terminate
	start := time.Now()
	stage := m.escalate(cfg)

	st, err := proc.Wait()
	if err != nil {
		m.logger.Error("reap_failed", "pid", proc.Pid(), "error", err)
	} else {
		m.recordExit(st)
	}

	m.joinPump(cfg.EventDrain)
	if err := proc.Release(); err != nil {
		m.logger.Debug("release_failed", "error", err)
	}
	m.released = true
	m.advance(StateReaped)

	elapsed := time.Since(start)
	m.logger.Info("process_terminated",
		"pid", proc.Pid(),
		"stage", stage.String(),
		"elapsed", elapsed.String(),
	)
	if m.callbacks.OnTerminate != nil {
		m.callbacks.OnTerminate(m.id, stage, elapsed)
	}
}

// escalate runs the stop steps until the child exits and returns the last
// step taken. The caller holds the write lock. A child that has already
// exited keeps its stdout open so the pump can read what is left in the
// pipe; joinPump bounds that.
func (m *ManagedProcess) escalate(cfg TerminateConfig) State {
	proc := m.process()

	exited := m.awaitExit(0, cfg.PollInterval)
	if err := m.writer.CloseLocked(); err != nil {
		m.logger.Debug("stdin_close_failed", "error", err)
	}
	if !exited {
		m.closeStdout()
	}
	m.advance(StateStdinClosed)
	if exited || m.awaitExit(cfg.StdinCloseGrace, cfg.PollInterval) {
		return StateStdinClosed
	}

	if err := proc.Interrupt(); err != nil {
		m.logger.Warn("interrupt_failed", "pid", proc.Pid(), "error", err)
	}
	m.advance(StateSigTermSent)
	m.logger.Info("terminate_escalated",
		"pid", proc.Pid(),
		"stage", StateSigTermSent.String(),
		"grace", cfg.StdinCloseGrace.String(),
	)
	if m.awaitExit(cfg.SigTermGrace, cfg.PollInterval) {
		return StateSigTermSent
	}

	if err := proc.Kill(); err != nil {
		m.logger.Error("kill_failed", "pid", proc.Pid(), "error", err)
	}
	m.advance(StateSigKillSent)
	m.logger.Warn("terminate_escalated",
		"pid", proc.Pid(),
		"stage", StateSigKillSent.String(),
		"grace", cfg.SigTermGrace.String(),
	)
	return StateSigKillSent
}

// awaitExit polls until the child exits or grace elapses. It polls at least
// once.
func (m *ManagedProcess) awaitExit(grace, interval time.Duration) bool {
	deadline := time.Now().Add(grace)
	for {
		if m.exited.Load() {
			return true
		}
		st, exited, err := m.process().Poll()
		if err != nil {
			m.logger.Debug("poll_failed", "error", err)
			return false
		}
		if exited {
			m.recordExit(st)
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		time.Sleep(min(interval, remaining))
	}
}

func (m *ManagedProcess) closeStdout() {
	if err := m.process().Stdout().Close(); err != nil {
		m.logger.Debug("stdout_close_failed", "error", err)
	}
}

// maxDrainRounds caps how many drain periods joinPump extends while the
// subscriber keeps taking events.
const maxDrainRounds = 50

// joinPump waits for the pump to finish. The wait is extended by drain each
// time the subscriber took at least one event during the last period, up to
// maxDrainRounds. A stalled or capped wait closes stdout and abandons the
// pump; events it could not hand over are dropped.
func (m *ManagedProcess) joinPump(drain time.Duration) {
	m.procMu.RLock()
	pump := m.pump
	m.procMu.RUnlock()

	timer := time.NewTimer(drain)
	defer timer.Stop()

	last := pump.Stats().Delivered
	for round := 1; ; round++ {
		select {
		case <-pump.Done():
			return
		case <-timer.C:
		}
		delivered := pump.Stats().Delivered
		if delivered == last || round >= maxDrainRounds {
			break
		}
		last = delivered
		timer.Reset(drain)
	}

	// Closing stdout ends a read held open by a descendant that inherited
	// the pipe.
	m.closeStdout()
	pump.Abandon()
	<-pump.Done()
	if stats := pump.Stats(); stats.Dropped {
		m.logger.Warn("events_dropped",
			"reason", "subscriber not reading",
			"bytes_read", stats.BytesRead,
			"delivered", stats.Delivered,
		)
	}
}
