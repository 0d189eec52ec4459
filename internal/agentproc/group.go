package agentproc

import (
	"errors"
	"syscall"
	"time"
)

// stopSignals are sent to the agent's group in order, one per grace period,
// until it goes away.
var stopSignals = []syscall.Signal{syscall.SIGINT, syscall.SIGKILL}

// signalGroup delivers sig to every process in the group led by pid. A
// group that no longer exists is not an error.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// escalate waits for done. Each grace period that passes without it sends
// the next of stopSignals; next tracks progress so a later call resumes
// where an earlier one stopped. It reports false once the signals are
// spent and a final grace period has passed.
func (p *Process) escalate(done <-chan struct{}, next *int) bool {
	for {
		select {
		case <-done:
			return true
		case <-time.After(p.grace):
		}
		if *next >= len(stopSignals) {
			return false
		}
		sig := stopSignals[*next]
		*next++
		if err := signalGroup(p.cmd.Process.Pid, sig); err != nil {
			p.logger.Warn("failed to signal agent group", "signal", sig, "error", err)
		}
	}
}
