//go:build linux || darwin

package proc

import (
	"errors"
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Process is a started child. It is reaped by Wait or Kill, never by
// exec.Cmd.Wait, so that stops can be observed.
type Process struct {
	cmd    *exec.Cmd
	pid    int
	reaped bool
}

// Pid returns the child's process id
func (p *Process) Pid() int {
	return p.pid
}

// Wait blocks until the child exits, is killed by a signal or is stopped.
// Interrupted waits are retried; any other wait failure is returned.
func (p *Process) Wait() (Outcome, error) {
	if p.reaped {
		return Outcome{Pid: p.pid}, fmt.Errorf("process %d already reaped", p.pid)
	}

	ws, err := wait4(p.pid, unix.WUNTRACED)
	if err != nil {
		return Outcome{Pid: p.pid}, err
	}

	outcome, err := outcomeFromStatus(p.pid, ws)
	if err != nil {
		return outcome, err
	}
	if outcome.Kind != Stopped {
		p.markReaped()
	}
	return outcome, nil
}

// Kill sends SIGKILL and reaps the child. Killing a reaped child is a no-op.
func (p *Process) Kill() error {
	if p.reaped {
		return nil
	}

	if err := unix.Kill(p.pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill: %w", err)
	}
	if _, err := wait4(p.pid, 0); err != nil {
		return err
	}

	p.markReaped()
	return nil
}

func (p *Process) markReaped() {
	p.reaped = true
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Release() //nolint:errcheck // pid already reaped
	}
}

// wait4 waits for pid, retrying on EINTR
func wait4(pid, options int) (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, options, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return ws, fmt.Errorf("wait4 %d: %w", pid, err)
		}
		return ws, nil
	}
}

func outcomeFromStatus(pid int, ws unix.WaitStatus) (Outcome, error) {
	switch {
	case ws.Exited():
		return Outcome{Pid: pid, Kind: Exited, Code: ws.ExitStatus()}, nil
	case ws.Signaled():
		return Outcome{Pid: pid, Kind: Signaled, Signal: ws.Signal()}, nil
	case ws.Stopped():
		return Outcome{Pid: pid, Kind: Stopped, Signal: ws.StopSignal()}, nil
	default:
		return Outcome{Pid: pid}, fmt.Errorf("unknown wait status %#x for process %d", uint32(ws), pid)
	}
}
