//go:build !(linux || darwin)

package proc

import (
	"errors"
	"os/exec"
)

// Process is a started child. Without wait4 only exits can be observed.
type Process struct {
	cmd    *exec.Cmd
	pid    int
	reaped bool
}

func (p *Process) Pid() int {
	return p.pid
}

func (p *Process) Wait() (Outcome, error) {
	err := p.cmd.Wait()
	p.reaped = true

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return Outcome{Pid: p.pid}, err
	}
	return Outcome{Pid: p.pid, Kind: Exited, Code: p.cmd.ProcessState.ExitCode()}, nil
}

func (p *Process) Kill() error {
	if p.reaped {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return err
	}
	_, err := p.Wait()
	return err
}
