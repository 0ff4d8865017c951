// Package proc spawns the worker process and reports how it terminated.
package proc

import (
	"fmt"
	"syscall"
)

// Kind classifies a wait status. The zero Kind is Unknown, so an Outcome
// returned alongside an error never reports success.
type Kind int

const (
	Unknown Kind = iota
	Exited
	Signaled
	Stopped
)

func (k Kind) String() string {
	switch k {
	case Unknown:
		return "unknown"
	case Exited:
		return "exited"
	case Signaled:
		return "signaled"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the state change reported for a child process
type Outcome struct {
	Pid    int
	Kind   Kind
	Code   int            // exit code, when Kind is Exited
	Signal syscall.Signal // terminating or stopping signal otherwise
}

func (o Outcome) String() string {
	switch o.Kind {
	case Unknown:
		return fmt.Sprintf("pid %d in unknown state", o.Pid)
	case Exited:
		return fmt.Sprintf("pid %d exited with code %d", o.Pid, o.Code)
	default:
		return fmt.Sprintf("pid %d %s by signal %d (%s)", o.Pid, o.Kind, int(o.Signal), o.Signal)
	}
}

// Success reports whether the child exited normally with code 0
func (o Outcome) Success() bool {
	return o.Kind == Exited && o.Code == 0
}

// Err returns nil for a clean exit and an *ExitError for anything else
func (o Outcome) Err() error {
	if o.Success() {
		return nil
	}
	return &ExitError{Outcome: o}
}

// ExitError reports a worker that did not exit cleanly
type ExitError struct {
	Outcome
}

func (e *ExitError) Error() string {
	switch e.Kind {
	case Exited:
		return fmt.Sprintf("worker process %d exited with code %d", e.Pid, e.Code)
	case Signaled:
		return fmt.Sprintf("worker process %d terminated by signal %d", e.Pid, int(e.Signal))
	case Stopped:
		return fmt.Sprintf("worker process %d stopped by signal %d", e.Pid, int(e.Signal))
	default:
		return fmt.Sprintf("unknown error while waiting on worker %d", e.Pid)
	}
}
