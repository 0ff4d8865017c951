package proc

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Limits are resource limits applied to a spawned process
type Limits struct {
	// CoreDumps keeps the inherited RLIMIT_CORE. When false the child may not
	// write a core file, so an aborted worker does not dump its chunk table.
	CoreDumps bool
}

// Launcher starts child processes from a fixed executable
type Launcher struct {
	executable string
	limits     Limits
	env        map[string]string
	stdout     *os.File
	stderr     *os.File
	logger     *slog.Logger
}

// NewLauncher creates a launcher for executable
func NewLauncher(executable string, limits Limits) (*Launcher, error) {
	if executable == "" {
		return nil, fmt.Errorf("executable cannot be empty")
	}

	return &Launcher{
		executable: executable,
		limits:     limits,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		logger:     slog.Default(),
	}, nil
}

// SetLogger sets the logger
func (l *Launcher) SetLogger(logger *slog.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// SetEnv sets variables added to (or overriding) the inherited environment
func (l *Launcher) SetEnv(env map[string]string) {
	l.env = env
}

// SetOutput redirects the child's stdout and stderr. Files are passed to the
// child directly, so no copying goroutines outlive the wait.
func (l *Launcher) SetOutput(stdout, stderr *os.File) {
	l.stdout = stdout
	l.stderr = stderr
}

// Start spawns the executable with args. extra files become descriptors
// 3, 4, ... in the child.
func (l *Launcher) Start(args []string, extra []*os.File) (*Process, error) {
	cmd := exec.Command(l.executable, args...)
	cmd.Env = l.Environ()
	cmd.Stdout = l.stdout
	cmd.Stderr = l.stderr
	cmd.ExtraFiles = extra

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	pid := cmd.Process.Pid
	l.logger.Debug("process started", slog.Int("pid", pid), slog.String("command", l.executable))

	if err := applyLimits(pid, l.limits); err != nil {
		l.logger.Debug("prlimit application failed (non-critical)", slog.String("error", err.Error()))
	}

	return &Process{cmd: cmd, pid: pid}, nil
}

// Environ returns the environment children start with: the launcher's
// variables merged over the current environment, sorted
func (l *Launcher) Environ() []string {
	envMap := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			envMap[key] = value
		}
	}
	for k, v := range l.env {
		envMap[k] = v
	}

	envSlice := make([]string, 0, len(envMap))
	for k, v := range envMap {
		envSlice = append(envSlice, k+"="+v)
	}
	sort.Strings(envSlice)
	return envSlice
}
