package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/security-mcp/forkstress/internal/proc"
	"github.com/security-mcp/forkstress/internal/stress"
)

// Outcomes recorded in end and error events
const (
	OutcomePassed = "passed"
	OutcomeFailed = "failed"
	OutcomeError  = "error"
)

// Event represents one run report entry
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"type"` // "start", "end", "error"
	Malloc     string    `json:"malloc"`
	NumChunks  int       `json:"num_chunks"`
	ChunkSize  int       `json:"chunk_size"`
	Iterations int       `json:"iterations"`
	Pid        int       `json:"pid,omitempty"`
	WorkerPid  int       `json:"worker_pid,omitempty"`
	ExitCode   int       `json:"exit_code,omitempty"`
	Signal     int       `json:"signal,omitempty"`
	Duration   string    `json:"duration,omitempty"` // ISO 8601 duration format
	Error      string    `json:"error,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
}

// Logger appends run events to a file as JSON lines
type Logger struct {
	logFile string
	file    *os.File
	lock    sync.Mutex
	logger  *slog.Logger
}

// NewLogger opens (or creates) the report file
func NewLogger(logFile string) (*Logger, error) {
	if logFile == "" {
		return nil, fmt.Errorf("log file path cannot be empty")
	}

	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		logFile: logFile,
		file:    file,
		logger:  slog.Default(),
	}, nil
}

// Log writes an event to the report file
func (l *Logger) Log(event Event) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.file == nil {
		return fmt.Errorf("logger file not initialized")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal report event: %w", err)
	}

	if err := lockFile(l.file); err != nil {
		return fmt.Errorf("failed to lock report file: %w", err)
	}
	defer unlockFile(l.file) //nolint:errcheck // released on close regardless

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write report event: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		l.logger.Warn("failed to sync report file", slog.String("error", err.Error()))
	}

	return nil
}

// LogStart records the start of a run
func (l *Logger) LogStart(cfg stress.Config) error {
	event := newEvent("start", cfg)
	event.Pid = os.Getpid()
	return l.Log(event)
}

// LogEnd records the worker's verdict. err is nil for a passing run or the
// driver's *proc.ExitError; any other error is recorded as an error event,
// as LogError would.
func (l *Logger) LogEnd(cfg stress.Config, outcome proc.Outcome, duration time.Duration, err error) error {
	event := newEvent("end", cfg)
	event.Pid = os.Getpid()
	event.WorkerPid = outcome.Pid
	event.Duration = formatDuration(duration)
	event.Outcome = OutcomePassed

	var exitErr *proc.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		event.Outcome = OutcomeFailed
		event.Error = err.Error()
		if exitErr.Kind == proc.Exited {
			event.ExitCode = exitErr.Code
		} else {
			event.Signal = int(exitErr.Signal)
		}
	default:
		event.Type = "error"
		event.Outcome = OutcomeError
		event.Error = err.Error()
	}

	return l.Log(event)
}

// LogError records a run that failed before the worker's verdict, such as
// a malloc, fork or waitpid failure
func (l *Logger) LogError(cfg stress.Config, errMsg string) error {
	event := newEvent("error", cfg)
	event.Pid = os.Getpid()
	event.Error = errMsg
	event.Outcome = OutcomeError
	return l.Log(event)
}

// Close closes the report file
func (l *Logger) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func newEvent(typ string, cfg stress.Config) Event {
	return Event{
		Timestamp:  time.Now().UTC(),
		Type:       typ,
		Malloc:     string(cfg.Timing),
		NumChunks:  cfg.NumChunks,
		ChunkSize:  cfg.ChunkSize,
		Iterations: cfg.Iterations,
	}
}

// formatDuration renders d as an ISO 8601 duration
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("PT%d.%09dS", int64(d.Seconds()), d.Nanoseconds()%1e9)
}
