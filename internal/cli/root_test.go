package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/security-mcp/forkstress/internal/config"
	"github.com/security-mcp/forkstress/internal/proc"
	"github.com/security-mcp/forkstress/internal/report"
	"github.com/security-mcp/forkstress/internal/stress"
)

// executeCmd runs a fresh command tree with args against an empty home
func executeCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCmd()
	assert.Equal(t, "forkstress", cmd.Use)
	assert.Contains(t, cmd.Short, "allocator")
}

func TestSubcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]*cobra.Command)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = sub
	}

	require.Contains(t, names, "doctor")
	require.Contains(t, names, "worker")
	assert.False(t, names["doctor"].Hidden)
	assert.True(t, names["worker"].Hidden, "worker is an internal command")
}

func TestRootFlags(t *testing.T) {
	cmd := newRootCmd()

	tests := []struct {
		name      string
		shorthand string
	}{
		{"malloc", "m"},
		{"num-chunks", "n"},
		{"chunk-size", "s"},
		{"iterations", "i"},
		{"report", ""},
		{"report-file", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := cmd.Flags().Lookup(tt.name)
			require.NotNil(t, flag)
			assert.Equal(t, tt.shorthand, flag.Shorthand)
		})
	}

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
}

func TestHelp(t *testing.T) {
	stdout, _, err := executeCmd(t, "-h")
	require.NoError(t, err)
	assert.Contains(t, stdout, "--malloc")
	assert.Contains(t, stdout, "--num-chunks")
	assert.NotContains(t, stdout, "Running with configuration")
}

func TestInvalidInvocations(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing malloc",
			args:    []string{"-n", "4"},
			wantErr: `required flag(s) "malloc" not set`,
		},
		{
			name:    "unknown malloc time",
			args:    []string{"-m", "sideways"},
			wantErr: "invalid malloc time",
		},
		{
			name:    "non-numeric chunk count",
			args:    []string{"-m", "before", "-n", "abc"},
			wantErr: "invalid argument",
		},
		{
			name:    "negative chunk count",
			args:    []string{"-m", "before", "-n", "-1"},
			wantErr: "non-negative integer (num-chunks)",
		},
		{
			name:    "negative chunk size",
			args:    []string{"--malloc", "after", "--chunk-size", "-5"},
			wantErr: "non-negative integer (chunk-size)",
		},
		{
			name:    "negative iterations",
			args:    []string{"-m", "after", "-i", "-2"},
			wantErr: "non-negative integer (iterations)",
		},
		{
			name:    "unknown flag",
			args:    []string{"-m", "after", "--frobnicate"},
			wantErr: "unknown flag",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, err := executeCmd(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			// SetOut also captures usage here; TestStress_UsageOnStderr checks the real streams
			assert.Contains(t, stdout+stderr, "Usage:")
			assert.NotContains(t, stdout, "Running with configuration")
		})
	}
}

func TestResolve(t *testing.T) {
	cfg := &config.Config{NumChunks: 8, ChunkSize: 32, Iterations: 5}

	tests := []struct {
		name string
		args []string
		want stress.Config
	}{
		{
			name: "configured defaults",
			args: []string{"-m", "before"},
			want: stress.Config{Timing: stress.TimingBefore, NumChunks: 8, ChunkSize: 32, Iterations: 5},
		},
		{
			name: "flags override config",
			args: []string{"-m", "after", "-n", "0", "--chunk-size", "3", "-i", "1"},
			want: stress.Config{Timing: stress.TimingAfter, NumChunks: 0, ChunkSize: 3, Iterations: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &stressOptions{}
			cmd := &cobra.Command{Use: "test"}
			opts.addFlags(cmd)
			require.NoError(t, cmd.ParseFlags(tt.args))

			got, err := opts.resolve(cmd, cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_InvalidConfigValue(t *testing.T) {
	opts := &stressOptions{}
	cmd := &cobra.Command{Use: "test"}
	opts.addFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"-m", "before"}))

	_, err := opts.resolve(cmd, &config.Config{NumChunks: 1, ChunkSize: 1, Iterations: -3})
	assert.Error(t, err)
}

func TestWorkerArgs(t *testing.T) {
	cfg := stress.Config{Timing: stress.TimingBefore, NumChunks: 4, ChunkSize: 16, Iterations: 3}

	assert.Equal(t,
		[]string{"worker", "--malloc", "before", "--num-chunks", "4", "--chunk-size", "16", "--iterations", "3", "--arena-fd", "3"},
		workerArgs(cfg, true, false),
	)

	cfg.Timing = stress.TimingAfter
	args := workerArgs(cfg, false, true)
	assert.NotContains(t, args, "--arena-fd")
	assert.Equal(t, "--verbose", args[len(args)-1])
}

func TestWorkerArgs_ParseBack(t *testing.T) {
	cmd := newWorkerCmd(&app{})
	cfg := stress.Config{Timing: stress.TimingAfter, NumChunks: 7, ChunkSize: 9, Iterations: 2}

	args := workerArgs(cfg, true, false)
	require.NoError(t, cmd.ParseFlags(args[1:]))

	n, err := cmd.Flags().GetInt("num-chunks")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	fd, err := cmd.Flags().GetInt("arena-fd")
	require.NoError(t, err)
	assert.Equal(t, arenaFD, fd)
}

func TestCreateLogger(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		level   string
		enabled slog.Level
		hidden  slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 1},
		{"INFO", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"bogus", slog.LevelWarn, slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := createLogger(tt.level)
			assert.True(t, logger.Enabled(ctx, tt.enabled))
			assert.False(t, logger.Enabled(ctx, tt.hidden))
		})
	}
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, errors.New("waitpid: no child processes"))
	assert.Equal(t, "ERROR: waitpid: no child processes\n", buf.String())
}

func TestConfigureColor_NotATerminal(t *testing.T) {
	saved := color.NoColor
	t.Cleanup(func() { color.NoColor = saved })

	color.NoColor = false
	configureColor(&bytes.Buffer{})
	assert.True(t, color.NoColor, "colour must be off when stdout is not a terminal")
}

func TestDoctor_Text(t *testing.T) {
	stdout, _, err := executeCmd(t, "doctor")
	require.NoError(t, err)
	assert.Contains(t, stdout, "forkstress Diagnostics")
	assert.Contains(t, stdout, "Shared arena")
	assert.Contains(t, stdout, "256 chunks of 64 KiB (16 MiB per process)")
}

func TestDoctor_JSON(t *testing.T) {
	stdout, _, err := executeCmd(t, "doctor", "--json")
	require.NoError(t, err)

	var info proc.DiagnosticInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.NotEmpty(t, info.OS)
	assert.Positive(t, info.PageSize)
}

func TestDoctor_InvalidConfig(t *testing.T) {
	t.Setenv("FORKSTRESS_NUM_CHUNKS", "-4")
	_, _, err := executeCmd(t, "doctor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNewWorkerLauncher_Environment(t *testing.T) {
	t.Setenv("GOTRACEBACK", "single")

	w, err := newWorkerLauncher("/bin/true", &config.Config{}, createLogger("error"), false)
	require.NoError(t, err)

	env := w.launcher.Environ()
	assert.Contains(t, env, "GOTRACEBACK=crash")
	assert.NotContains(t, env, "GOTRACEBACK=single")
}

func TestNewWorkerLauncher_EmptyExecutable(t *testing.T) {
	_, err := newWorkerLauncher("", &config.Config{}, createLogger("error"), false)
	assert.Error(t, err)
}

func TestRecordRun(t *testing.T) {
	cfg := stress.Config{Timing: stress.TimingBefore, NumChunks: 2, ChunkSize: 4, Iterations: 1}
	aborted := proc.Outcome{Pid: 77, Kind: proc.Signaled, Signal: syscall.SIGABRT}

	tests := []struct {
		name        string
		outcome     proc.Outcome
		err         error
		wantType    string
		wantOutcome string
	}{
		{
			name:        "passed",
			outcome:     proc.Outcome{Pid: 77, Kind: proc.Exited},
			wantType:    "end",
			wantOutcome: report.OutcomePassed,
		},
		{
			name:        "worker aborted",
			outcome:     aborted,
			err:         aborted.Err(),
			wantType:    "end",
			wantOutcome: report.OutcomeFailed,
		},
		{
			name:        "malloc failure",
			err:         fmt.Errorf("malloc: mmap: %w", syscall.ENOMEM),
			wantType:    "error",
			wantOutcome: report.OutcomeError,
		},
		{
			name:        "wait failure",
			outcome:     proc.Outcome{Pid: 77},
			err:         fmt.Errorf("waitpid: %w", syscall.ECHILD),
			wantType:    "error",
			wantOutcome: report.OutcomeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "runs.log")
			reporter, err := report.NewLogger(path)
			require.NoError(t, err)

			require.NoError(t, recordRun(reporter, cfg, tt.outcome, time.Second, tt.err))
			require.NoError(t, reporter.Close())

			events := readReport(t, path)
			require.Len(t, events, 1)
			assert.Equal(t, tt.wantType, events[0].Type)
			assert.Equal(t, tt.wantOutcome, events[0].Outcome)
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), events[0].Error)
			}
			if tt.wantType == "error" {
				assert.Empty(t, events[0].Duration, "error events carry no run duration")
			}
		})
	}
}

// readReport decodes every event in a run report
func readReport(t *testing.T, path string) []report.Event {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck // test cleanup

	var events []report.Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e report.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	return events
}
