package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/security-mcp/forkstress/internal/config"
	"github.com/security-mcp/forkstress/internal/proc"
	"github.com/security-mcp/forkstress/internal/stress"
)

// arenaFD is where the first of exec.Cmd.ExtraFiles lands in the worker
const arenaFD = 3

// workerHook, when set, sees every worker driver before it runs
var workerHook func(*stress.Driver)

type workerOptions struct {
	malloc     string
	numChunks  int
	chunkSize  int
	iterations int
	arenaFD    int
}

func newWorkerCmd(a *app) *cobra.Command {
	opts := &workerOptions{}

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run the descending side of a stress run",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return a.runWorker(opts)
		},
	}

	cmd.Flags().StringVar(&opts.malloc, "malloc", "", "Allocation timing of the parent")
	cmd.Flags().IntVar(&opts.numChunks, "num-chunks", 0, "Number of chunks")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "Number of 32-bit values per chunk")
	cmd.Flags().IntVar(&opts.iterations, "iterations", 0, "Number of fill and verify passes")
	cmd.Flags().IntVar(&opts.arenaFD, "arena-fd", 0, "Inherited descriptor of the shared arena")
	_ = cmd.MarkFlagRequired("malloc") //nolint:errcheck // flag is defined above

	return cmd
}

func (a *app) runWorker(opts *workerOptions) error {
	timing, err := stress.ParseTiming(opts.malloc)
	if err != nil {
		return err
	}

	cfg := stress.Config{
		Timing:     timing,
		NumChunks:  opts.numChunks,
		ChunkSize:  opts.chunkSize,
		Iterations: opts.iterations,
	}

	driver, err := stress.NewDriver(cfg, nil)
	if err != nil {
		return err
	}
	driver.SetLogger(createLogger(a.cfg.LogLevel).With("worker", os.Getpid()))
	driver.SetCrashOnCorruption(true)
	if workerHook != nil {
		workerHook(driver)
	}

	var arena *os.File
	if opts.arenaFD > 0 {
		arena = os.NewFile(uintptr(opts.arenaFD), "arena")
		if arena == nil {
			return fmt.Errorf("invalid arena descriptor %d", opts.arenaFD)
		}
	}

	return driver.RunWorker(arena)
}

// workerLauncher spawns this executable's worker command
type workerLauncher struct {
	launcher *proc.Launcher
	verbose  bool
}

// newWorkerLauncher creates a launcher for exe's worker command. Workers run
// with GOTRACEBACK=crash from the start, so any fatal error in them ends in
// SIGABRT.
func newWorkerLauncher(exe string, cfg *config.Config, logger *slog.Logger, verbose bool) (*workerLauncher, error) {
	launcher, err := proc.NewLauncher(exe, proc.Limits{CoreDumps: cfg.CoreDumps})
	if err != nil {
		return nil, fmt.Errorf("failed to create launcher: %w", err)
	}
	launcher.SetLogger(logger)
	launcher.SetEnv(map[string]string{"GOTRACEBACK": "crash"})

	return &workerLauncher{launcher: launcher, verbose: verbose}, nil
}

// Launch starts a worker for cfg, passing arena as its first extra descriptor
func (w *workerLauncher) Launch(cfg stress.Config, arena *os.File) (stress.Child, error) {
	var extra []*os.File
	if arena != nil {
		extra = []*os.File{arena}
	}

	p, err := w.launcher.Start(workerArgs(cfg, arena != nil, w.verbose), extra)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func workerArgs(cfg stress.Config, withArena, verbose bool) []string {
	args := []string{
		"worker",
		"--malloc", string(cfg.Timing),
		"--num-chunks", strconv.Itoa(cfg.NumChunks),
		"--chunk-size", strconv.Itoa(cfg.ChunkSize),
		"--iterations", strconv.Itoa(cfg.Iterations),
	}
	if withArena {
		args = append(args, "--arena-fd", strconv.Itoa(arenaFD))
	}
	if verbose {
		args = append(args, "--verbose")
	}
	return args
}
