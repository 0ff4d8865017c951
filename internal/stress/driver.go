// Package stress drives one allocator stress run across a pair of processes.
//
// The invoking process (ascending writer) allocates a chunk table, spawns a
// worker (descending writer) and both repeatedly zero, fill and verify their
// own copy of the table. A verification mismatch means memory was corrupted
// and aborts the process on the spot.
package stress

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	sysmem "github.com/pbnjay/memory"

	"github.com/security-mcp/forkstress/internal/heap"
	"github.com/security-mcp/forkstress/internal/proc"
)

// Child is a spawned worker the parent can wait on
type Child interface {
	Pid() int
	Wait() (proc.Outcome, error)
	Kill() error
}

// Launcher spawns the descending worker. arena is nil unless chunks were
// allocated before the spawn.
type Launcher interface {
	Launch(cfg Config, arena *os.File) (Child, error)
}

// Driver executes a stress run for one process
type Driver struct {
	cfg      Config
	launcher Launcher
	logger   *slog.Logger
	out      io.Writer
	crash    bool

	// inspect runs between the write and verify passes of every iteration
	inspect func(iteration int, chunks [][]uint32)
}

// NewDriver creates a driver for cfg. launcher may be nil for a worker.
func NewDriver(cfg Config, launcher Launcher) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Driver{
		cfg:      cfg,
		launcher: launcher,
		logger:   slog.Default(),
		out:      os.Stdout,
	}, nil
}

// SetLogger sets the logger
func (d *Driver) SetLogger(logger *slog.Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// SetOutput sets where the configuration banner and result line go
func (d *Driver) SetOutput(w io.Writer) {
	d.out = w
}

// SetCrashOnCorruption makes a detected corruption raise SIGABRT instead of
// exiting through an ordinary panic.
func (d *Driver) SetCrashOnCorruption(crash bool) {
	d.crash = crash
}

// SetInspector installs fn to run between the write and verify passes of
// every iteration. Used for fault injection.
func (d *Driver) SetInspector(fn func(iteration int, chunks [][]uint32)) {
	d.inspect = fn
}

// Run executes the ascending side: allocate, spawn the worker, iterate, free
// and wait for the worker's verdict.
func (d *Driver) Run() (proc.Outcome, error) {
	if d.launcher == nil {
		return proc.Outcome{}, fmt.Errorf("launcher cannot be nil")
	}

	d.printConfig()

	var (
		alloc     heap.Allocator
		table     *heap.Table
		arenaFile *os.File
		err       error
	)

	if d.cfg.Timing == TimingBefore {
		arena, err := heap.NewArena(heap.ArenaSize(d.cfg.NumChunks, d.cfg.ChunkSize))
		if err != nil {
			return proc.Outcome{}, fmt.Errorf("malloc: %w", err)
		}
		d.logger.Debug("arena mapped", slog.Int("size", arena.Size()))
		table, err = heap.Allocate(arena, d.cfg.NumChunks, d.cfg.ChunkSize)
		if err != nil {
			return proc.Outcome{}, fmt.Errorf("malloc: %w", err)
		}
		d.logTable(table, Ascending)
		alloc, arenaFile = arena, arena.File()
	}

	child, err := d.launcher.Launch(d.cfg, arenaFile)
	if err != nil {
		return proc.Outcome{}, fmt.Errorf("fork: %w", err)
	}
	d.logger.Debug("worker spawned", slog.Int("pid", child.Pid()), slog.String("malloc", string(d.cfg.Timing)))

	if d.cfg.Timing == TimingAfter {
		alloc = heap.NewMallocAllocator()
		table, err = heap.Allocate(alloc, d.cfg.NumChunks, d.cfg.ChunkSize)
		if err != nil {
			return proc.Outcome{}, fmt.Errorf("malloc: %w", err)
		}
		d.logTable(table, Ascending)
	}

	d.iterate(table.Chunks(), Ascending)

	if err := d.release(table, alloc); err != nil {
		return proc.Outcome{}, err
	}

	outcome, err := child.Wait()
	if err != nil {
		return outcome, fmt.Errorf("waitpid: %w", err)
	}
	d.logger.Debug("worker finished", slog.String("outcome", outcome.String()))

	if outcome.Kind == proc.Stopped {
		if kerr := child.Kill(); kerr != nil {
			d.logger.Warn("failed to kill stopped worker", slog.Int("pid", child.Pid()), slog.String("error", kerr.Error()))
		}
	}
	if err := outcome.Err(); err != nil {
		return outcome, err
	}

	color.New(color.FgGreen).Fprintln(d.out, "Tests passed") //nolint:errcheck // best-effort output
	return outcome, nil
}

// RunWorker executes the descending side. arena is the inherited memfd when
// chunks were allocated before the spawn.
func (d *Driver) RunWorker(arena *os.File) error {
	var alloc heap.Allocator

	switch d.cfg.Timing {
	case TimingBefore:
		if arena == nil {
			return fmt.Errorf("malloc: worker started without the shared arena")
		}
		a, err := heap.OpenArena(arena, heap.ArenaSize(d.cfg.NumChunks, d.cfg.ChunkSize))
		if err != nil {
			return fmt.Errorf("malloc: %w", err)
		}
		d.logger.Debug("arena mapped", slog.Int("size", a.Size()))
		alloc = a
	default:
		alloc = heap.NewMallocAllocator()
	}

	table, err := heap.Allocate(alloc, d.cfg.NumChunks, d.cfg.ChunkSize)
	if err != nil {
		return fmt.Errorf("malloc: %w", err)
	}
	d.logTable(table, Descending)

	d.iterate(table.Chunks(), Descending)

	return d.release(table, alloc)
}

func (d *Driver) logTable(table *heap.Table, role Role) {
	d.logger.Debug("chunk table allocated",
		slog.String("role", role.String()),
		slog.Int("chunks", table.Len()),
		slog.Int("chunk_size", table.ChunkSize()),
		slog.Uint64("bytes", table.Bytes()),
	)
}

func (d *Driver) iterate(chunks [][]uint32, role Role) {
	for it := 1; it <= d.cfg.Iterations; it++ {
		Zero(chunks)
		Fill(chunks, role)

		if d.inspect != nil {
			d.inspect(it, chunks)
		}

		if err := Verify(chunks, role); err != nil {
			var corruption *CorruptionError
			if errors.As(err, &corruption) {
				corruption.Iteration = it
				d.abort(corruption)
			}
			panic(err)
		}

		d.logger.Debug("iteration verified", slog.String("role", role.String()), slog.Int("iteration", it))
	}
}

// abort terminates the process. Corrupted memory is never worked around.
func (d *Driver) abort(err *CorruptionError) {
	d.logger.Error("verification failed",
		slog.String("role", err.Role.String()),
		slog.Int("iteration", err.Iteration),
		slog.Int("chunk", err.Chunk),
		slog.Int("slot", err.Slot),
		slog.Uint64("expected", uint64(err.Expected)),
		slog.Uint64("actual", uint64(err.Actual)),
	)

	if d.crash {
		debug.SetTraceback("crash")
	}
	panic(err)
}

func (d *Driver) release(table *heap.Table, alloc heap.Allocator) error {
	if err := table.Free(); err != nil {
		return fmt.Errorf("free: %w", err)
	}
	if err := alloc.Close(); err != nil {
		return fmt.Errorf("free: %w", err)
	}
	return nil
}

func (d *Driver) printConfig() {
	footprint := d.cfg.Footprint()

	fmt.Fprintln(d.out, "Running with configuration:")
	fmt.Fprintf(d.out, "   %-12s%-25s\n", "malloc_time", d.cfg.Timing)
	fmt.Fprintf(d.out, "   %-12s%-25d\n", "num_chunks", d.cfg.NumChunks)
	fmt.Fprintf(d.out, "   %-12s%-25d\n", "chunk_size", d.cfg.ChunkSize)
	fmt.Fprintf(d.out, "   %-12s%-25d\n", "iterations", d.cfg.Iterations)
	fmt.Fprintf(d.out, "   %-12s%-25s\n", "footprint", humanize.IBytes(footprint)+" per process")

	// Both processes hold a full table once their pages diverge.
	if total := sysmem.TotalMemory(); total > 0 && 2*footprint > total {
		d.logger.Warn("chunk tables exceed physical memory",
			slog.String("footprint", humanize.IBytes(2*footprint)),
			slog.String("total", humanize.IBytes(total)),
		)
	}
}
