package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/security-mcp/forkstress/internal/config"
	"github.com/security-mcp/forkstress/internal/proc"
	"github.com/security-mcp/forkstress/internal/report"
	"github.com/security-mcp/forkstress/internal/stress"
)

// stressOptions are the root command's flags
type stressOptions struct {
	malloc     string
	numChunks  int
	chunkSize  int
	iterations int
	report     bool
	reportFile string
}

func (o *stressOptions) addFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&o.malloc, "malloc", "m", "", "When to allocate the chunks relative to the fork: before or after")
	flags.IntVarP(&o.numChunks, "num-chunks", "n", 0, "Number of chunks per process (default from config, 256)")
	flags.IntVarP(&o.chunkSize, "chunk-size", "s", 0, "Number of 32-bit values per chunk (default from config, 16384)")
	flags.IntVarP(&o.iterations, "iterations", "i", 0, "Number of fill and verify passes (default from config, 20)")
	flags.BoolVar(&o.report, "report", false, "Append start and end events to the run report")
	flags.StringVar(&o.reportFile, "report-file", "", "Run report path (overrides config)")
	_ = cmd.MarkFlagRequired("malloc") //nolint:errcheck // flag is defined above
}

// resolve merges the flags the user set over the configured defaults
func (o *stressOptions) resolve(cmd *cobra.Command, cfg *config.Config) (stress.Config, error) {
	timing, err := stress.ParseTiming(o.malloc)
	if err != nil {
		return stress.Config{}, err
	}

	sc := stress.Config{
		Timing:     timing,
		NumChunks:  cfg.NumChunks,
		ChunkSize:  cfg.ChunkSize,
		Iterations: cfg.Iterations,
	}

	flags := cmd.Flags()
	if flags.Changed("num-chunks") {
		sc.NumChunks = o.numChunks
	}
	if flags.Changed("chunk-size") {
		sc.ChunkSize = o.chunkSize
	}
	if flags.Changed("iterations") {
		sc.Iterations = o.iterations
	}

	if err := sc.Validate(); err != nil {
		return stress.Config{}, err
	}
	return sc, nil
}

func (a *app) runStress(cmd *cobra.Command, opts *stressOptions) error {
	stressCfg, err := opts.resolve(cmd, a.cfg)
	if err != nil {
		return err
	}

	// Arguments are valid, failures from here on are not usage errors
	cmd.SilenceUsage = true

	logger := createLogger(a.cfg.LogLevel)
	configureColor(cmd.OutOrStdout())

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}

	launcher, err := newWorkerLauncher(exe, a.cfg, logger, a.verbose)
	if err != nil {
		return err
	}

	driver, err := stress.NewDriver(stressCfg, launcher)
	if err != nil {
		return err
	}
	driver.SetLogger(logger)
	driver.SetOutput(cmd.OutOrStdout())
	driver.SetCrashOnCorruption(true)

	reporter := a.openReport(opts, logger)
	if reporter != nil {
		defer reporter.Close() //nolint:errcheck // best-effort cleanup
		if err := reporter.LogStart(stressCfg); err != nil {
			logger.Warn("failed to write report event", slog.String("error", err.Error()))
		}
	}

	start := time.Now()
	outcome, runErr := driver.Run()

	if reporter != nil {
		if err := recordRun(reporter, stressCfg, outcome, time.Since(start), runErr); err != nil {
			logger.Warn("failed to write report event", slog.String("error", err.Error()))
		}
	}

	return runErr
}

// recordRun writes the closing report event. A worker verdict, clean or
// not, is an end event; anything that failed before the verdict (malloc,
// fork, waitpid) is an error event.
func recordRun(reporter *report.Logger, cfg stress.Config, outcome proc.Outcome, duration time.Duration, runErr error) error {
	var exitErr *proc.ExitError
	if runErr == nil || errors.As(runErr, &exitErr) {
		return reporter.LogEnd(cfg, outcome, duration, runErr)
	}
	return reporter.LogError(cfg, runErr.Error())
}

// openReport returns the run report logger, or nil when reporting is off.
// A report that cannot be opened never fails the run.
func (a *app) openReport(opts *stressOptions, logger *slog.Logger) *report.Logger {
	if !opts.report && !a.cfg.ReportEnabled {
		return nil
	}

	path := a.cfg.ReportFile
	if opts.reportFile != "" {
		path = opts.reportFile
	}

	reporter, err := report.NewLogger(path)
	if err != nil {
		logger.Warn("run report disabled", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	return reporter
}
