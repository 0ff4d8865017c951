package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/security-mcp/forkstress/internal/config"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// app carries state shared by the commands of one invocation
type app struct {
	cfg     *config.Config
	verbose bool
}

// Execute runs the root command
func Execute() error {
	cmd := newRootCmd()
	err := cmd.Execute()
	if err != nil {
		printError(cmd.ErrOrStderr(), err)
	}
	return err
}

func newRootCmd() *cobra.Command {
	a := &app{}
	opts := &stressOptions{}

	rootCmd := &cobra.Command{
		Use:   "forkstress",
		Short: "Stress the memory allocator across a forked process pair",
		Long: `forkstress allocates a table of memory chunks, spawns a worker process and
has both processes repeatedly zero, fill and verify their own copy of the
table with opposing patterns. Any mismatch aborts the run.

With --malloc before the table is allocated before the worker starts, so
both processes begin on the same copy-on-write pages. With --malloc after
each process allocates its own table.`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load configuration
			var err error
			a.cfg, err = config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if a.verbose {
				a.cfg.LogLevel = "debug"
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStress(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")

	opts.addFlags(rootCmd)

	// Version template
	rootCmd.SetVersionTemplate(fmt.Sprintf("forkstress version %s\ncommit: %s\nbuilt: %s\n", Version, GitCommit, BuildDate))

	// Add subcommands
	rootCmd.AddCommand(newDoctorCmd(a))
	rootCmd.AddCommand(newWorkerCmd(a))

	return rootCmd
}

// createLogger creates a structured logger with the specified level
func createLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler)
}

// printError writes err as a diagnostic line, in red when w is a terminal
func printError(w io.Writer, err error) {
	msg := "ERROR: " + err.Error()

	if f, ok := w.(*os.File); ok && isTerminal(f) && os.Getenv("NO_COLOR") == "" {
		c := color.New(color.FgRed, color.Bold)
		c.EnableColor()
		c.Fprintln(w, msg) //nolint:errcheck // best-effort output
		return
	}
	fmt.Fprintln(w, msg)
}

// configureColor turns colored output off when w is not a terminal
func configureColor(w io.Writer) {
	if f, ok := w.(*os.File); !ok || !isTerminal(f) {
		color.NoColor = true
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
