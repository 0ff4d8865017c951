package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/security-mcp/forkstress/internal/proc"
	"github.com/security-mcp/forkstress/internal/stress"
)

func newDoctorCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose system support for stress runs",
		Long: `Check whether this system can run forkstress as configured: shared
arenas for --malloc before, available memory for the configured chunk
table and the core dump limit aborted workers would inherit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := stress.Config{
				Timing:     stress.TimingBefore,
				NumChunks:  a.cfg.NumChunks,
				ChunkSize:  a.cfg.ChunkSize,
				Iterations: a.cfg.Iterations,
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			info := proc.Diagnose(cfg.Footprint())

			if jsonOutput {
				return outputDoctorJSON(cmd.OutOrStdout(), &info)
			}
			return outputDoctorText(cmd.OutOrStdout(), &info, cfg)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func outputDoctorText(w io.Writer, info *proc.DiagnosticInfo, cfg stress.Config) error {
	// Header
	fmt.Fprintf(w, "forkstress Diagnostics\n")
	fmt.Fprintf(w, "======================\n\n")

	// System Information
	fmt.Fprintf(w, "System Information:\n")
	fmt.Fprintf(w, "  OS:          %s\n", info.OS)
	fmt.Fprintf(w, "  Arch:        %s\n", info.Arch)
	fmt.Fprintf(w, "  Go Version:  %s\n", runtime.Version())
	fmt.Fprintf(w, "  Page Size:   %s\n", humanize.IBytes(uint64(info.PageSize)))
	if info.TotalMemory > 0 {
		fmt.Fprintf(w, "  Memory:      %s\n", humanize.IBytes(info.TotalMemory))
	} else {
		fmt.Fprintf(w, "  Memory:      unknown\n")
	}
	if info.RunningAsRoot {
		fmt.Fprintf(w, "  Running as:  root/admin\n")
	} else {
		fmt.Fprintf(w, "  Running as:  non-root user\n")
	}
	fmt.Fprintln(w)

	// Run support
	fmt.Fprintf(w, "Stress Run Support:\n")
	printCapability(w, "Shared arena (--malloc before)", info.SharedArena)
	fmt.Fprintf(w, "  Core dump limit: %s\n", info.CoreDumpLimit)
	fmt.Fprintf(w, "  Configured table: %s chunks of %s (%s per process)\n",
		humanize.Comma(int64(cfg.NumChunks)),
		humanize.IBytes(uint64(cfg.ChunkSize)*4),
		humanize.IBytes(cfg.Footprint()),
	)
	fmt.Fprintln(w)

	// Warnings
	if len(info.Warnings) > 0 {
		fmt.Fprintf(w, "Warnings:\n")
		for _, warning := range info.Warnings {
			fmt.Fprintf(w, "  [!] %s\n", warning)
		}
		fmt.Fprintln(w)
	}

	// Recommendations
	if len(info.Recommendations) > 0 {
		fmt.Fprintf(w, "Recommendations:\n")
		for _, r := range info.Recommendations {
			fmt.Fprintf(w, "  [*] %s\n", r)
		}
		fmt.Fprintln(w)
	}

	return nil
}

func outputDoctorJSON(w io.Writer, info *proc.DiagnosticInfo) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func printCapability(w io.Writer, name string, enabled bool) {
	status := "✗"
	if enabled {
		status = "✓"
	}
	fmt.Fprintf(w, "  %s %s\n", status, name)
}
