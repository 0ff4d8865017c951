package proc

import (
	"os"
	"runtime"

	"github.com/dustin/go-humanize"
	sysmem "github.com/pbnjay/memory"

	"github.com/security-mcp/forkstress/internal/heap"
)

// DiagnosticInfo contains system capability information for diagnostics
type DiagnosticInfo struct {
	OS              string   `json:"os"`
	Arch            string   `json:"arch"`
	PageSize        int      `json:"page_size"`
	TotalMemory     uint64   `json:"total_memory"`
	SharedArena     bool     `json:"shared_arena"`
	CoreDumpLimit   string   `json:"core_dump_limit"`
	RunningAsRoot   bool     `json:"running_as_root"`
	Warnings        []string `json:"warnings,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Diagnose reports what the current system supports. footprint is the chunk
// payload of one process for the configured run.
func Diagnose(footprint uint64) DiagnosticInfo {
	info := DiagnosticInfo{
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		PageSize:      os.Getpagesize(),
		TotalMemory:   sysmem.TotalMemory(),
		CoreDumpLimit: coreDumpLimit(),
		RunningAsRoot: os.Geteuid() == 0,
	}

	if arena, err := heap.NewArena(info.PageSize); err == nil {
		info.SharedArena = true
		_ = arena.Close() //nolint:errcheck // probe only
	} else {
		info.Warnings = append(info.Warnings,
			"memfd arenas unavailable: --malloc before cannot share pages with the worker ("+err.Error()+")",
		)
	}

	if info.TotalMemory == 0 {
		info.Warnings = append(info.Warnings, "physical memory size could not be determined")
	} else if 2*footprint > info.TotalMemory {
		info.Warnings = append(info.Warnings,
			"configured run needs "+humanize.IBytes(2*footprint)+" across both processes, more than the "+
				humanize.IBytes(info.TotalMemory)+" installed",
		)
		info.Recommendations = append(info.Recommendations,
			"Lower --num-chunks or --chunk-size so both chunk tables fit in memory",
		)
	}

	if info.CoreDumpLimit != "0" && info.CoreDumpLimit != "unknown" {
		info.Recommendations = append(info.Recommendations,
			"Workers run with core dumps disabled unless core_dumps is enabled in the configuration",
		)
	}

	if runtime.GOOS != "linux" {
		info.Recommendations = append(info.Recommendations,
			"Run on Linux to exercise copy-on-write pages with --malloc before",
		)
	}

	return info
}
