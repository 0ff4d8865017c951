//go:build linux

package proc

import (
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"
)

// applyLimits sets rlimits on a running child via prlimit(2). exec.Cmd has no
// rlimit field, so limits land right after the child starts.
func applyLimits(pid int, limits Limits) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}

	if !limits.CoreDumps {
		rlim := unix.Rlimit{Cur: 0, Max: 0}
		if err := unix.Prlimit(pid, unix.RLIMIT_CORE, &rlim, nil); err != nil {
			return fmt.Errorf("prlimit RLIMIT_CORE: %w", err)
		}
	}
	return nil
}

// coreDumpLimit describes the calling process's RLIMIT_CORE
func coreDumpLimit() string {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CORE, &rlim); err != nil {
		return "unknown"
	}
	if rlim.Cur == ^uint64(0) {
		return "unlimited"
	}
	return strconv.FormatUint(rlim.Cur, 10)
}
