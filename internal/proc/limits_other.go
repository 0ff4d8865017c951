//go:build !linux

package proc

func applyLimits(pid int, limits Limits) error {
	return nil
}

func coreDumpLimit() string {
	return "unknown"
}
