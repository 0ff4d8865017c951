//go:build !linux && !darwin

package report

import "os"

func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
