// raise.go sends itself the given signal (used to test signaled and stopped workers).
// Usage: raise <signal-number>
package main

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: raise <signal-number>\n")
		os.Exit(1)
	}

	sig, err := strconv.Atoi(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid signal: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err := syscall.Kill(os.Getpid(), syscall.Signal(sig)); err != nil {
		fmt.Fprintf(os.Stderr, "kill: %v\n", err)
		os.Exit(1)
	}

	// Stay alive until the signal is delivered, or until killed once stopped.
	time.Sleep(time.Minute)
	os.Exit(0)
}
