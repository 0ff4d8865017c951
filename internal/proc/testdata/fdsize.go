// fdsize.go prints the size of the file inherited as descriptor 3 (used to test ExtraFiles).
// Usage: fdsize
package main

import (
	"fmt"
	"os"
)

func main() {
	f := os.NewFile(3, "inherited")
	info, err := f.Stat()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stat: %v\n", err)
		os.Exit(1)
	}
	if info.Size() != 4096 {
		fmt.Fprintf(os.Stderr, "unexpected size %d\n", info.Size())
		os.Exit(4)
	}
	os.Exit(0)
}
