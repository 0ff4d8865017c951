package stress

import (
	"fmt"

	"github.com/security-mcp/forkstress/internal/heap"
)

// Timing says whether chunks are allocated before or after the worker is
// spawned.
type Timing string

const (
	TimingUnset  Timing = ""
	TimingBefore Timing = "before"
	TimingAfter  Timing = "after"
)

// ParseTiming converts a --malloc value
func ParseTiming(s string) (Timing, error) {
	switch Timing(s) {
	case TimingBefore, TimingAfter:
		return Timing(s), nil
	default:
		return TimingUnset, fmt.Errorf("invalid malloc time %q: must be \"before\" or \"after\"", s)
	}
}

// Default run shape
const (
	DefaultNumChunks  = 256
	DefaultChunkSize  = 16384
	DefaultIterations = 20
)

// Config is the validated shape of one stress run
type Config struct {
	Timing     Timing
	NumChunks  int
	ChunkSize  int // uint32 slots per chunk
	Iterations int
}

// DefaultConfig returns the default run shape with timing unset
func DefaultConfig() Config {
	return Config{
		NumChunks:  DefaultNumChunks,
		ChunkSize:  DefaultChunkSize,
		Iterations: DefaultIterations,
	}
}

// Validate checks that the timing is set and every count is non-negative
func (c Config) Validate() error {
	if _, err := ParseTiming(string(c.Timing)); err != nil {
		return err
	}
	if c.NumChunks < 0 {
		return fmt.Errorf("failed to parse %d as a non-negative integer (num-chunks)", c.NumChunks)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("failed to parse %d as a non-negative integer (chunk-size)", c.ChunkSize)
	}
	if c.Iterations < 0 {
		return fmt.Errorf("failed to parse %d as a non-negative integer (iterations)", c.Iterations)
	}
	return nil
}

// Footprint returns the chunk payload each process allocates, in bytes
func (c Config) Footprint() uint64 {
	return uint64(c.NumChunks) * uint64(c.ChunkSize) * uint64(heap.SlotSize)
}
