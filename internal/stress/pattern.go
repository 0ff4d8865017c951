package stress

import (
	"fmt"
	"math"
)

// Role decides the direction of the sequence a process writes
type Role int

const (
	// Ascending is the invoking process: 0, 1, 2, ...
	Ascending Role = iota
	// Descending is the spawned worker: MaxUint32, MaxUint32-1, ...
	Descending
)

func (r Role) String() string {
	if r == Descending {
		return "descending"
	}
	return "ascending"
}

// Start returns the first value written to slot 0 of chunk 0
func (r Role) Start() uint32 {
	if r == Descending {
		return math.MaxUint32
	}
	return 0
}

// Next returns the value following v, wrapping around
func (r Role) Next(v uint32) uint32 {
	if r == Descending {
		return v - 1
	}
	return v + 1
}

// CorruptionError describes the first slot whose value did not survive the
// write/verify round trip.
type CorruptionError struct {
	Role      Role
	Iteration int
	Chunk     int
	Slot      int
	Expected  uint32
	Actual    uint32
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("memory corruption (%s writer, iteration %d): chunk %d slot %d holds %#08x, expected %#08x",
		e.Role, e.Iteration, e.Chunk, e.Slot, e.Actual, e.Expected)
}

// Zero clears every byte of every chunk
func Zero(chunks [][]uint32) {
	for _, chunk := range chunks {
		clear(chunk)
	}
}

// Fill writes the role's sequence across all chunks, chunk by chunk
func Fill(chunks [][]uint32, role Role) {
	v := role.Start()
	for _, chunk := range chunks {
		for i := range chunk {
			chunk[i] = v
			v = role.Next(v)
		}
	}
}

// Verify regenerates the role's sequence and compares it slot by slot. It
// returns a *CorruptionError for the first mismatch.
func Verify(chunks [][]uint32, role Role) error {
	v := role.Start()
	for c, chunk := range chunks {
		for i, got := range chunk {
			if got != v {
				return &CorruptionError{
					Role:     role,
					Chunk:    c,
					Slot:     i,
					Expected: v,
					Actual:   got,
				}
			}
			v = role.Next(v)
		}
	}
	return nil
}
