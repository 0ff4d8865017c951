// Package heap allocates the chunk table that the stress driver writes to.
package heap

import (
	"errors"
	"fmt"
	"unsafe"

	"go.uber.org/multierr"
)

// SlotSize is the size in bytes of one chunk slot (a uint32).
const SlotSize = int(unsafe.Sizeof(uint32(0)))

// ErrTableFreed is returned when a table is freed twice
var ErrTableFreed = errors.New("chunk table already freed")

// Table is an ordered set of equally sized chunks, each viewed as []uint32.
type Table struct {
	alloc  Allocator
	raw    [][]byte
	chunks [][]uint32
	size   int
	freed  bool
}

// Allocate obtains n chunks of s slots from a. On failure the chunks
// allocated so far are not released; callers treat allocation failure as
// fatal.
func Allocate(a Allocator, n, s int) (*Table, error) {
	if a == nil {
		return nil, fmt.Errorf("allocator cannot be nil")
	}
	if n < 0 || s < 0 {
		return nil, fmt.Errorf("invalid table shape: %d chunks of %d slots", n, s)
	}

	t := &Table{
		alloc:  a,
		raw:    make([][]byte, 0, n),
		chunks: make([][]uint32, 0, n),
		size:   s,
	}

	for i := 0; i < n; i++ {
		b, err := a.Malloc(s * SlotSize)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		t.raw = append(t.raw, b)
		t.chunks = append(t.chunks, slots(b, s))
	}

	return t, nil
}

// slots reinterprets b as s uint32 values
func slots(b []byte, s int) []uint32 {
	if s == 0 || len(b) == 0 {
		return []uint32{}
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(unsafe.SliceData(b))), s)
}

// Chunks returns the chunk views in allocation order
func (t *Table) Chunks() [][]uint32 {
	return t.chunks
}

// Len returns the number of chunks
func (t *Table) Len() int {
	return len(t.chunks)
}

// ChunkSize returns the slot count of every chunk
func (t *Table) ChunkSize() int {
	return t.size
}

// Bytes returns the total chunk payload in bytes
func (t *Table) Bytes() uint64 {
	return uint64(len(t.chunks)) * uint64(t.size) * uint64(SlotSize)
}

// Free returns every chunk to the allocator. The allocator itself stays open.
func (t *Table) Free() error {
	if t.freed {
		return ErrTableFreed
	}
	t.freed = true

	var err error
	for i, b := range t.raw {
		if ferr := t.alloc.Free(b); ferr != nil {
			err = multierr.Append(err, fmt.Errorf("chunk %d: %w", i, ferr))
		}
	}

	t.raw = nil
	t.chunks = nil
	return err
}
