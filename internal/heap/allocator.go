package heap

import (
	"fmt"

	"modernc.org/memory"
)

// Allocator hands out raw byte regions that back chunks.
type Allocator interface {
	// Malloc returns a region of exactly size bytes.
	Malloc(size int) ([]byte, error)

	// Free returns a region obtained from Malloc.
	Free(b []byte) error

	// Close releases everything the allocator obtained from the OS.
	Close() error
}

// MallocAllocator allocates chunks outside the Go heap using a malloc/free
// allocator that carves small requests out of mmap'd pages and serves large
// ones with dedicated mappings.
type MallocAllocator struct {
	alloc memory.Allocator
	live  int
}

// NewMallocAllocator creates an empty malloc-style allocator
func NewMallocAllocator() *MallocAllocator {
	return &MallocAllocator{}
}

// Malloc allocates size bytes
func (a *MallocAllocator) Malloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("malloc: invalid size %d", size)
	}

	b, err := a.alloc.Malloc(size)
	if err != nil {
		return nil, fmt.Errorf("malloc: %w", err)
	}

	a.live++
	return b, nil
}

// Free releases a region returned by Malloc
func (a *MallocAllocator) Free(b []byte) error {
	if a.live == 0 {
		return fmt.Errorf("free: no live allocations")
	}

	if err := a.alloc.Free(b); err != nil {
		return fmt.Errorf("free: %w", err)
	}

	a.live--
	return nil
}

// Close unmaps all allocator pages. Every region must have been freed first.
func (a *MallocAllocator) Close() error {
	if a.live != 0 {
		return fmt.Errorf("close: %d allocations still live", a.live)
	}
	return a.alloc.Close()
}
