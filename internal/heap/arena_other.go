//go:build !linux

package heap

import "os"

// Arena is unavailable outside Linux; every constructor fails.
type Arena struct{}

// NewArena always fails with ErrArenaUnsupported
func NewArena(size int) (*Arena, error) {
	return nil, ErrArenaUnsupported
}

// OpenArena always fails with ErrArenaUnsupported
func OpenArena(file *os.File, size int) (*Arena, error) {
	return nil, ErrArenaUnsupported
}

// File returns nil
func (a *Arena) File() *os.File { return nil }

// Size returns 0
func (a *Arena) Size() int { return 0 }

// Malloc always fails with ErrArenaUnsupported
func (a *Arena) Malloc(size int) ([]byte, error) { return nil, ErrArenaUnsupported }

// Free always fails with ErrArenaUnsupported
func (a *Arena) Free(b []byte) error { return ErrArenaUnsupported }

// Close is a no-op
func (a *Arena) Close() error { return nil }
