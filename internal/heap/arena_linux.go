//go:build linux

package heap

import (
	"fmt"
	"os"
	"unsafe"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Arena is a bump allocator over a memfd mapped MAP_PRIVATE.
//
// The memfd is created before the worker is spawned and inherited by it. Each
// process maps the same file privately, so both start out on the same
// physical pages and the kernel splits them on first write.
type Arena struct {
	file *os.File
	mem  []byte
	off  int
	live int
}

// NewArena creates a zero-filled memfd of size bytes and maps it.
func NewArena(size int) (*Arena, error) {
	if size < 0 {
		return nil, fmt.Errorf("arena: invalid size %d", size)
	}

	fd, err := unix.MemfdCreate("forkstress-arena", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	file := os.NewFile(uintptr(fd), "forkstress-arena")

	if err := file.Truncate(int64(size)); err != nil {
		_ = file.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	return mapArena(file, size)
}

// OpenArena maps an arena file inherited from another process. The arena
// takes ownership of file.
func OpenArena(file *os.File, size int) (*Arena, error) {
	if file == nil {
		return nil, fmt.Errorf("arena: file cannot be nil")
	}

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("arena: stat: %w", err)
	}
	if info.Size() < int64(size) {
		return nil, fmt.Errorf("arena: file holds %d bytes, layout needs %d", info.Size(), size)
	}

	return mapArena(file, size)
}

func mapArena(file *os.File, size int) (*Arena, error) {
	a := &Arena{file: file}
	if size == 0 {
		return a, nil
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
	if err != nil {
		_ = file.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("mmap: %w", err)
	}
	a.mem = mem
	return a, nil
}

// File returns the memfd backing the arena
func (a *Arena) File() *os.File {
	return a.file
}

// Size returns the mapped length
func (a *Arena) Size() int {
	return len(a.mem)
}

// Malloc carves the next size bytes out of the arena
func (a *Arena) Malloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("malloc: invalid size %d", size)
	}

	start := a.off
	if start+size > len(a.mem) {
		return nil, fmt.Errorf("malloc: %d bytes at offset %d of %d: %w", size, start, len(a.mem), ErrArenaExhausted)
	}

	a.off = start + alignUp(size)
	a.live++
	return a.mem[start : start+size : start+size], nil
}

// Free releases a region. Space is only reclaimed when the arena is closed.
func (a *Arena) Free(b []byte) error {
	if a.live == 0 {
		return fmt.Errorf("free: no live allocations")
	}
	if cap(b) > 0 && !a.owns(b) {
		return fmt.Errorf("free: region not owned by arena")
	}

	a.live--
	return nil
}

func (a *Arena) owns(b []byte) bool {
	if len(a.mem) == 0 {
		return false
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(a.mem)))
	p := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	return p >= base && p+uintptr(cap(b)) <= base+uintptr(len(a.mem))
}

// Close unmaps the arena and closes its file
func (a *Arena) Close() error {
	var err error
	if a.live != 0 {
		err = multierr.Append(err, fmt.Errorf("close: %d allocations still live", a.live))
	}
	if a.mem != nil {
		err = multierr.Append(err, unix.Munmap(a.mem))
		a.mem = nil
	}
	if a.file != nil {
		err = multierr.Append(err, a.file.Close())
		a.file = nil
	}
	return err
}
