package heap

import "errors"

// arenaAlign is the alignment of every region handed out by an Arena.
const arenaAlign = 16

var (
	// ErrArenaExhausted is returned when a request does not fit in the arena
	ErrArenaExhausted = errors.New("arena exhausted")

	// ErrArenaUnsupported is returned on platforms without memfd support
	ErrArenaUnsupported = errors.New("shared arena not supported on this platform")
)

// ArenaSize returns the number of bytes an Arena needs to hold n chunks of s
// slots. Parent and worker both derive the layout from it, so the chunk
// offsets match on either side of the spawn.
func ArenaSize(n, s int) int {
	return n * alignUp(s*SlotSize)
}

func alignUp(n int) int {
	return (n + arenaAlign - 1) &^ (arenaAlign - 1)
}
