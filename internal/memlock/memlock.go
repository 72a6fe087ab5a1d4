// Package memlock pins the current process's pages resident so the
// snapshot ioctl can't be starved by its own caller getting paged out, and
// preallocates a page-touched working buffer. The image mover does not
// stream through that buffer; it allocates its own chunk buffer.
package memlock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Guard is a scoped handle over the process memory lock. Release must run
// on every exit path, including panics.
type Guard struct {
	released bool
}

// Lock locks all of the calling process's current and future pages into
// RAM (MCL_CURRENT | MCL_FUTURE).
func Lock() (*Guard, error) {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return nil, fmt.Errorf("mlockall: %w", err)
	}
	return &Guard{}, nil
}

// Release unlocks the process's memory. Safe to call more than once.
func (g *Guard) Release() error {
	if g == nil || g.released {
		return nil
	}
	g.released = true
	if err := unix.Munlockall(); err != nil {
		return fmt.Errorf("munlockall: %w", err)
	}
	return nil
}

// PreallocateAndTouch allocates a size-byte working buffer and touches every
// page so the allocator can't defer physical backing until mid-freeze, when
// a page fault could stall the snapshot pipeline.
func PreallocateAndTouch(size int) []byte {
	buf := make([]byte, size)
	pageSize := unix.Getpagesize()
	for i := 0; i < len(buf); i += pageSize {
		buf[i] = 0
	}
	return buf
}
