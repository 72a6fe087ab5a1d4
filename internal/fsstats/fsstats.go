// Package fsstats reads the stateful partition's free/total block counts
// before and after a hibernate attempt, and decides whether the hiber and
// metadata files should be freed to relieve disk pressure.
package fsstats

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// LowDiskFreeThresholdPercent is how low stateful free space must be, as a
// percentage, before the Conductor cleans up the hiberfile after an attempt.
const LowDiskFreeThresholdPercent = 10

// Stats is the subset of statvfs(2) fields the Conductor's disk-pressure
// heuristic needs.
type Stats struct {
	FreeBlocks  uint64
	TotalBlocks uint64
}

// Get reads the free/total block counts for the filesystem containing path.
func Get(path string) (Stats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Stats{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	return Stats{FreeBlocks: st.Bfree, TotalBlocks: st.Blocks}, nil
}

// FreePercent returns the free-block percentage, or 100 if TotalBlocks is 0
// (an unmounted or degenerate filesystem should never trigger cleanup).
func (s Stats) FreePercent() uint64 {
	if s.TotalBlocks == 0 {
		return 100
	}
	return s.FreeBlocks * 100 / s.TotalBlocks
}

// ShouldFreeHiberdata reports whether free space has dropped below the
// low-disk threshold and the hiber/metadata files should be unlinked.
func (s Stats) ShouldFreeHiberdata() bool {
	return s.FreePercent() < LowDiskFreeThresholdPercent
}
