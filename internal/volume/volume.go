// Package volume prepares the logical-volume snapshot and the set of
// preallocated backing files the suspend pipeline writes into: the
// header, hiber, and metadata files, plus the suspend/resume log and
// metrics files. Actual LVM snapshot creation is a thin shell-out (real
// systems run this under lvm2); the file preallocation and
// zero-verification logic is real and exercised directly by tests.
package volume

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// blockSize is the unit IsFullyZero and zeroFill scan/write in; it
// matches the page size the image-write pipeline uses elsewhere.
const blockSize = 4096

// File identifies one of the backing files the Manager preallocates.
type File int

const (
	FileHeader File = iota
	FileHiber
	FileMetadata
	FileSuspendLog
	FileResumeLog
	FileSuspendMetrics
	FileResumeMetrics
)

func (f File) filename() string {
	switch f {
	case FileHeader:
		return "hiberheader"
	case FileHiber:
		return "hiberfile"
	case FileMetadata:
		return "hibermeta"
	case FileSuspendLog:
		return "suspend_log"
	case FileResumeLog:
		return "resume_log"
	case FileSuspendMetrics:
		return "suspend_metrics"
	case FileResumeMetrics:
		return "resume_metrics"
	default:
		return "unknown"
	}
}

// defaultSizes gives each backing file a fixed preallocated size. The
// hiber file is sized to comfortably hold a compressed RAM snapshot;
// everything else is small and fixed.
var defaultSizes = map[File]int64{
	FileHeader:         1 << 20,  // 1MiB
	FileHiber:          1 << 30,  // 1GiB
	FileMetadata:       1 << 16,  // 64KiB
	FileSuspendLog:     1 << 20,  // 1MiB
	FileResumeLog:      1 << 20,  // 1MiB
	FileSuspendMetrics: 1 << 18,  // 256KiB
	FileResumeMetrics:  1 << 18,  // 256KiB
}

// Manager owns the on-disk directory backing hibernate's LV snapshot and
// its per-file preallocations.
type Manager struct {
	dir      string
	lvmPath  string // non-empty enables real lvcreate/lvremove shellouts
}

// New returns a Manager rooted at dir, the directory standing in for the
// hibernate LV's mount point.
func New(dir string) *Manager {
	return &Manager{dir: dir}
}

// WithLVM enables real LVM snapshot shellouts against lvmPath (the LV's
// device-mapper name), for production use outside of tests.
func (m *Manager) WithLVM(lvmPath string) *Manager {
	m.lvmPath = lvmPath
	return m
}

// SetupHibernateLV materializes the hibernate LV, creating it if
// necessary. lock controls whether the LV is activated read-only
// (mirrors the source's "lock LV" parameter, used to prevent concurrent
// writers during the suspend attempt).
func (m *Manager) SetupHibernateLV(lock bool) error {
	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return fmt.Errorf("volume: create %s: %w", m.dir, err)
	}
	if m.lvmPath == "" {
		return nil
	}
	args := []string{"lvchange"}
	if lock {
		args = append(args, "-ay", "-pr")
	} else {
		args = append(args, "-ay")
	}
	args = append(args, m.lvmPath)
	if out, err := exec.Command("lvm", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("volume: lvchange %s: %w (%s)", m.lvmPath, err, out)
	}
	return nil
}

// CreateLVSnapshotFiles creates a thin snapshot of the hibernate LV so the
// backing files below can be preallocated without disturbing the live
// volume. On non-LVM systems this is a no-op.
func (m *Manager) CreateLVSnapshotFiles() error {
	if m.lvmPath == "" {
		return nil
	}
	snapName := m.lvmPath + "-hibernate-snap"
	out, err := exec.Command("lvm", "lvcreate", "-s", "-n", snapName, m.lvmPath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("volume: lvcreate snapshot of %s: %w (%s)", m.lvmPath, err, out)
	}
	return nil
}

// IsLVMSystem reports whether this Manager is backed by a real LVM
// volume, which determines whether freshly allocated extents need
// zeroing before first use.
func (m *Manager) IsLVMSystem() bool { return m.lvmPath != "" }

// DoesHiberfileExist reports whether the hiber file already exists from a
// prior attempt.
func (m *Manager) DoesHiberfileExist() bool {
	_, err := os.Stat(m.path(FileHiber))
	return err == nil
}

func (m *Manager) path(f File) string {
	return filepath.Join(m.dir, f.filename())
}

// Path returns the on-disk path of the given backing file.
func (m *Manager) Path(f File) string { return m.path(f) }

// Preallocate ensures f exists at its fixed size. If shouldZero is true,
// every byte is explicitly zeroed even though a freshly truncated file
// already reads as zero on POSIX filesystems — this mirrors LVM systems
// where a freshly allocated extent is not guaranteed to be zeroed by the
// kernel until it's actually written.
func (m *Manager) Preallocate(f File, shouldZero bool) (string, error) {
	path := m.path(f)
	size := defaultSizes[f]

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return "", fmt.Errorf("volume: create %s: %w", path, err)
	}
	defer file.Close()

	if err := file.Truncate(size); err != nil {
		return "", fmt.Errorf("volume: truncate %s to %d: %w", path, size, err)
	}

	if shouldZero {
		if err := zeroFill(file, size); err != nil {
			return "", fmt.Errorf("volume: zero-fill %s: %w", path, err)
		}
	}

	return path, nil
}

// IsFullyZero verifies every block of an existing file at path reads
// zero, the invariant Preallocate(f, true) must establish.
func IsFullyZero(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("volume: open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, blockSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			for _, b := range buf[:n] {
				if b != 0 {
					return false, nil
				}
			}
		}
		if err != nil {
			break
		}
	}
	return true, nil
}

func zeroFill(f *os.File, size int64) error {
	buf := make([]byte, blockSize)
	var written int64
	for written < size {
		n := int64(len(buf))
		if remaining := size - written; n > remaining {
			n = remaining
		}
		if _, err := f.WriteAt(buf[:n], written); err != nil {
			return err
		}
		written += n
	}
	return nil
}
