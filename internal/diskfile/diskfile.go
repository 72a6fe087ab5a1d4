// Package diskfile wraps the two styles of file access the suspend
// pipeline needs: a page-aligned, sequential-only writer/reader for the
// large hiber file (where direct I/O demands aligned buffers), and a
// "bounced" ordinary buffered file for the header and metadata files,
// whose final writes aren't page-aligned and never need to bypass the
// page cache.
package diskfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DiskFile is a page-aligned, append-only view of an already-preallocated
// file, intended for direct I/O. Every Write call's buffer length must be
// a multiple of the page size; callers (internal/imagemover) are
// responsible for padding the final chunk.
type DiskFile struct {
	f      *os.File
	offset int64
}

// Open opens path for direct I/O. direct controls whether O_DIRECT is
// requested; callers fall back to false when the underlying filesystem
// doesn't support it (tmpfs in tests, some overlay configurations).
func Open(path string, direct bool) (*DiskFile, error) {
	flags := os.O_RDWR
	if direct {
		flags |= unix.O_DIRECT
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("diskfile: open %s: %w", path, err)
	}
	return &DiskFile{f: f}, nil
}

// Rewind resets the file's write/read cursor to the start, used when the
// same preallocated file is reused across hibernate attempts.
func (d *DiskFile) Rewind() error {
	if _, err := d.f.Seek(0, 0); err != nil {
		return fmt.Errorf("diskfile: rewind: %w", err)
	}
	d.offset = 0
	return nil
}

// Write writes p sequentially from the file's current offset. p's length
// is the caller's responsibility to page-align.
func (d *DiskFile) Write(p []byte) (int, error) {
	n, err := d.f.WriteAt(p, d.offset)
	d.offset += int64(n)
	if err != nil {
		return n, fmt.Errorf("diskfile: write at %d: %w", d.offset-int64(n), err)
	}
	return n, nil
}

// Read reads sequentially from the file's current offset.
func (d *DiskFile) Read(p []byte) (int, error) {
	n, err := d.f.ReadAt(p, d.offset)
	d.offset += int64(n)
	if err != nil {
		return n, err
	}
	return n, nil
}

// Close closes the underlying file.
func (d *DiskFile) Close() error { return d.f.Close() }

// BouncedDiskFile is a plain buffered file, used for the header and
// metadata files where the final write isn't page-aligned.
type BouncedDiskFile struct {
	f *os.File
}

// OpenBounced opens path for ordinary buffered I/O.
func OpenBounced(path string) (*BouncedDiskFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("diskfile: open bounced %s: %w", path, err)
	}
	return &BouncedDiskFile{f: f}, nil
}

// Rewind resets the cursor to the start of the file.
func (b *BouncedDiskFile) Rewind() error {
	_, err := b.f.Seek(0, 0)
	if err != nil {
		return fmt.Errorf("diskfile: rewind bounced: %w", err)
	}
	return nil
}

// Write writes p sequentially from the file's current position. Unlike
// DiskFile, there's no alignment requirement to enforce, so this just
// delegates to the underlying *os.File.
func (b *BouncedDiskFile) Write(p []byte) (int, error) {
	n, err := b.f.Write(p)
	if err != nil {
		return n, fmt.Errorf("diskfile: write bounced: %w", err)
	}
	return n, nil
}

// File exposes the underlying *os.File for callers (e.g.
// hibertypes.Metadata.WriteTo/ReadFrom) that just need an io.Writer/io.Reader.
func (b *BouncedDiskFile) File() *os.File { return b.f }

// Close closes the underlying file.
func (b *BouncedDiskFile) Close() error { return b.f.Close() }
