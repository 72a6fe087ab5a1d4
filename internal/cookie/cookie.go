// Package cookie writes the single well-known hibernate cookie value to a
// fixed offset of the raw stateful block device. Early boot, before the
// root filesystem is mounted, reads this offset to decide whether to enter
// the resume path — so the write must be synchronous and must not depend
// on any filesystem.
package cookie

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/tuqiao/hiberman/internal/hibertypes"
)

// Offset is the fixed byte offset into the stateful block device where the
// cookie lives. A single 4KB sector write at this offset is assumed atomic
// at the device level.
const Offset = 1 << 20 // 1MiB in, well clear of any partition table/superblock

// Size is the number of bytes written for the cookie value.
const Size = 4096

// Writer writes cookie values to a raw block device path.
type Writer struct {
	devicePath string
}

// NewWriter returns a Writer bound to the given raw block device path.
func NewWriter(devicePath string) *Writer {
	return &Writer{devicePath: devicePath}
}

// Set writes value at Offset synchronously: the device is opened O_SYNC,
// so WriteAt returns only after the data has reached the device.
func (w *Writer) Set(value hibertypes.Cookie) error {
	f, err := os.OpenFile(w.devicePath, os.O_WRONLY|os.O_SYNC, 0)
	if err != nil {
		return fmt.Errorf("open stateful block device %s: %w", w.devicePath, err)
	}
	defer f.Close()

	buf := make([]byte, Size)
	binary.LittleEndian.PutUint32(buf, uint32(value))

	if _, err := f.WriteAt(buf, Offset); err != nil {
		return fmt.Errorf("write cookie %s at offset %d: %w", value, Offset, err)
	}
	return nil
}

// Get reads back the cookie value currently on disk — used by tests and by
// diagnostics, never by the suspend path itself (early boot does the real
// read before this code runs).
func (w *Writer) Get() (hibertypes.Cookie, error) {
	f, err := os.Open(w.devicePath)
	if err != nil {
		return 0, fmt.Errorf("open stateful block device %s: %w", w.devicePath, err)
	}
	defer f.Close()

	buf := make([]byte, 4)
	if _, err := f.ReadAt(buf, Offset); err != nil {
		return 0, fmt.Errorf("read cookie at offset %d: %w", Offset, err)
	}
	return hibertypes.Cookie(binary.LittleEndian.Uint32(buf)), nil
}
