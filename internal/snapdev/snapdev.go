// Package snapdev adapts the kernel's userspace snapshot device
// (/dev/snapshot) to a small Go interface: open it for reading, freeze
// userspace, take the atomic snapshot at the fork-point, and stream the
// resulting image.
package snapdev

import (
	"fmt"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultPath is the well-known device node for the kernel snapshot driver.
const DefaultPath = "/dev/snapshot"

// Device is the real, ioctl-backed snapshot device handle. It implements
// io.Reader so the image mover can stream directly from it.
type Device struct {
	f *os.File
}

// Open opens the snapshot device in read mode, as required before issuing
// FREEZE_USERSPACE.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open snapshot device %s: %w", path, err)
	}
	return &Device{f: f}, nil
}

// Read streams the image bytes once a snapshot exists.
func (d *Device) Read(p []byte) (int, error) { return d.f.Read(p) }

// Close releases the device handle.
func (d *Device) Close() error {
	if d.f == nil {
		return nil
	}
	return d.f.Close()
}

func (d *Device) ioctl(req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// FreezeUserspace halts all userspace tasks except the caller and returns a
// scoped ticket. The only sanctioned way to thaw userspace again is to
// Release the ticket.
func (d *Device) FreezeUserspace() (*FrozenUserspaceTicket, error) {
	if err := d.ioctl(uintptr(iocFreeze), 0); err != nil {
		return nil, fmt.Errorf("SNAPSHOT_FREEZE: %w", err)
	}
	return &FrozenUserspaceTicket{dev: d}, nil
}

// FrozenUserspaceTicket represents "userspace is frozen". Its Release is the
// only sanctioned way to thaw userspace; the Conductor holds it across the
// fork-point.
type FrozenUserspaceTicket struct {
	dev      *Device
	released bool
}

// AtomicSnapshot issues the fork-point ioctl. Its return value is ternary:
// (true, nil) means this is the original kernel and a snapshot image now
// exists and is readable from the device; (false, nil) means the kernel has
// been restored and this is the resume path; a non-nil error means the
// ioctl failed and no snapshot exists.
func (t *FrozenUserspaceTicket) AtomicSnapshot() (bool, error) {
	var platformMode int32 = 0
	if err := t.dev.ioctl(uintptr(iocCreateImage), uintptr(unsafe.Pointer(&platformMode))); err != nil {
		return false, fmt.Errorf("SNAPSHOT_CREATE_IMAGE: %w", err)
	}
	return platformMode != 0, nil
}

// GetImageSize reads the size in bytes of the image just created by
// AtomicSnapshot. Only valid on the suspend path.
func (t *FrozenUserspaceTicket) GetImageSize() (int64, error) {
	var size int64
	if err := t.dev.ioctl(uintptr(iocGetImageSize), uintptr(unsafe.Pointer(&size))); err != nil {
		return 0, fmt.Errorf("SNAPSHOT_GET_IMAGE_SIZE: %w", err)
	}
	return size, nil
}

// Reader exposes the snapshot device as a stream once a snapshot exists.
func (t *FrozenUserspaceTicket) Reader() io.Reader { return t.dev }

// Release thaws userspace. It is idempotent and safe to call via defer on
// every exit path, including panics.
func (t *FrozenUserspaceTicket) Release() error {
	if t.released {
		return nil
	}
	t.released = true
	if err := t.dev.ioctl(uintptr(iocUnfreeze), 0); err != nil {
		return fmt.Errorf("SNAPSHOT_UNFREEZE: %w", err)
	}
	return nil
}
