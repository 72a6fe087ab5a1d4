package snapdev

import "io"

// Ticket is the interface the Conductor depends on for the frozen-userspace
// guard. The real implementation issues ioctls; tests substitute a fake.
type Ticket interface {
	AtomicSnapshot() (bool, error)
	GetImageSize() (int64, error)
	Reader() io.Reader
	Release() error
}

// SnapshotDevice is the interface the Conductor depends on for the kernel
// snapshot device. Upper layers depend on this, not *Device, so the
// Conductor can be tested against a fake without a real kernel driver.
type SnapshotDevice interface {
	FreezeUserspace() (Ticket, error)
	Close() error
}

// deviceAdapter satisfies SnapshotDevice by wrapping *Device, whose
// FreezeUserspace returns a *FrozenUserspaceTicket rather than the Ticket
// interface.
type deviceAdapter struct{ *Device }

func (d deviceAdapter) FreezeUserspace() (Ticket, error) { return d.Device.FreezeUserspace() }

// OpenDevice opens the real snapshot device and returns it as a SnapshotDevice.
func OpenDevice(path string) (SnapshotDevice, error) {
	d, err := Open(path)
	if err != nil {
		return nil, err
	}
	return deviceAdapter{d}, nil
}

var _ Ticket = (*FrozenUserspaceTicket)(nil)
