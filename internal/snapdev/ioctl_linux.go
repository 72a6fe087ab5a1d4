//go:build linux

package snapdev

// Ioctl numbers for /dev/snapshot, matching the kernel's
// include/uapi/linux/suspend_ioctls.h encoding (magic '3').
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	snapshotMagic = '3'
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNrShift) | (size << iocSizeShift)
}

func ioW(nr, size uintptr) uintptr  { return ioc(iocWrite, snapshotMagic, nr, size) }
func ioR(nr, size uintptr) uintptr  { return ioc(iocRead, snapshotMagic, nr, size) }
func ioWR(nr, size uintptr) uintptr { return ioc(iocWrite|iocRead, snapshotMagic, nr, size) }
func ioIO(nr uintptr) uintptr       { return ioc(iocNone, snapshotMagic, nr, 0) }

var (
	// SNAPSHOT_FREEZE halts all userspace tasks except the caller.
	iocFreeze = ioIO(1)
	// SNAPSHOT_UNFREEZE thaws userspace (used by the frozen-userspace guard).
	iocUnfreeze = ioIO(2)
	// SNAPSHOT_CREATE_IMAGE takes the atomic snapshot. The int argument is
	// the "platform mode" flag on entry; on return it is overwritten with 1
	// if execution continues in the original (suspending) kernel, 0 if this
	// is the resumed kernel.
	iocCreateImage = ioW(17, 4)
	// SNAPSHOT_GET_IMAGE_SIZE reads the size in bytes of the just-created image.
	iocGetImageSize = ioR(14, 8)
)
