package hibertypes

import "fmt"

// Kind identifies one of the fatal error categories the Conductor can
// return from Hibernate. Soft warnings (metrics-flush failure, log-attempt
// logging failure, cookie-clear failure on the resume side) are never
// represented here — they are logged with context and swallowed.
type Kind string

const (
	KindUpdateEngineBusy Kind = "update_engine_busy"
	KindPreallocation    Kind = "preallocation"
	KindMemoryLock       Kind = "memory_lock"
	KindSwappiness       Kind = "swappiness"
	KindKeyLoad          Kind = "key_load"
	KindKeyDerive        Kind = "key_derive"
	KindSnapshot         Kind = "snapshot"
	KindIO               Kind = "io"
	KindShutdown         Kind = "shutdown"
)

// Error is a typed, wrapped error carrying one of the Kind values above.
// Use errors.As to recover the Kind from an error returned by Hibernate.
type Error struct {
	Kind Kind
	// Phase names the step that failed, e.g. "write_image", "freeze_userspace".
	Phase string
	Err   error
}

func (e *Error) Error() string {
	if e.Phase == "" {
		return fmt.Sprintf("hiberman: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("hiberman: %s (%s): %v", e.Kind, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds an *Error of the given kind and phase wrapping err.
func Wrap(kind Kind, phase string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Phase: phase, Err: err}
}

// SnapshotError additionally carries the ioctl name and errno-like detail.
type SnapshotError struct {
	Ioctl string
	Err   error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("hiberman: snapshot ioctl %s failed: %v", e.Ioctl, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// IOError carries the phase and the number of bytes successfully
// transferred before the failure.
type IOError struct {
	Phase     string
	BytesDone int64
	Err       error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("hiberman: io error during %s after %d bytes: %v", e.Phase, e.BytesDone, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ShutdownError carries the platform's last error code from a power-off
// syscall that returned (it should never return on success).
type ShutdownError struct {
	Errno int
	Err   error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("hiberman: power-off returned (errno %d): %v", e.Errno, e.Err)
}

func (e *ShutdownError) Unwrap() error { return e.Err }
