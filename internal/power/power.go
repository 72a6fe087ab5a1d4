// Package power issues the final, unreachable-on-success power-off syscall.
package power

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Off immediately powers the system off, with no filesystem sync (sync
// happens earlier, in the Conductor's own phase sequence). On success this
// call does not return. Any return — including the nil-error case, which
// cannot happen on a system that actually powered off — is treated by the
// caller as a Shutdown failure.
func Off() error {
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF); err != nil {
		return fmt.Errorf("reboot(RB_POWER_OFF): %w", err)
	}
	return fmt.Errorf("reboot(RB_POWER_OFF) returned without powering off")
}
