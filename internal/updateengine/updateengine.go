// Package updateengine probes whether ChromeOS's update_engine daemon is
// idle, which the Conductor must confirm before freezing userspace: if an
// update is pending a reboot into the other rootfs slot, hibernating would
// resume back into a stale slot's image.
package updateengine

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// Prober reports whether update_engine is idle.
type Prober interface {
	IsIdle() (bool, error)
}

// CLIProber shells out to update_engine_client, the same tool operators
// use interactively, rather than speaking D-Bus directly.
type CLIProber struct {
	// Path to the update_engine_client binary; overridable for tests.
	Path string
}

// NewCLIProber returns a Prober that shells out to update_engine_client.
func NewCLIProber() *CLIProber {
	return &CLIProber{Path: "update_engine_client"}
}

// IsIdle reports true only when update_engine's current operation is
// exactly "UPDATE_STATUS_IDLE".
func (p *CLIProber) IsIdle() (bool, error) {
	cmd := exec.Command(p.Path, "--status")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("updateengine: run %s --status: %w", p.Path, err)
	}
	return parseStatus(out.String()) == "UPDATE_STATUS_IDLE", nil
}

// parseStatus extracts the CURRENT_OP= value from update_engine_client's
// key=value status output.
func parseStatus(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "CURRENT_OP="); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
