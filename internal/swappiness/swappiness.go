// Package swappiness temporarily raises kernel swap aggressiveness so the
// snapshot ioctl has an easier time reclaiming anonymous pages.
package swappiness

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SysctlPath is the proc file backing vm.swappiness.
const SysctlPath = "/proc/sys/vm/swappiness"

// SuspendValue is the swappiness value set during hibernation.
const SuspendValue = 100

// Guard is a scoped handle over the swappiness sysctl: constructing it
// raises swappiness to SuspendValue, and Restore (which must run on every
// exit path, including error paths) puts the prior value back.
type Guard struct {
	path     string
	original int
}

// Set reads the current swappiness value, raises it to SuspendValue, and
// returns a Guard whose Restore puts the original value back.
func Set(path string) (*Guard, error) {
	if path == "" {
		path = SysctlPath
	}
	original, err := read(path)
	if err != nil {
		return nil, fmt.Errorf("read swappiness: %w", err)
	}
	if err := write(path, SuspendValue); err != nil {
		return nil, fmt.Errorf("set swappiness to %d: %w", SuspendValue, err)
	}
	return &Guard{path: path, original: original}, nil
}

// Restore writes the original swappiness value back. Safe to call more than
// once; only the first call has effect.
func (g *Guard) Restore() error {
	if g == nil || g.path == "" {
		return nil
	}
	path := g.path
	g.path = ""
	if err := write(path, g.original); err != nil {
		return fmt.Errorf("restore swappiness to %d: %w", g.original, err)
	}
	return nil
}

func read(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

func write(path string, v int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(v)), 0644)
}
