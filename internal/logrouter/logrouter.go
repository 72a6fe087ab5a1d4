// Package logrouter models the single active log sink the hibernate
// pipeline writes through: syslog while it's alive, a preallocated file
// while syslog would be frozen, and an in-memory ring once even the file
// can no longer be trusted to survive (post power-off). Exactly one sink is
// active at a time; switching sinks is atomic from the caller's
// perspective. This is intentionally process-wide mutable state — the
// kernel freezes the whole process, so there is exactly one Conductor
// attempt using it at once. Only records written through this package's
// Printf (and ReplayLogs) follow the active sink; the standard library's
// default logger, which the Conductor's own log.Printf calls use, is not
// redirected by ToFile or ToMemory.
package logrouter

import (
	"bytes"
	"fmt"
	"log"
	"log/syslog"
	"sync"
)

// Kind identifies which sink is currently active.
type Kind int

const (
	KindSyslog Kind = iota
	KindFile
	KindMemory
)

func (k Kind) String() string {
	switch k {
	case KindSyslog:
		return "syslog"
	case KindFile:
		return "file"
	case KindMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// memRingCap bounds the in-memory ring so a runaway attempt can't exhaust
// the pinned working set.
const memRingCap = 256 * 1024

// ringBuffer is the in-memory ring: once memRingCap would be exceeded, the
// oldest bytes are discarded to make room for the newest.
type ringBuffer struct{ bytes.Buffer }

func (r *ringBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n > memRingCap {
		p = p[n-memRingCap:]
	}
	if over := r.Len() + len(p) - memRingCap; over > 0 {
		r.Next(over)
	}
	r.Buffer.Write(p)
	return n, nil
}

var (
	mu      sync.Mutex
	kind    = KindSyslog
	logger  = log.New(discard{}, "", 0)
	sw      *syslog.Writer
	fs      *FileSink
	mem     = &ringBuffer{}
	swapErr error
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func init() {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, "hibermand")
	if err != nil {
		// syslogd unavailable (e.g. in tests); fall back to memory so the
		// process never panics just from logging.
		kind = KindMemory
		logger = log.New(mem, "", log.LstdFlags)
		swapErr = err
		return
	}
	sw = w
	logger = log.New(sw, "", 0)
}

// ToSyslog switches the active sink to syslog.
func ToSyslog() {
	mu.Lock()
	defer mu.Unlock()
	kind = KindSyslog
	if sw != nil {
		logger = log.New(sw, "", 0)
	}
}

// ToFile switches the active sink to a preallocated file sink. Per the
// recursion-guard policy, callers must have already set
// f.SetAllowRecursive(false) before calling ToFile, to avoid a
// log-during-write deadlock once syslogd is frozen.
func ToFile(f *FileSink) {
	mu.Lock()
	defer mu.Unlock()
	fs = f
	kind = KindFile
	logger = log.New(f, "", log.LstdFlags)
}

// ToMemory switches the active sink to the in-memory ring. Logs written
// here are lost at power-off, which is acceptable: anything still pending
// at that point would never have made it to disk anyway.
func ToMemory() {
	mu.Lock()
	defer mu.Unlock()
	kind = KindMemory
	logger = log.New(mem, "", log.LstdFlags)
}

// Reset discards stale routing state accumulated across a freeze. The sink
// installed pre-freeze is stale from the suspending kernel's point of view
// once control returns on the resume side.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	fs = nil
	mem.Reset()
	kind = KindSyslog
	if sw != nil {
		logger = log.New(sw, "", 0)
	} else {
		kind = KindMemory
		logger = log.New(mem, "", log.LstdFlags)
	}
}

// Current reports which sink is active right now.
func Current() Kind {
	mu.Lock()
	defer mu.Unlock()
	return kind
}

// Printf writes one record through the active sink.
func Printf(format string, args ...any) {
	mu.Lock()
	l := logger
	mu.Unlock()
	l.Printf(format, args...)
}

// FileSink is a preallocated log file. It tracks how many bytes have been
// written via an 8-byte little-endian length header at offset 0, so
// ReplayFile can recover exactly what was written even from a fresh
// process (the Conductor writes the suspend log file pre-freeze and
// replays it once the process continues post-resume).
type FileSink struct {
	mu             sync.Mutex
	path           string
	file           fileWriterAt
	allowRecursive bool
	written        int64
}

type fileWriterAt interface {
	WriteAt(p []byte, off int64) (int, error)
	Close() error
}

const fileHeaderSize = 8

// NewFileSink wraps an already-preallocated file for logging.
func NewFileSink(path string, f fileWriterAt) *FileSink {
	return &FileSink{path: path, file: f}
}

// SetAllowRecursive toggles whether a write failure against this sink may
// itself be logged. The Conductor sets this false for the suspend log file
// specifically to avoid a log-during-write deadlock once syslogd is frozen.
func (f *FileSink) SetAllowRecursive(allow bool) { f.allowRecursive = allow }

func (f *FileSink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.file.WriteAt(p, fileHeaderSize+f.written)
	f.written += int64(n)

	var hdr [fileHeaderSize]byte
	putUint64(hdr[:], uint64(f.written))
	if _, hErr := f.file.WriteAt(hdr[:], 0); hErr != nil && f.allowRecursive {
		Printf("logrouter: failed to update length header for %s: %v", f.path, hErr)
	}

	if err != nil {
		return n, fmt.Errorf("write log file %s: %w", f.path, err)
	}
	return n, nil
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
