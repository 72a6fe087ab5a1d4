package logrouter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSinkWriteAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suspend.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()

	sink := NewFileSink(path, f)
	sink.SetAllowRecursive(false)

	ToFile(sink)
	Printf("hello %d", 1)
	Printf("world")
	ToMemory()

	data, err := ReplayFile(path)
	if err != nil {
		t.Fatalf("ReplayFile() error: %v", err)
	}
	if !strings.Contains(string(data), "hello 1") || !strings.Contains(string(data), "world") {
		t.Fatalf("expected replayed data to contain both records, got %q", data)
	}
}

func TestResetReturnsToKnownState(t *testing.T) {
	ToMemory()
	if Current() != KindMemory {
		t.Fatalf("expected KindMemory, got %v", Current())
	}
	Reset()
	if Current() != KindSyslog && Current() != KindMemory {
		t.Fatalf("expected Reset to land on syslog or its memory fallback, got %v", Current())
	}
}

func TestReplayLogsTagsResumeRecords(t *testing.T) {
	dir := t.TempDir()
	suspendPath := filepath.Join(dir, "suspend.log")
	resumePath := filepath.Join(dir, "resume.log")

	sf, _ := os.OpenFile(suspendPath, os.O_RDWR|os.O_CREATE, 0644)
	defer sf.Close()
	rf, _ := os.OpenFile(resumePath, os.O_RDWR|os.O_CREATE, 0644)
	defer rf.Close()

	suspendSink := NewFileSink(suspendPath, sf)
	ToFile(suspendSink)
	Printf("suspend record")

	resumeSink := NewFileSink(resumePath, rf)
	ToFile(resumeSink)
	Printf("resume record")

	ToMemory()
	// ReplayLogs logs through the active sink (memory); only the resume
	// log's records carry the post-resume tag, and the files remain
	// readable directly afterwards.
	ReplayLogs(suspendPath, resumePath, true, true)

	replayed := mem.String()
	if !strings.Contains(replayed, "replayed resume log (post-resume)") {
		t.Fatalf("expected resume records tagged post-resume, got %q", replayed)
	}
	if strings.Contains(replayed, "replayed suspend log (post-resume)") {
		t.Fatalf("expected suspend records left untagged, got %q", replayed)
	}

	data, err := ReplayFile(suspendPath)
	if err != nil || !strings.Contains(string(data), "suspend record") {
		t.Fatalf("expected suspend record, got %q (err=%v)", data, err)
	}
}
