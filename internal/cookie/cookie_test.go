package cookie

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tuqiao/hiberman/internal/hibertypes"
)

func TestSetAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stateful-block")
	// Simulate a raw block device as a preallocated flat file.
	if err := os.WriteFile(path, make([]byte, Offset+Size), 0644); err != nil {
		t.Fatalf("seed device file: %v", err)
	}

	w := NewWriter(path)

	got, err := w.Get()
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != hibertypes.NoResume {
		t.Fatalf("expected zero-filled cookie to read NoResume, got %v", got)
	}

	if err := w.Set(hibertypes.ResumeReady); err != nil {
		t.Fatalf("Set(ResumeReady) error: %v", err)
	}
	got, err = w.Get()
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != hibertypes.ResumeReady {
		t.Fatalf("expected ResumeReady, got %v", got)
	}

	if err := w.Set(hibertypes.NoResume); err != nil {
		t.Fatalf("Set(NoResume) error: %v", err)
	}
	got, err = w.Get()
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != hibertypes.NoResume {
		t.Fatalf("expected NoResume after clear, got %v", got)
	}
}
