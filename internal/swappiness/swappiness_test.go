package swappiness

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetAndRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swappiness")
	if err := os.WriteFile(path, []byte("60\n"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	g, err := Set(path)
	if err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	v, err := read(path)
	if err != nil || v != SuspendValue {
		t.Fatalf("expected swappiness %d after Set, got %d (err=%v)", SuspendValue, v, err)
	}

	if err := g.Restore(); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	v, err = read(path)
	if err != nil || v != 60 {
		t.Fatalf("expected swappiness restored to 60, got %d (err=%v)", v, err)
	}

	// Restore is idempotent.
	if err := g.Restore(); err != nil {
		t.Fatalf("second Restore() error: %v", err)
	}
}
