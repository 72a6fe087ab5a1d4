package memlock

import "testing"

func TestPreallocateAndTouch(t *testing.T) {
	buf := PreallocateAndTouch(1 << 20)
	if len(buf) != 1<<20 {
		t.Fatalf("expected buffer of size %d, got %d", 1<<20, len(buf))
	}
}

func TestLockReleaseIdempotent(t *testing.T) {
	g, err := Lock()
	if err != nil {
		t.Skipf("mlockall unavailable in this environment: %v", err)
	}
	if err := g.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if err := g.Release(); err != nil {
		t.Fatalf("second Release() error: %v", err)
	}
}
