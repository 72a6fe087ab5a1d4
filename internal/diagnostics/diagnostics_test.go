package diagnostics

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBundleAndExtractRoundTrip(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "suspend.log")
	if err := os.WriteFile(logPath, []byte("hello from suspend\n"), 0644); err != nil {
		t.Fatalf("seed log file: %v", err)
	}

	archivePath := filepath.Join(dir, "bundle.tar.zst")
	files := map[string]string{
		"suspend.log": logPath,
		"resume.log":  filepath.Join(dir, "missing-resume.log"), // intentionally absent
	}
	if err := Bundle(archivePath, files); err != nil {
		t.Fatalf("Bundle() error: %v", err)
	}

	destDir := filepath.Join(dir, "extracted")
	if err := Extract(archivePath, destDir); err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(destDir, "suspend.log"))
	if err != nil {
		t.Fatalf("read extracted suspend.log: %v", err)
	}
	if string(got) != "hello from suspend\n" {
		t.Fatalf("unexpected content: %q", got)
	}

	if _, err := os.Stat(filepath.Join(destDir, "resume.log")); !os.IsNotExist(err) {
		t.Fatalf("expected missing resume.log to be skipped, stat err=%v", err)
	}
}
