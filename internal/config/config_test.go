package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("HIBERMAN_DEVICE_ID")
	os.Unsetenv("HIBERMAN_STATEFUL_PATH")
	os.Unsetenv("HIBERMAN_PAGE_SIZE")
	os.Unsetenv("HIBERMAN_DIRECT_IO")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.DeviceID != "unknown-device" {
		t.Errorf("expected default device id, got %s", cfg.DeviceID)
	}
	if cfg.StatefulPath != "/mnt/stateful_partition" {
		t.Errorf("expected default stateful path, got %s", cfg.StatefulPath)
	}
	if cfg.PageSize != 4096 {
		t.Errorf("expected default page size 4096, got %d", cfg.PageSize)
	}
	if !cfg.DirectIO {
		t.Errorf("expected direct IO to default true")
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("HIBERMAN_DEVICE_ID", "device-42")
	os.Setenv("HIBERMAN_PAGE_SIZE", "8192")
	os.Setenv("HIBERMAN_DIRECT_IO", "false")
	defer func() {
		os.Unsetenv("HIBERMAN_DEVICE_ID")
		os.Unsetenv("HIBERMAN_PAGE_SIZE")
		os.Unsetenv("HIBERMAN_DIRECT_IO")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.DeviceID != "device-42" {
		t.Errorf("expected device id device-42, got %s", cfg.DeviceID)
	}
	if cfg.PageSize != 8192 {
		t.Errorf("expected page size 8192, got %d", cfg.PageSize)
	}
	if cfg.DirectIO {
		t.Errorf("expected direct IO false")
	}
}

func TestLoadInvalidPageSizeFallsBackToDefault(t *testing.T) {
	os.Setenv("HIBERMAN_PAGE_SIZE", "not-a-number")
	defer os.Unsetenv("HIBERMAN_PAGE_SIZE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.PageSize != 4096 {
		t.Errorf("expected an unparsable page size to fall back to 4096, got %d", cfg.PageSize)
	}
}
