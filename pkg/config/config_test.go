package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XLN_TICK_MS", "")
	t.Setenv("XLN_STORAGE_TYPE", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TickMS != 100 {
		t.Fatalf("expected default tick_ms 100, got %d", cfg.TickMS)
	}
	if cfg.StorageType != "memory" {
		t.Fatalf("expected default storage_type memory, got %q", cfg.StorageType)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("XLN_TICK_MS", "250")
	t.Setenv("XLN_STORAGE_TYPE", "leveldb")
	t.Setenv("XLN_STORAGE_PATH", "/var/lib/xln")
	t.Setenv("XLN_ENABLE_METRICS", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TickMS != 250 {
		t.Fatalf("expected tick_ms 250, got %d", cfg.TickMS)
	}
	if cfg.StorageType != "leveldb" {
		t.Fatalf("expected storage_type leveldb, got %q", cfg.StorageType)
	}
	if cfg.StoragePath != "/var/lib/xln" {
		t.Fatalf("expected storage_path override, got %q", cfg.StoragePath)
	}
	if !cfg.EnableMetrics {
		t.Fatal("expected enable_metrics true")
	}
}
