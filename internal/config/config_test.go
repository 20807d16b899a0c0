package config

import (
	"path/filepath"
	"testing"
)

func TestLoadReturnsDefaultsWhenNoFileExists(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if *cfg != *want {
		t.Fatalf("Load() = %+v, want defaults %+v", cfg, want)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.CacheTotalBytes = 128 << 20
	cfg.CleanupAgeDays = 7

	if err := Save(root, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.CacheTotalBytes != cfg.CacheTotalBytes || got.CleanupAgeDays != cfg.CleanupAgeDays {
		t.Fatalf("Load() = %+v, want %+v", got, cfg)
	}
}

func TestLoadMergesDefaultsForZeroFields(t *testing.T) {
	root := t.TempDir()
	if err := Save(root, &Config{AutoCleanup: true}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defaults := Default()
	if got.CacheTotalBytes != defaults.CacheTotalBytes {
		t.Fatalf("CacheTotalBytes = %d, want default %d", got.CacheTotalBytes, defaults.CacheTotalBytes)
	}
	if got.PermanentFraction != defaults.PermanentFraction {
		t.Fatalf("PermanentFraction = %v, want default %v", got.PermanentFraction, defaults.PermanentFraction)
	}
}

func TestValidateRejectsBadFraction(t *testing.T) {
	cfg := Default()
	cfg.PermanentFraction = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range PermanentFraction")
	}
}

func TestValidateRejectsNonPositiveCacheBudget(t *testing.T) {
	cfg := Default()
	cfg.CacheTotalBytes = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive CacheTotalBytes")
	}
}

func TestValidateRejectsZeroWorkers(t *testing.T) {
	cfg := Default()
	cfg.ConversionWorkers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero ConversionWorkers")
	}
}

func TestConfigPathUnderRoot(t *testing.T) {
	root := "/tmp/store"
	want := filepath.Join(root, "config.json")
	if got := ConfigPath(root); got != want {
		t.Fatalf("ConfigPath = %q, want %q", got, want)
	}
}
