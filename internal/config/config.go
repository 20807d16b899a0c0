// Package config holds the tile pyramid engine's persistent configuration
// (spec §6) and the directory-root resolution rules for the on-disk tile
// store. The load/save/merge-with-defaults shape follows the teacher's
// settings.go almost directly; the field list is replaced with the
// engine's enumerated configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appDirName = "tilepyramid"

// Config is the engine's persistent configuration (spec §6).
type Config struct {
	CacheTotalBytes     int64   `json:"cacheTotalBytes"`
	PermanentFraction   float64 `json:"permanentFraction"`
	AutoCleanup         bool    `json:"autoCleanup"`
	CleanupAgeDays      int     `json:"cleanupAgeDays"`
	CleanupOnShutdown   bool    `json:"cleanupOnShutdown"`
	CollectCleanupStats bool    `json:"collectCleanupStats"`
	ConversionWorkers   int     `json:"conversionWorkers"`
}

// Default returns the spec-mandated defaults.
func Default() *Config {
	return &Config{
		CacheTotalBytes:     256 * 1024 * 1024,
		PermanentFraction:   0.8,
		AutoCleanup:         true,
		CleanupAgeDays:      3,
		CleanupOnShutdown:   true,
		CollectCleanupStats: false,
		ConversionWorkers:   defaultConversionWorkers(),
	}
}

func defaultConversionWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}

// Validate checks the invariants spec §6 implies (a fraction, a positive
// budget, at least one worker, a non-negative cleanup age).
func (c *Config) Validate() error {
	if c.PermanentFraction <= 0 || c.PermanentFraction >= 1 {
		return fmt.Errorf("permanentFraction must be in (0,1), got %f", c.PermanentFraction)
	}
	if c.CacheTotalBytes <= 0 {
		return fmt.Errorf("cacheTotalBytes must be positive, got %d", c.CacheTotalBytes)
	}
	if c.ConversionWorkers < 1 {
		return fmt.Errorf("conversionWorkers must be >= 1, got %d", c.ConversionWorkers)
	}
	if c.CleanupAgeDays < 0 {
		return fmt.Errorf("cleanupAgeDays must be >= 0, got %d", c.CleanupAgeDays)
	}
	return nil
}

// Root returns the OS-specific tile store root: $HOME/.<app>/tilestore on
// Unix, %APPDATA%\<app>\tilestore on Windows (spec §6). It can always be
// overridden per session by callers that just want a directory of their
// own choosing (tests, alternate profiles) instead of calling Root.
func Root() string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, _ := os.UserHomeDir()
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, appDirName, "tilestore")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+appDirName, "tilestore")
}

// ConfigPath returns where Config is persisted, alongside the tile store
// root it governs.
func ConfigPath(root string) string {
	return filepath.Join(root, "config.json")
}

// Load reads Config from root, merging in defaults for any zero-valued
// numeric field (boolean fields are taken as stored), or returns Default()
// if no config file exists yet.
func Load(root string) (*Config, error) {
	path := ConfigPath(root)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	defaults := Default()
	if cfg.CacheTotalBytes == 0 {
		cfg.CacheTotalBytes = defaults.CacheTotalBytes
	}
	if cfg.PermanentFraction == 0 {
		cfg.PermanentFraction = defaults.PermanentFraction
	}
	if cfg.CleanupAgeDays == 0 {
		cfg.CleanupAgeDays = defaults.CleanupAgeDays
	}
	if cfg.ConversionWorkers == 0 {
		cfg.ConversionWorkers = defaults.ConversionWorkers
	}

	return &cfg, nil
}

// Save persists cfg under root, creating the directory if needed.
func Save(root string, cfg *Config) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create tile store root: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(ConfigPath(root), data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
