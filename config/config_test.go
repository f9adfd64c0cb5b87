package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Tool.Name != "memwatch" {
		t.Errorf("Expected Tool.Name=memwatch, got %s", cfg.Tool.Name)
	}
	if cfg.Tool.Verbosity != 0 {
		t.Errorf("Expected Tool.Verbosity=0, got %d", cfg.Tool.Verbosity)
	}

	if cfg.Errors.Limit != 1000 {
		t.Errorf("Expected Errors.Limit=1000, got %d", cfg.Errors.Limit)
	}
	if cfg.Errors.HardLimit != 10000 {
		t.Errorf("Expected Errors.HardLimit=10000, got %d", cfg.Errors.HardLimit)
	}

	if cfg.LeakCheck.Enabled {
		t.Error("Expected LeakCheck.Enabled=false")
	}
	if cfg.LeakCheck.Resolution != "low" {
		t.Errorf("Expected LeakCheck.Resolution=low, got %s", cfg.LeakCheck.Resolution)
	}
	if cfg.LeakCheck.FreelistVolume != 20*1024*1024 {
		t.Errorf("Expected LeakCheck.FreelistVolume=20MiB, got %d", cfg.LeakCheck.FreelistVolume)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Expected Logging.Level=info, got %s", cfg.Logging.Level)
	}
}

func TestGetConfigPath(t *testing.T) {
	path := GetConfigPath()

	if path == "" {
		t.Error("GetConfigPath returned empty string")
	}
	if filepath.Base(path) != "config.toml" {
		t.Errorf("Expected path to end with config.toml, got %s", path)
	}

	switch runtime.GOOS {
	case "windows":
		if !filepath.IsAbs(path) && path != "shadowcheck.toml" {
			t.Errorf("Expected absolute path on Windows, got %s", path)
		}

	case "darwin", "linux":
		dir := filepath.Dir(path)
		if filepath.Base(dir) != "shadowcheck" && path != "shadowcheck.toml" {
			t.Errorf("Expected path in shadowcheck directory or fallback, got %s", path)
		}
	}
}

func TestGetLogPath(t *testing.T) {
	path := GetLogPath()

	if path == "" {
		t.Error("GetLogPath returned empty string")
	}

	switch runtime.GOOS {
	case "windows":
		if !filepath.IsAbs(path) && path != "logs" {
			t.Errorf("Expected absolute path on Windows, got %s", path)
		}

	case "darwin", "linux":
		if filepath.Base(path) != "logs" {
			t.Errorf("Expected path to end with logs, got %s", path)
		}
	}
}

func TestSaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "test_config.toml")

	cfg := DefaultConfig()
	cfg.Tool.Name = "none"
	cfg.Errors.Limit = 50
	cfg.LeakCheck.Enabled = true
	cfg.LeakCheck.Resolution = "high"
	cfg.Suppressions.Files = []string{"project.supp"}

	if err := cfg.SaveTo(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created")
	}

	loaded, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Tool.Name != "none" {
		t.Errorf("Expected Tool.Name=none, got %s", loaded.Tool.Name)
	}
	if loaded.Errors.Limit != 50 {
		t.Errorf("Expected Errors.Limit=50, got %d", loaded.Errors.Limit)
	}
	if !loaded.LeakCheck.Enabled {
		t.Error("Expected LeakCheck.Enabled=true")
	}
	if loaded.LeakCheck.Resolution != "high" {
		t.Errorf("Expected LeakCheck.Resolution=high, got %s", loaded.LeakCheck.Resolution)
	}
	if len(loaded.Suppressions.Files) != 1 || loaded.Suppressions.Files[0] != "project.supp" {
		t.Errorf("Expected Suppressions.Files=[project.supp], got %v", loaded.Suppressions.Files)
	}
}

func TestLoadNonExistent(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nonexistent.toml")

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom should not error on non-existent file: %v", err)
	}

	if cfg.Errors.Limit != 1000 {
		t.Error("Expected default config when file doesn't exist")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "invalid.toml")

	invalidTOML := `
[errors]
limit = "not a number"  # Invalid: should be int
`
	if err := os.WriteFile(configPath, []byte(invalidTOML), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	_, err := LoadFrom(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid TOML")
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "subdir1", "subdir2", "config.toml")

	cfg := DefaultConfig()
	if err := cfg.SaveTo(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	dir := filepath.Dir(configPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Error("Parent directories were not created")
	}
}
