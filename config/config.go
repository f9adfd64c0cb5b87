// Package config loads and saves the tool's run configuration: the options
// that would otherwise be a long flag list, kept in a TOML file so a
// project can pin its own suppressions and error-reporting posture.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config is the tool's run configuration.
type Config struct {
	// Tool selects which registered tool.Details runs this session.
	Tool struct {
		Name      string `toml:"name"`
		Verbosity int    `toml:"verbosity"`
	} `toml:"tool"`

	// Errors controls report.Recorder's caps and summary behaviour.
	Errors struct {
		Limit         int  `toml:"limit"`          // soft cap; 0 means teacher's default
		HardLimit     int  `toml:"hard_limit"`      // hard cap; 0 disables
		ExitCode      int  `toml:"exitcode"`        // process exit code when any error was recorded
		ShowBelowMain bool `toml:"show_below_main"` // include frames below program entry in reports
	} `toml:"errors"`

	// LeakCheck controls DoLeakCheck's behaviour.
	LeakCheck struct {
		Enabled        bool   `toml:"enabled"`
		Resolution     string `toml:"resolution"` // low, med, high
		ShowReachable  bool   `toml:"show_reachable"`
		FreelistVolume uint   `toml:"freelist_volume"` // bytes kept on the free-like quarantine list
	} `toml:"leak_check"`

	// Suppressions lists suppression files applied at startup, and whether
	// unmatched-but-suppressible errors should be emitted in generatable
	// suppression form instead of their normal report text.
	Suppressions struct {
		Files           []string `toml:"files"`
		GenSuppressions bool     `toml:"gen_suppressions"`
	} `toml:"suppressions"`

	// Logging controls where diagnostic/report output is written.
	Logging struct {
		File  string `toml:"file"` // empty means stderr
		Level string `toml:"level"`
	} `toml:"logging"`

	// Database is the optional persistent store for cross-run error
	// history (db-attach in the §6 CLI surface).
	Database struct {
		Attach bool   `toml:"attach"`
		Path   string `toml:"path"`
	} `toml:"database"`
}

// DefaultConfig returns a configuration with the tool's built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Tool.Name = "memwatch"
	cfg.Tool.Verbosity = 0

	cfg.Errors.Limit = 1000
	cfg.Errors.HardLimit = 10000
	cfg.Errors.ExitCode = 0
	cfg.Errors.ShowBelowMain = false

	cfg.LeakCheck.Enabled = false
	cfg.LeakCheck.Resolution = "low"
	cfg.LeakCheck.ShowReachable = false
	cfg.LeakCheck.FreelistVolume = 20 * 1024 * 1024

	cfg.Suppressions.Files = nil
	cfg.Suppressions.GenSuppressions = false

	cfg.Logging.File = ""
	cfg.Logging.Level = "info"

	cfg.Database.Attach = false
	cfg.Database.Path = ""

	return cfg
}

// GetConfigPath returns the platform-specific config file path.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "shadowcheck")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "shadowcheck.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "shadowcheck")

	default:
		return "shadowcheck.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "shadowcheck.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// GetLogPath returns the platform-specific log directory path.
func GetLogPath() string {
	var logDir string

	switch runtime.GOOS {
	case "windows":
		logDir = os.Getenv("APPDATA")
		if logDir == "" {
			logDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		logDir = filepath.Join(logDir, "shadowcheck", "logs")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "logs"
		}
		logDir = filepath.Join(homeDir, ".local", "share", "shadowcheck", "logs")

	default:
		return "logs"
	}

	if err := os.MkdirAll(logDir, 0750); err != nil {
		return "logs"
	}

	return logDir
}

// Load loads configuration from the default config file.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from the specified file, falling back to
// defaults if the file does not exist.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to the specified file.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
