// Package daemon manages the Quill daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	API       APIConfig       `toml:"api"`
	Sweep     SweepConfig     `toml:"sweep"`
	Economy   EconomyConfig   `toml:"economy"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// SweepConfig controls the nightly reconciliation job.
type SweepConfig struct {
	// Secret authorizes the /internal/sweep trigger. Empty disables the
	// sweep entirely.
	Secret       string `toml:"secret"`
	Workers      int    `toml:"workers"`
	LookbackDays int    `toml:"lookback_days"`
}

// EconomyConfig sets the deployment defaults applied to users without an
// explicit profile row.
type EconomyConfig struct {
	Timezone         string `toml:"timezone"`
	MinStreakMinutes int    `toml:"min_streak_minutes"`
	MaxFreezes       int    `toml:"max_freezes"`
	FreezeCostXP     int64  `toml:"freeze_cost_xp"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// TelemetryConfig controls observability endpoints.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := quillHome()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8642,
		},
		Sweep: SweepConfig{
			Workers:      8,
			LookbackDays: 30,
		},
		Economy: EconomyConfig{
			Timezone:         "UTC",
			MinStreakMinutes: 25,
			MaxFreezes:       5,
			FreezeCostXP:     50,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, "quill.log"),
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads config from ~/.quill/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(quillHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet — use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the config to ~/.quill/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(quillHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// quillHome returns the Quill data directory.
func quillHome() string {
	if env := os.Getenv("QUILL_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".quill")
}

// QuillHome is exported for use by other packages.
func QuillHome() string {
	return quillHome()
}
