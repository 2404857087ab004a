package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfig returns a minimal default Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{Path: "~/.morsel/store.db"},
		Pacing: PacingConfig{
			MinDelaySeconds:      8,
			MaxDelaySeconds:      20,
			AfterMessageCount:    30,
			PauseDurationMinutes: 10,
			TimingMode:           "auto",
		},
		Session: SessionConfig{
			DeviceStorePath: "~/.morsel/sessions.db",
			DefaultBrowser:  "chrome",
			SendsPerMinute:  20,
		},
	}
}

// SaveConfig writes cfg to path, creating parent directories as needed.
func SaveConfig(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o640)
}

// LoadConfig reads and parses the config at path.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveDefaultPaths returns the default config and sqlite store paths
// under the user's home directory.
func ResolveDefaultPaths() (cfgPath, storePath string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", err
	}
	cfgPath = filepath.Join(home, ".morsel", "config.json")
	storePath = filepath.Join(home, ".morsel", "store.db")
	return cfgPath, storePath, nil
}

// ExpandHome expands a leading "~/" in path against the user's home
// directory.
func ExpandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Onboard writes a default config to the user's home directory, returning
// the paths it wrote.
func Onboard() (cfgPath string, storePath string, err error) {
	cfgPath, storePath, err = ResolveDefaultPaths()
	if err != nil {
		return "", "", err
	}
	cfg := DefaultConfig()
	cfg.Store.Path = storePath
	if err := SaveConfig(cfg, cfgPath); err != nil {
		return "", "", fmt.Errorf("config: saving default config: %w", err)
	}
	return cfgPath, storePath, nil
}
