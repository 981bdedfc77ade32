package app

import (
	"fmt"
	"os"
	"path/filepath"

	"backup-suite/internal/config"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - BSUITE_CONFIG_PATH: config file location (default: ~/.config/bsuite.toml)
//   - BSUITE_HOME: base directory for bsuite data (default: ~/.local/share/bsuite)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"summary_dir": filepath.Join(baseDir, "summaries"),
	}, nil
}

// LoadConfig reads the config file at the default location and fills unset
// directories from the default base directory.
func LoadConfig() (*config.Config, string, error) {
	defaults, err := GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	path := defaults["config_path"]
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, path, err
	}
	cfg.ApplyDefaults(defaults["base_dir"])
	return cfg, path, nil
}

// getConfigPath returns the config file path, checking BSUITE_CONFIG_PATH first,
// then falling back to the default ~/.config/bsuite.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("BSUITE_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "bsuite.toml"), nil
}

// getBaseDir returns the base directory for bsuite data, checking BSUITE_HOME
// first, then falling back to the XDG default ~/.local/share/bsuite.
func getBaseDir() (string, error) {
	if path := os.Getenv("BSUITE_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "bsuite"), nil
}
