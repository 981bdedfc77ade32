package app

import (
	"os"
	"path/filepath"
	"testing"

	"backup-suite/internal/config"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("BSUITE_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("BSUITE_HOME", "/custom/bsuite")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		want := map[string]string{
			"config_path": "/custom/config.toml",
			"base_dir":    "/custom/bsuite",
			"log_dir":     "/custom/bsuite/log",
			"summary_dir": "/custom/bsuite/summaries",
		}
		for k, v := range want {
			if defaults[k] != v {
				t.Errorf("%s = %q, want %q", k, defaults[k], v)
			}
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("BSUITE_CONFIG_PATH", "")
		t.Setenv("BSUITE_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "bsuite.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "bsuite")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}
	})
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bsuite.toml")
	t.Setenv("BSUITE_CONFIG_PATH", path)
	t.Setenv("BSUITE_HOME", filepath.Join(dir, "home"))

	if _, _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() with no file succeeded")
	}

	cfg := config.NewConfig("")
	cfg.LogDir = ""
	cfg.SummaryDir = ""
	if err := config.Init(path, cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	got, gotPath, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if gotPath != path {
		t.Errorf("path = %q, want %q", gotPath, path)
	}
	if want := filepath.Join(dir, "home", "summaries"); got.SummaryDir != want {
		t.Errorf("SummaryDir = %q, want %q", got.SummaryDir, want)
	}
}
